package seaport

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
)

type spentItemABI struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
}

type receivedItemABI struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
	Recipient  common.Address
}

type offerItemABI struct {
	ItemType             uint8
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
}

type considerationItemABI struct {
	ItemType             uint8
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
	Recipient            common.Address
}

type orderParametersABI struct {
	Offerer                         common.Address
	Zone                            common.Address
	Offer                           []offerItemABI
	Consideration                   []considerationItemABI
	OrderType                       uint8
	StartTime                       *big.Int
	EndTime                         *big.Int
	ZoneHash                        [32]byte
	Salt                            *big.Int
	ConduitKey                      [32]byte
	TotalOriginalConsiderationItems *big.Int
}

// Decoder decodes logs emitted by a Seaport deployment.
type Decoder struct {
	contract common.Address
}

// NewDecoder creates a decoder for the Seaport deployment at contract.
func NewDecoder(contract common.Address) *Decoder {
	return &Decoder{contract: contract}
}

func (d *Decoder) Protocol() domain.Protocol { return domain.ProtocolSeaport }

func (d *Decoder) Contract() common.Address { return d.contract }

func (d *Decoder) Topics() []common.Hash {
	return []common.Hash{TopicOrderFulfilled, TopicOrderCancelled, TopicOrderValidated}
}

// Decode maps one log to a Seaport event.
func (d *Decoder) Decode(log types.Log) (domain.Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}
	meta := chain.Meta(domain.ProtocolSeaport, log)

	switch log.Topics[0] {
	case TopicOrderFulfilled:
		if len(log.Topics) != 3 {
			return nil, fmt.Errorf("OrderFulfilled: %w: want 3 topics, got %d", chain.ErrMalformedLog, len(log.Topics))
		}
		var data struct {
			OrderHash     [32]byte
			Recipient     common.Address
			Offer         []spentItemABI
			Consideration []receivedItemABI
		}
		if err := ABI.UnpackIntoInterface(&data, "OrderFulfilled", log.Data); err != nil {
			return nil, fmt.Errorf("OrderFulfilled: %w: %w", chain.ErrMalformedLog, err)
		}

		offerer := common.BytesToAddress(log.Topics[1].Bytes())
		offer := make([]domain.SpentItem, len(data.Offer))
		for i, it := range data.Offer {
			offer[i] = domain.SpentItem{
				ItemType:   domain.ItemType(it.ItemType),
				Token:      it.Token,
				Identifier: it.Identifier,
				Amount:     it.Amount,
			}
		}
		consideration := make([]domain.ReceivedItem, len(data.Consideration))
		for i, it := range data.Consideration {
			consideration[i] = domain.ReceivedItem{
				ItemType:   domain.ItemType(it.ItemType),
				Token:      it.Token,
				Identifier: it.Identifier,
				Amount:     it.Amount,
				Recipient:  it.Recipient,
			}
		}

		return &domain.OrderFulfilled{
			EventMeta:     meta,
			OrderHash:     common.Hash(data.OrderHash),
			Offerer:       offerer,
			Zone:          common.BytesToAddress(log.Topics[2].Bytes()),
			Recipient:     data.Recipient,
			Offer:         offer,
			Consideration: consideration,
			Fill:          SummarizeFill(offerer, data.Recipient, offer, consideration),
		}, nil

	case TopicOrderCancelled:
		if len(log.Topics) != 3 {
			return nil, fmt.Errorf("OrderCancelled: %w: want 3 topics, got %d", chain.ErrMalformedLog, len(log.Topics))
		}
		var data struct {
			OrderHash [32]byte
		}
		if err := ABI.UnpackIntoInterface(&data, "OrderCancelled", log.Data); err != nil {
			return nil, fmt.Errorf("OrderCancelled: %w: %w", chain.ErrMalformedLog, err)
		}
		return &domain.OrderCancelled{
			EventMeta: meta,
			OrderHash: common.Hash(data.OrderHash),
			Offerer:   common.BytesToAddress(log.Topics[1].Bytes()),
			Zone:      common.BytesToAddress(log.Topics[2].Bytes()),
		}, nil

	case TopicOrderValidated:
		var data struct {
			OrderHash       [32]byte
			OrderParameters orderParametersABI
		}
		if err := ABI.UnpackIntoInterface(&data, "OrderValidated", log.Data); err != nil {
			return nil, fmt.Errorf("OrderValidated: %w: %w", chain.ErrMalformedLog, err)
		}
		return &domain.OrderValidated{
			EventMeta:  meta,
			OrderHash:  common.Hash(data.OrderHash),
			Parameters: toDomainParameters(data.OrderParameters),
		}, nil
	}

	return nil, nil
}

// toDomainParameters converts on-chain parameters to the persisted form.
// The event does not carry the counter, so it is left empty.
func toDomainParameters(p orderParametersABI) *domain.OrderParameters {
	out := &domain.OrderParameters{
		Offerer:                         domain.NormalizeAddress(p.Offerer),
		Zone:                            domain.NormalizeAddress(p.Zone),
		Offer:                           make([]domain.OfferItem, len(p.Offer)),
		Consideration:                   make([]domain.ConsiderationItem, len(p.Consideration)),
		OrderType:                       p.OrderType,
		StartTime:                       domain.NumericFromBig(p.StartTime),
		EndTime:                         domain.NumericFromBig(p.EndTime),
		ZoneHash:                        common.Hash(p.ZoneHash).Hex(),
		Salt:                            domain.NumericFromBig(p.Salt),
		ConduitKey:                      common.Hash(p.ConduitKey).Hex(),
		TotalOriginalConsiderationItems: domain.NumericFromBig(p.TotalOriginalConsiderationItems),
	}
	for i, it := range p.Offer {
		out.Offer[i] = domain.OfferItem{
			ItemType:             domain.ItemType(it.ItemType),
			Token:                domain.NormalizeAddress(it.Token),
			IdentifierOrCriteria: domain.NumericFromBig(it.IdentifierOrCriteria),
			StartAmount:          domain.NumericFromBig(it.StartAmount),
			EndAmount:            domain.NumericFromBig(it.EndAmount),
		}
	}
	for i, it := range p.Consideration {
		out.Consideration[i] = domain.ConsiderationItem{
			ItemType:             domain.ItemType(it.ItemType),
			Token:                domain.NormalizeAddress(it.Token),
			IdentifierOrCriteria: domain.NumericFromBig(it.IdentifierOrCriteria),
			StartAmount:          domain.NumericFromBig(it.StartAmount),
			EndAmount:            domain.NumericFromBig(it.EndAmount),
			Recipient:            domain.NormalizeAddress(it.Recipient),
		}
	}
	return out
}

package exchange

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
)

// Decoder decodes logs emitted by the exchange contract.
type Decoder struct {
	contract common.Address
}

// NewDecoder creates a decoder for the exchange deployed at contract.
func NewDecoder(contract common.Address) *Decoder {
	return &Decoder{contract: contract}
}

func (d *Decoder) Protocol() domain.Protocol { return domain.ProtocolExchange }

func (d *Decoder) Contract() common.Address { return d.contract }

func (d *Decoder) Topics() []common.Hash {
	return []common.Hash{
		TopicListingCreated,
		TopicListingCancelled,
		TopicListingSold,
		TopicOfferMade,
		TopicOfferAccepted,
		TopicOfferCancelled,
	}
}

// Decode maps one log to an exchange event.
func (d *Decoder) Decode(log types.Log) (domain.Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}
	meta := chain.Meta(domain.ProtocolExchange, log)

	switch log.Topics[0] {
	case TopicListingCreated:
		if err := needTopics(log, 4); err != nil {
			return nil, err
		}
		var data struct {
			TokenId   *big.Int
			Price     *big.Int
			ExpiresAt *big.Int
		}
		if err := ABI.UnpackIntoInterface(&data, "ListingCreated", log.Data); err != nil {
			return nil, fmt.Errorf("ListingCreated: %w: %w", chain.ErrMalformedLog, err)
		}
		return &domain.ListingCreated{
			EventMeta:   meta,
			ListingID:   topicInt(log.Topics[1]),
			Seller:      topicAddress(log.Topics[2]),
			NFTContract: topicAddress(log.Topics[3]),
			TokenID:     data.TokenId,
			Price:       data.Price,
			ExpiresAt:   unixTime(data.ExpiresAt),
		}, nil

	case TopicListingCancelled:
		if err := needTopics(log, 2); err != nil {
			return nil, err
		}
		return &domain.ListingCancelled{
			EventMeta: meta,
			ListingID: topicInt(log.Topics[1]),
		}, nil

	case TopicListingSold:
		if err := needTopics(log, 3); err != nil {
			return nil, err
		}
		var data struct {
			Price *big.Int
		}
		if err := ABI.UnpackIntoInterface(&data, "ListingSold", log.Data); err != nil {
			return nil, fmt.Errorf("ListingSold: %w: %w", chain.ErrMalformedLog, err)
		}
		return &domain.ListingSold{
			EventMeta: meta,
			ListingID: topicInt(log.Topics[1]),
			Buyer:     topicAddress(log.Topics[2]),
			Price:     data.Price,
		}, nil

	case TopicOfferMade:
		if err := needTopics(log, 4); err != nil {
			return nil, err
		}
		var data struct {
			TokenId   *big.Int
			Amount    *big.Int
			ExpiresAt *big.Int
		}
		if err := ABI.UnpackIntoInterface(&data, "OfferMade", log.Data); err != nil {
			return nil, fmt.Errorf("OfferMade: %w: %w", chain.ErrMalformedLog, err)
		}
		return &domain.OfferMade{
			EventMeta:   meta,
			OfferID:     topicInt(log.Topics[1]),
			Buyer:       topicAddress(log.Topics[2]),
			NFTContract: topicAddress(log.Topics[3]),
			TokenID:     data.TokenId,
			Amount:      data.Amount,
			ExpiresAt:   unixTime(data.ExpiresAt),
		}, nil

	case TopicOfferAccepted:
		if err := needTopics(log, 3); err != nil {
			return nil, err
		}
		return &domain.OfferAccepted{
			EventMeta: meta,
			OfferID:   topicInt(log.Topics[1]),
			Seller:    topicAddress(log.Topics[2]),
		}, nil

	case TopicOfferCancelled:
		if err := needTopics(log, 2); err != nil {
			return nil, err
		}
		return &domain.OfferCancelled{
			EventMeta: meta,
			OfferID:   topicInt(log.Topics[1]),
		}, nil
	}

	return nil, nil
}

func needTopics(log types.Log, n int) error {
	if len(log.Topics) != n {
		return fmt.Errorf("%w: want %d topics, got %d", chain.ErrMalformedLog, n, len(log.Topics))
	}
	return nil
}

func topicInt(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h.Bytes())
}

func topicAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}

// unixTime converts a contract timestamp; zero means no expiry.
func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

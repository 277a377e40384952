// Package testutil builds ABI-encoded logs for tests.
package testutil

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/exchange"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/seaport"
)

var (
	// ExchangeAddress is the exchange deployment used throughout tests.
	ExchangeAddress = common.HexToAddress("0x1000000000000000000000000000000000000001")
	// SeaportAddress is the canonical Seaport 1.6 deployment.
	SeaportAddress = common.HexToAddress("0x0000000000000068F116a894984e2DB1123eB395")
	// USDC is the payment token used in fixtures.
	USDC = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

// Pos places a log in a block and transaction.
type Pos struct {
	Block uint64
	Index uint
	Tx    common.Hash
}

// TxHash returns a deterministic transaction hash for n.
func TxHash(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(0x7700000 + n)))
}

// Addr returns a deterministic address for n.
func Addr(n int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0xa0000 + n)))
}

func idTopic(id int64) common.Hash {
	return common.BigToHash(big.NewInt(id))
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func pack(a abi.ABI, event string, args ...any) []byte {
	data, err := a.Events[event].Inputs.NonIndexed().Pack(args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", event, err))
	}
	return data
}

func mkLog(contract common.Address, pos Pos, topics []common.Hash, data []byte) types.Log {
	return types.Log{
		Address:     contract,
		Topics:      topics,
		Data:        data,
		BlockNumber: pos.Block,
		TxHash:      pos.Tx,
		Index:       pos.Index,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(pos.Block)),
	}
}

// ListingCreatedLog encodes an exchange ListingCreated event.
func ListingCreatedLog(pos Pos, listingID int64, seller, nft common.Address, tokenID, price, expiresAt int64) types.Log {
	return mkLog(ExchangeAddress, pos,
		[]common.Hash{exchange.TopicListingCreated, idTopic(listingID), addrTopic(seller), addrTopic(nft)},
		pack(exchange.ABI, "ListingCreated", big.NewInt(tokenID), big.NewInt(price), big.NewInt(expiresAt)),
	)
}

// ListingCancelledLog encodes an exchange ListingCancelled event.
func ListingCancelledLog(pos Pos, listingID int64) types.Log {
	return mkLog(ExchangeAddress, pos,
		[]common.Hash{exchange.TopicListingCancelled, idTopic(listingID)}, nil)
}

// ListingSoldLog encodes an exchange ListingSold event.
func ListingSoldLog(pos Pos, listingID int64, buyer common.Address, price int64) types.Log {
	return mkLog(ExchangeAddress, pos,
		[]common.Hash{exchange.TopicListingSold, idTopic(listingID), addrTopic(buyer)},
		pack(exchange.ABI, "ListingSold", big.NewInt(price)),
	)
}

// OfferMadeLog encodes an exchange OfferMade event.
func OfferMadeLog(pos Pos, offerID int64, buyer, nft common.Address, tokenID, amount, expiresAt int64) types.Log {
	return mkLog(ExchangeAddress, pos,
		[]common.Hash{exchange.TopicOfferMade, idTopic(offerID), addrTopic(buyer), addrTopic(nft)},
		pack(exchange.ABI, "OfferMade", big.NewInt(tokenID), big.NewInt(amount), big.NewInt(expiresAt)),
	)
}

// OfferAcceptedLog encodes an exchange OfferAccepted event.
func OfferAcceptedLog(pos Pos, offerID int64, seller common.Address) types.Log {
	return mkLog(ExchangeAddress, pos,
		[]common.Hash{exchange.TopicOfferAccepted, idTopic(offerID), addrTopic(seller)}, nil)
}

// OfferCancelledLog encodes an exchange OfferCancelled event.
func OfferCancelledLog(pos Pos, offerID int64) types.Log {
	return mkLog(ExchangeAddress, pos,
		[]common.Hash{exchange.TopicOfferCancelled, idTopic(offerID)}, nil)
}

// SpentItem mirrors the Seaport SpentItem tuple for packing.
type SpentItem struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
}

// ReceivedItem mirrors the Seaport ReceivedItem tuple for packing.
type ReceivedItem struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
	Recipient  common.Address
}

// OrderFulfilledLog encodes a Seaport OrderFulfilled event.
func OrderFulfilledLog(
	pos Pos,
	orderHash common.Hash,
	offerer, zone, recipient common.Address,
	offer []SpentItem,
	consideration []ReceivedItem,
) types.Log {
	if offer == nil {
		offer = []SpentItem{}
	}
	if consideration == nil {
		consideration = []ReceivedItem{}
	}
	return mkLog(SeaportAddress, pos,
		[]common.Hash{seaport.TopicOrderFulfilled, addrTopic(offerer), addrTopic(zone)},
		pack(seaport.ABI, "OrderFulfilled", [32]byte(orderHash), recipient, offer, consideration),
	)
}

// OrderCancelledLog encodes a Seaport OrderCancelled event.
func OrderCancelledLog(pos Pos, orderHash common.Hash, offerer, zone common.Address) types.Log {
	return mkLog(SeaportAddress, pos,
		[]common.Hash{seaport.TopicOrderCancelled, addrTopic(offerer), addrTopic(zone)},
		pack(seaport.ABI, "OrderCancelled", [32]byte(orderHash)),
	)
}

// OfferItem mirrors the Seaport OfferItem tuple for packing.
type OfferItem struct {
	ItemType             uint8
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
}

// ConsiderationItem mirrors the Seaport ConsiderationItem tuple for packing.
type ConsiderationItem struct {
	ItemType             uint8
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
	Recipient            common.Address
}

// OrderParameters mirrors the Seaport OrderParameters tuple for packing.
type OrderParameters struct {
	Offerer                         common.Address
	Zone                            common.Address
	Offer                           []OfferItem
	Consideration                   []ConsiderationItem
	OrderType                       uint8
	StartTime                       *big.Int
	EndTime                         *big.Int
	ZoneHash                        [32]byte
	Salt                            *big.Int
	ConduitKey                      [32]byte
	TotalOriginalConsiderationItems *big.Int
}

// OrderValidatedLog encodes a Seaport OrderValidated event.
func OrderValidatedLog(pos Pos, orderHash common.Hash, params OrderParameters) types.Log {
	if params.Offer == nil {
		params.Offer = []OfferItem{}
	}
	if params.Consideration == nil {
		params.Consideration = []ConsiderationItem{}
	}
	return mkLog(SeaportAddress, pos,
		[]common.Hash{seaport.TopicOrderValidated},
		pack(seaport.ABI, "OrderValidated", [32]byte(orderHash), params),
	)
}

// ListingFill builds the offer/consideration of an NFT-for-USDC listing fill
// paying price to the seller and fee to feeRecipient.
func ListingFill(nft common.Address, tokenID int64, seller common.Address, price, fee int64, feeRecipient common.Address) ([]SpentItem, []ReceivedItem) {
	offer := []SpentItem{{ItemType: 2, Token: nft, Identifier: big.NewInt(tokenID), Amount: big.NewInt(1)}}
	consideration := []ReceivedItem{
		{ItemType: 1, Token: USDC, Identifier: new(big.Int), Amount: big.NewInt(price), Recipient: seller},
	}
	if fee > 0 {
		consideration = append(consideration, ReceivedItem{
			ItemType: 1, Token: USDC, Identifier: new(big.Int), Amount: big.NewInt(fee), Recipient: feeRecipient,
		})
	}
	return offer, consideration
}

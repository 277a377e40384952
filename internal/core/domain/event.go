package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventMeta locates a decoded event on chain.
type EventMeta struct {
	Protocol    Protocol
	Contract    common.Address
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Timestamp   time.Time
}

// Meta returns the event location.
func (m *EventMeta) Meta() *EventMeta { return m }

// Event is the closed set of marketplace events understood by the projector.
// Only the types in this file implement it.
type Event interface {
	Meta() *EventMeta
	// Subject is the natural key of the listing, offer or order the event targets.
	Subject() string
	isEvent()
}

// ListingCreated is emitted by the exchange when a listing is opened.
type ListingCreated struct {
	EventMeta
	ListingID   *big.Int
	Seller      common.Address
	NFTContract common.Address
	TokenID     *big.Int
	Price       *big.Int
	ExpiresAt   time.Time
}

// ListingCancelled is emitted by the exchange when the seller withdraws a listing.
type ListingCancelled struct {
	EventMeta
	ListingID *big.Int
}

// ListingSold is emitted by the exchange when a listing is bought.
type ListingSold struct {
	EventMeta
	ListingID *big.Int
	Buyer     common.Address
	Price     *big.Int
}

// OfferMade is emitted by the exchange when a buyer escrows an offer.
type OfferMade struct {
	EventMeta
	OfferID     *big.Int
	Buyer       common.Address
	NFTContract common.Address
	TokenID     *big.Int
	Amount      *big.Int
	ExpiresAt   time.Time
}

// OfferAccepted is emitted by the exchange when the token owner accepts an offer.
type OfferAccepted struct {
	EventMeta
	OfferID *big.Int
	Seller  common.Address
}

// OfferCancelled is emitted by the exchange when the buyer withdraws an offer.
type OfferCancelled struct {
	EventMeta
	OfferID *big.Int
}

// OrderSide tells whether a Seaport order sells an NFT or bids for one.
type OrderSide string

const (
	SideListing OrderSide = "listing"
	SideOffer   OrderSide = "offer"
	SideUnknown OrderSide = "unknown"
)

// FillSummary is what a fulfilment means for the marketplace.
type FillSummary struct {
	Side         OrderSide
	Seller       common.Address
	Buyer        common.Address
	NFTContract  common.Address
	TokenID      *big.Int
	PaymentToken common.Address
	// TotalPrice sums every currency item in the payment token.
	TotalPrice *big.Int
	// SellerProceeds sums the currency items paid to the seller.
	SellerProceeds *big.Int
}

// OrderFulfilled is emitted by Seaport when an order is filled.
type OrderFulfilled struct {
	EventMeta
	OrderHash     common.Hash
	Offerer       common.Address
	Zone          common.Address
	Recipient     common.Address
	Offer         []SpentItem
	Consideration []ReceivedItem
	Fill          FillSummary
}

// OrderCancelled is emitted by Seaport when the offerer cancels an order.
type OrderCancelled struct {
	EventMeta
	OrderHash common.Hash
	Offerer   common.Address
	Zone      common.Address
}

// OrderValidated is emitted by Seaport when an order is registered on chain.
type OrderValidated struct {
	EventMeta
	OrderHash  common.Hash
	Parameters *OrderParameters
}

func (e *ListingCreated) Subject() string   { return ListingSubject(e.ListingID.String()) }
func (e *ListingCancelled) Subject() string { return ListingSubject(e.ListingID.String()) }
func (e *ListingSold) Subject() string      { return ListingSubject(e.ListingID.String()) }
func (e *OfferMade) Subject() string        { return OfferSubject(e.OfferID.String()) }
func (e *OfferAccepted) Subject() string    { return OfferSubject(e.OfferID.String()) }
func (e *OfferCancelled) Subject() string   { return OfferSubject(e.OfferID.String()) }
func (e *OrderFulfilled) Subject() string   { return OrderSubject(e.OrderHash.Hex()) }
func (e *OrderCancelled) Subject() string   { return OrderSubject(e.OrderHash.Hex()) }
func (e *OrderValidated) Subject() string   { return OrderSubject(e.OrderHash.Hex()) }

func (*ListingCreated) isEvent()   {}
func (*ListingCancelled) isEvent() {}
func (*ListingSold) isEvent()      {}
func (*OfferMade) isEvent()        {}
func (*OfferAccepted) isEvent()    {}
func (*OfferCancelled) isEvent()   {}
func (*OrderFulfilled) isEvent()   {}
func (*OrderCancelled) isEvent()   {}
func (*OrderValidated) isEvent()   {}

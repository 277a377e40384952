package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle position of a listing or offer.
// Expired is computed from the expiry, it is never stored.
type OrderStatus string

const (
	StatusActive    OrderStatus = "active"
	StatusExpired   OrderStatus = "expired"
	StatusSold      OrderStatus = "sold"
	StatusAccepted  OrderStatus = "accepted"
	StatusCancelled OrderStatus = "cancelled"
)

// Listing is a seller-initiated order for an NFT.
type Listing struct {
	ID                  int64            `db:"id"                    json:"id"`
	Protocol            Protocol         `db:"protocol"              json:"protocol"`
	BlockchainListingID *string          `db:"blockchain_listing_id" json:"blockchain_listing_id,omitempty"`
	OrderHash           *string          `db:"order_hash"            json:"order_hash,omitempty"`
	Seller              string           `db:"seller"                json:"seller"`
	NFTContract         string           `db:"nft_contract"          json:"nft_contract"`
	TokenID             string           `db:"token_id"              json:"token_id"`
	Price               decimal.Decimal  `db:"price"                 json:"price"`
	PaymentToken        string           `db:"payment_token"         json:"payment_token"`
	ExpiresAt           *time.Time       `db:"expires_at"            json:"expires_at,omitempty"`
	CreatedAt           time.Time        `db:"created_at"            json:"created_at"`
	SoldAt              *time.Time       `db:"sold_at"               json:"sold_at,omitempty"`
	CancelledAt         *time.Time       `db:"cancelled_at"          json:"cancelled_at,omitempty"`
	Buyer               *string          `db:"buyer"                 json:"buyer,omitempty"`
	OrderParameters     *OrderParameters `db:"order_parameters"      json:"order_parameters,omitempty"`
	CreationTxHash      *string          `db:"creation_tx_hash"      json:"creation_tx_hash,omitempty"`
	TerminalTxHash      *string          `db:"terminal_tx_hash"      json:"terminal_tx_hash,omitempty"`
	LastCheckedAt       *time.Time       `db:"last_checked_at"       json:"last_checked_at,omitempty"`
}

// Subject returns the natural key string shared with activity and anomaly rows.
func (l *Listing) Subject() string {
	if l.Protocol == ProtocolSeaport && l.OrderHash != nil {
		return OrderSubject(*l.OrderHash)
	}
	if l.BlockchainListingID != nil {
		return ListingSubject(*l.BlockchainListingID)
	}
	return ""
}

// IsTerminal reports whether the listing has been sold or cancelled.
func (l *Listing) IsTerminal() bool {
	return l.SoldAt != nil || l.CancelledAt != nil
}

// Status computes the lifecycle position at the given time.
func (l *Listing) Status(now time.Time) OrderStatus {
	switch {
	case l.SoldAt != nil:
		return StatusSold
	case l.CancelledAt != nil:
		return StatusCancelled
	case l.ExpiresAt != nil && !l.ExpiresAt.After(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

// Offer is a buyer-initiated order for an NFT.
type Offer struct {
	ID                int64            `db:"id"                  json:"id"`
	Protocol          Protocol         `db:"protocol"            json:"protocol"`
	BlockchainOfferID *string          `db:"blockchain_offer_id" json:"blockchain_offer_id,omitempty"`
	OrderHash         *string          `db:"order_hash"          json:"order_hash,omitempty"`
	Buyer             string           `db:"buyer"               json:"buyer"`
	NFTContract       string           `db:"nft_contract"        json:"nft_contract"`
	TokenID           string           `db:"token_id"            json:"token_id"`
	Price             decimal.Decimal  `db:"price"               json:"price"`
	PaymentToken      string           `db:"payment_token"       json:"payment_token"`
	ExpiresAt         *time.Time       `db:"expires_at"          json:"expires_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at"          json:"created_at"`
	AcceptedAt        *time.Time       `db:"accepted_at"         json:"accepted_at,omitempty"`
	CancelledAt       *time.Time       `db:"cancelled_at"        json:"cancelled_at,omitempty"`
	Seller            *string          `db:"seller"              json:"seller,omitempty"`
	OrderParameters   *OrderParameters `db:"order_parameters"    json:"order_parameters,omitempty"`
	CreationTxHash    *string          `db:"creation_tx_hash"    json:"creation_tx_hash,omitempty"`
	TerminalTxHash    *string          `db:"terminal_tx_hash"    json:"terminal_tx_hash,omitempty"`
	LastCheckedAt     *time.Time       `db:"last_checked_at"     json:"last_checked_at,omitempty"`
}

// Subject returns the natural key string shared with activity and anomaly rows.
func (o *Offer) Subject() string {
	if o.Protocol == ProtocolSeaport && o.OrderHash != nil {
		return OrderSubject(*o.OrderHash)
	}
	if o.BlockchainOfferID != nil {
		return OfferSubject(*o.BlockchainOfferID)
	}
	return ""
}

// IsTerminal reports whether the offer has been accepted or cancelled.
func (o *Offer) IsTerminal() bool {
	return o.AcceptedAt != nil || o.CancelledAt != nil
}

// Status computes the lifecycle position at the given time.
func (o *Offer) Status(now time.Time) OrderStatus {
	switch {
	case o.AcceptedAt != nil:
		return StatusAccepted
	case o.CancelledAt != nil:
		return StatusCancelled
	case o.ExpiresAt != nil && !o.ExpiresAt.After(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

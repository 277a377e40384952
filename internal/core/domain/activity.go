package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActivityType names an entry in the marketplace activity log.
type ActivityType string

const (
	ActivityListingCreated   ActivityType = "listing_created"
	ActivityListingCancelled ActivityType = "listing_cancelled"
	ActivitySale             ActivityType = "sale"
	ActivityOfferMade        ActivityType = "offer_made"
	ActivityOfferAccepted    ActivityType = "offer_accepted"
	ActivityOfferCancelled   ActivityType = "offer_cancelled"
)

// Activity is an append-only record of an applied marketplace event.
// (TxHash, Type, SubjectKey) is unique; a second insert of the same
// triple is how replays are detected.
type Activity struct {
	ID           int64               `db:"id"            json:"id"`
	Type         ActivityType        `db:"type"          json:"type"`
	Protocol     Protocol            `db:"protocol"      json:"protocol"`
	SubjectKey   string              `db:"subject_key"   json:"subject_key"`
	ListingID    *int64              `db:"listing_id"    json:"listing_id,omitempty"`
	OfferID      *int64              `db:"offer_id"      json:"offer_id,omitempty"`
	TxHash       string              `db:"tx_hash"       json:"tx_hash"`
	BlockNumber  *int64              `db:"block_number"  json:"block_number,omitempty"`
	LogIndex     *int64              `db:"log_index"     json:"log_index,omitempty"`
	Actor        string              `db:"actor"         json:"actor"`
	Counterparty *string             `db:"counterparty"  json:"counterparty,omitempty"`
	NFTContract  string              `db:"nft_contract"  json:"nft_contract"`
	TokenID      string              `db:"token_id"      json:"token_id"`
	Price        decimal.NullDecimal `db:"price"         json:"price"`
	OccurredAt   time.Time           `db:"occurred_at"   json:"occurred_at"`
	CreatedAt    time.Time           `db:"created_at"    json:"created_at"`
}

// AnomalyKind classifies an operator-facing problem record.
type AnomalyKind string

const (
	AnomalyDecodeFailure   AnomalyKind = "decode_failure"
	AnomalyUnknownSubject  AnomalyKind = "unknown_subject"
	AnomalyAmbiguousFill   AnomalyKind = "ambiguous_fill"
	AnomalyMissingOnChain  AnomalyKind = "missing_onchain"
	AnomalyBuyerUnresolved AnomalyKind = "buyer_unresolved"
	AnomalyHashRecompute   AnomalyKind = "hash_recompute_failed"
	AnomalyStaleTerminal   AnomalyKind = "stale_terminal"
)

// Anomaly is a durable record of something the engine refused to guess about.
type Anomaly struct {
	ID          string      `db:"id"           json:"id"`
	Kind        AnomalyKind `db:"kind"         json:"kind"`
	Protocol    Protocol    `db:"protocol"     json:"protocol"`
	SubjectKey  string      `db:"subject_key"  json:"subject_key"`
	TxHash      string      `db:"tx_hash"      json:"tx_hash"`
	BlockNumber *int64      `db:"block_number" json:"block_number,omitempty"`
	Detail      string      `db:"detail"       json:"detail"`
	CreatedAt   time.Time   `db:"created_at"   json:"created_at"`
}

// NewAnomaly creates an anomaly record with a fresh id.
func NewAnomaly(kind AnomalyKind, protocol Protocol, subjectKey, detail string) *Anomaly {
	return &Anomaly{
		ID:         uuid.NewString(),
		Kind:       kind,
		Protocol:   protocol,
		SubjectKey: subjectKey,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
}

package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol identifies which on-chain mechanism produced an order.
type Protocol string

const (
	// ProtocolExchange is the marketplace's own listing/offer contract.
	ProtocolExchange Protocol = "exchange"
	// ProtocolSeaport is the signature-based order protocol.
	ProtocolSeaport Protocol = "seaport"
)

// SyntheticTxPrefix marks transaction references written by reconciliation
// instead of by an observed on-chain event.
const SyntheticTxPrefix = "reconcile:"

// IsSyntheticTx reports whether a transaction reference was produced by reconciliation.
func IsSyntheticTx(txHash string) bool {
	return strings.HasPrefix(txHash, SyntheticTxPrefix)
}

// NormalizeAddress returns the lowercase hex form used for storage and comparison.
func NormalizeAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// NormalizeHash returns the lowercase hex form of a 32-byte hash.
func NormalizeHash(h common.Hash) string {
	return strings.ToLower(h.Hex())
}

// ListingSubject is the natural key string of an exchange listing.
func ListingSubject(listingID string) string {
	return "listing:" + listingID
}

// OfferSubject is the natural key string of an exchange offer.
func OfferSubject(offerID string) string {
	return "offer:" + offerID
}

// OrderSubject is the natural key string of a Seaport order.
func OrderSubject(orderHash string) string {
	return "order:" + strings.ToLower(orderHash)
}

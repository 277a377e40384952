package exchange

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
)

// ListingState is the on-chain view of a listing.
type ListingState struct {
	Seller      common.Address
	NFTContract common.Address
	TokenID     *big.Int
	Price       *big.Int
	ExpiresAt   time.Time
	Sold        bool
	Cancelled   bool
}

// Exists reports whether the contract knows the listing. Unknown ids return a zero seller.
func (s *ListingState) Exists() bool {
	return s.Seller != (common.Address{})
}

// OfferState is the on-chain view of an offer.
type OfferState struct {
	Buyer       common.Address
	NFTContract common.Address
	TokenID     *big.Int
	Amount      *big.Int
	ExpiresAt   time.Time
	Accepted    bool
	Cancelled   bool
}

// Exists reports whether the contract knows the offer. Unknown ids return a zero buyer.
func (s *OfferState) Exists() bool {
	return s.Buyer != (common.Address{})
}

// Reader performs read-only getter calls against the exchange.
type Reader struct {
	caller   chain.ContractCaller
	contract common.Address
}

// NewReader creates a reader for the exchange at contract.
func NewReader(caller chain.ContractCaller, contract common.Address) *Reader {
	return &Reader{caller: caller, contract: contract}
}

// GetListing reads a listing by its contract id.
func (r *Reader) GetListing(ctx context.Context, listingID *big.Int) (*ListingState, error) {
	out, err := r.call(ctx, "getListing", listingID)
	if err != nil {
		return nil, err
	}
	return &ListingState{
		Seller:      out[0].(common.Address),
		NFTContract: out[1].(common.Address),
		TokenID:     out[2].(*big.Int),
		Price:       out[3].(*big.Int),
		ExpiresAt:   unixTime(out[4].(*big.Int)),
		Sold:        out[5].(bool),
		Cancelled:   out[6].(bool),
	}, nil
}

// GetOffer reads an offer by its contract id.
func (r *Reader) GetOffer(ctx context.Context, offerID *big.Int) (*OfferState, error) {
	out, err := r.call(ctx, "getOffer", offerID)
	if err != nil {
		return nil, err
	}
	return &OfferState{
		Buyer:       out[0].(common.Address),
		NFTContract: out[1].(common.Address),
		TokenID:     out[2].(*big.Int),
		Amount:      out[3].(*big.Int),
		ExpiresAt:   unixTime(out[4].(*big.Int)),
		Accepted:    out[5].(bool),
		Cancelled:   out[6].(bool),
	}, nil
}

func (r *Reader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := r.caller.CallContract(ctx, r.contract, input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	out, err := ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 7 {
		return nil, fmt.Errorf("unpack %s: want 7 values, got %d", method, len(out))
	}
	return out, nil
}

package seaport

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
)

// OrderStatus is the on-chain status of an order hash.
type OrderStatus struct {
	IsValidated bool
	IsCancelled bool
	TotalFilled *big.Int
	TotalSize   *big.Int
}

// IsFullyFilled reports whether no fraction of the order remains.
func (s *OrderStatus) IsFullyFilled() bool {
	return s.TotalSize != nil && s.TotalSize.Sign() > 0 &&
		s.TotalFilled != nil && s.TotalFilled.Cmp(s.TotalSize) >= 0
}

// IsUnknown reports whether Seaport has never seen the order. Signed orders
// that were never validated or filled stay unknown until they are used.
func (s *OrderStatus) IsUnknown() bool {
	return !s.IsValidated && !s.IsCancelled &&
		(s.TotalSize == nil || s.TotalSize.Sign() == 0)
}

// Reader performs read-only calls against a Seaport deployment.
type Reader struct {
	caller   chain.ContractCaller
	contract common.Address
}

// NewReader creates a reader for the deployment at contract.
func NewReader(caller chain.ContractCaller, contract common.Address) *Reader {
	return &Reader{caller: caller, contract: contract}
}

// GetOrderStatus returns the validation, cancellation and fill state of an order.
func (r *Reader) GetOrderStatus(ctx context.Context, orderHash common.Hash) (*OrderStatus, error) {
	input, err := ABI.Pack("getOrderStatus", [32]byte(orderHash))
	if err != nil {
		return nil, fmt.Errorf("pack getOrderStatus: %w", err)
	}
	raw, err := r.caller.CallContract(ctx, r.contract, input)
	if err != nil {
		return nil, fmt.Errorf("getOrderStatus: %w", err)
	}
	out, err := ABI.Unpack("getOrderStatus", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack getOrderStatus: %w", err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unpack getOrderStatus: want 4 values, got %d", len(out))
	}
	return &OrderStatus{
		IsValidated: out[0].(bool),
		IsCancelled: out[1].(bool),
		TotalFilled: out[2].(*big.Int),
		TotalSize:   out[3].(*big.Int),
	}, nil
}

// GetCounter returns the offerer's current counter. Orders signed with a
// lower counter can no longer be fulfilled.
func (r *Reader) GetCounter(ctx context.Context, offerer common.Address) (*big.Int, error) {
	input, err := ABI.Pack("getCounter", offerer)
	if err != nil {
		return nil, fmt.Errorf("pack getCounter: %w", err)
	}
	raw, err := r.caller.CallContract(ctx, r.contract, input)
	if err != nil {
		return nil, fmt.Errorf("getCounter: %w", err)
	}
	out, err := ABI.Unpack("getCounter", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack getCounter: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack getCounter: want 1 value, got %d", len(out))
	}
	return out[0].(*big.Int), nil
}

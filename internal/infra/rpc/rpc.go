// Package rpc provides the typed JSON-RPC client the indexer talks to the chain through.
//
// The client offers:
//   - Bounded retry with exponential backoff (routing.CallWithRetry)
//   - Failover across configured providers
//   - Not-yet-visible retries for transaction and receipt lookups
//   - Typed failures: ErrNotFound, ErrUnavailable, ErrTimeout, ErrInvalidRange
//
// # Quick Start
//
//	client := rpc.NewClient(rpc.Config{...}, provider.NewHTTPProvider("alchemy", url, 30*time.Second))
//
//	head, err := client.BlockNumber(ctx)
//	logs, err := client.GetLogs(ctx, rpc.LogFilter{FromBlock: 100, ToBlock: 200, Addresses: addrs})
//	receipt, err := client.GetTransactionReceipt(ctx, txHash)
//	if errors.Is(err, rpc.ErrNotFound) { ... }
//
// # Package Structure
//
//   - provider/ - HTTPProvider transport
//   - routing/  - retry and failover
package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/routing"
)

var (
	// ErrNotFound is returned when a transaction or receipt is still absent
	// after the not-found retry budget.
	ErrNotFound = errors.New("rpc: not found")

	// ErrUnavailable is returned when the endpoint keeps failing.
	ErrUnavailable = errors.New("rpc: unavailable")

	// ErrTimeout is returned when the caller's deadline expires mid-call.
	ErrTimeout = errors.New("rpc: timeout")

	// ErrInvalidRange is returned for a log query whose bounds are reversed.
	ErrInvalidRange = errors.New("rpc: invalid block range")
)

// classify maps transport failures onto the package's typed errors.
func classify(ctx context.Context, method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", method, ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", method, err)
	}
	if errors.Is(err, routing.ErrRetriesExhausted) || routing.ClassifyError(err) == routing.ActionFailover {
		return fmt.Errorf("%s: %w: %w", method, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

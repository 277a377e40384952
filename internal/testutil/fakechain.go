package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc"
)

// FakeChain serves logs, receipts and block times from memory.
type FakeChain struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	receipts map[common.Hash]*rpc.Receipt

	// failAt fails every GetLogs call whose range contains the block.
	failAt map[uint64]error

	LogCalls []rpc.LogFilter
}

// NewFakeChain creates a chain with the given head.
func NewFakeChain(head uint64) *FakeChain {
	return &FakeChain{
		head:     head,
		receipts: make(map[common.Hash]*rpc.Receipt),
		failAt:   make(map[uint64]error),
	}
}

// SetHead moves the chain head.
func (c *FakeChain) SetHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

// AddLogs appends logs and groups them into per-transaction receipts.
func (c *FakeChain) AddLogs(logs ...types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range logs {
		c.logs = append(c.logs, l)
		r, ok := c.receipts[l.TxHash]
		if !ok {
			r = &rpc.Receipt{TxHash: l.TxHash, Status: 1}
			c.receipts[l.TxHash] = r
		}
		r.BlockNumber = hexutil.Uint64(l.BlockNumber)
		r.Logs = append(r.Logs, l)
	}
}

// FailRange makes GetLogs fail for any window containing block.
func (c *FakeChain) FailRange(block uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failAt, block)
		return
	}
	c.failAt[block] = err
}

// BlockNumber implements the head lookup.
func (c *FakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

// BlockTimestamp returns a deterministic time for block n.
func (c *FakeChain) BlockTimestamp(ctx context.Context, n uint64) (time.Time, error) {
	return BlockTime(n), nil
}

// BlockTime is the timestamp FakeChain reports for block n.
func BlockTime(n uint64) time.Time {
	return time.Unix(1_700_000_000+int64(n)*2, 0).UTC()
}

// GetLogs returns stored logs inside the filter range emitted by the filter addresses.
func (c *FakeChain) GetLogs(ctx context.Context, f rpc.LogFilter) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.FromBlock > f.ToBlock {
		return nil, rpc.ErrInvalidRange
	}
	c.LogCalls = append(c.LogCalls, f)
	for block, err := range c.failAt {
		if block >= f.FromBlock && block <= f.ToBlock {
			return nil, err
		}
	}

	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber < f.FromBlock || l.BlockNumber > f.ToBlock {
			continue
		}
		if len(f.Addresses) > 0 && !containsAddress(f.Addresses, l.Address) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// GetTransactionReceipt returns the receipt of a transaction added through AddLogs.
func (c *FakeChain) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*rpc.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	cp := *r
	cp.Logs = append([]types.Log(nil), r.Logs...)
	return &cp, nil
}

// Calls returns how many GetLogs calls were made.
func (c *FakeChain) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.LogCalls)
}

// ErrFakeUnavailable is a transport failure for tests.
var ErrFakeUnavailable = errors.Join(rpc.ErrUnavailable, errors.New("connection refused"))

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

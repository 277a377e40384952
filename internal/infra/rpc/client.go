package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/semaphore"

	"github.com/jc4p/mint-exchange-sub001/internal/indexing/metrics"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/provider"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/routing"
)

// Config controls retry and concurrency behaviour of the client.
type Config struct {
	Retry routing.RetryConfig

	// NotFoundAttempts bounds how often a null transaction/receipt is re-queried.
	NotFoundAttempts int
	// NotFoundDelay is the pause between not-found re-queries.
	NotFoundDelay time.Duration

	// MaxConcurrency caps in-flight calls across all callers. 0 = 8.
	MaxConcurrency int64
}

// Client is the chain access point used by the indexer, the webhook path and reconciliation.
type Client struct {
	providers []provider.RPCProvider
	cfg       Config
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

// NewClient creates a client over one or more providers, tried in order.
func NewClient(cfg Config, providers ...provider.RPCProvider) *Client {
	if cfg.NotFoundAttempts <= 0 {
		cfg.NotFoundAttempts = 5
	}
	if cfg.NotFoundDelay <= 0 {
		cfg.NotFoundDelay = 2 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	cfg.Retry = cfg.Retry.WithDefaults()

	return &Client{
		providers: providers,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrency),
		logger:    slog.Default().With("component", "rpc"),
	}
}

// LogFilter selects logs for eth_getLogs. Both bounds are inclusive.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Transaction is the subset of eth_getTransactionByHash the engine uses.
type Transaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Input       hexutil.Bytes   `json:"input"`
	Value       *hexutil.Big    `json:"value"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	BlockHash   *common.Hash    `json:"blockHash"`
}

// Receipt is the subset of eth_getTransactionReceipt the engine uses.
type Receipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
	BlockHash   common.Hash     `json:"blockHash"`
	Status      hexutil.Uint64  `json:"status"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Logs        []types.Log     `json:"logs"`
}

// Succeeded reports whether the transaction did not revert.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	var n hexutil.Uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("eth_blockNumber: decode: %w", err)
	}
	return uint64(n), nil
}

// BlockTimestamp returns the timestamp of a block.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	raw, err := c.call(ctx, "eth_getBlockByNumber", []any{hexutil.EncodeUint64(number), false})
	if err != nil {
		return time.Time{}, err
	}
	if raw == nil {
		return time.Time{}, fmt.Errorf("eth_getBlockByNumber %d: %w", number, ErrNotFound)
	}
	var header struct {
		Timestamp hexutil.Uint64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return time.Time{}, fmt.Errorf("eth_getBlockByNumber: decode: %w", err)
	}
	return time.Unix(int64(header.Timestamp), 0).UTC(), nil
}

// GetLogs returns logs in [FromBlock, ToBlock]. Callers split large ranges.
func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]types.Log, error) {
	if filter.FromBlock > filter.ToBlock {
		return nil, fmt.Errorf("eth_getLogs %d-%d: %w", filter.FromBlock, filter.ToBlock, ErrInvalidRange)
	}

	arg := map[string]any{
		"fromBlock": hexutil.EncodeUint64(filter.FromBlock),
		"toBlock":   hexutil.EncodeUint64(filter.ToBlock),
	}
	if len(filter.Addresses) > 0 {
		arg["address"] = filter.Addresses
	}
	if len(filter.Topics) > 0 {
		arg["topics"] = filter.Topics
	}

	raw, err := c.call(ctx, "eth_getLogs", []any{arg})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var logs []types.Log
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("eth_getLogs: decode: %w", err)
	}
	return logs, nil
}

// GetTransaction fetches a transaction, waiting for it to become visible.
func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	raw, err := c.callUntilFound(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, err
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash: decode: %w", err)
	}
	return &tx, nil
}

// GetTransactionReceipt fetches a receipt, waiting for it to become visible.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	raw, err := c.callUntilFound(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt: decode: %w", err)
	}
	return &receipt, nil
}

// CallContract performs a read-only eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := map[string]any{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	raw, err := c.call(ctx, "eth_call", []any{msg, "latest"})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out hexutil.Bytes
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("eth_call: decode: %w", err)
	}
	return out, nil
}

// Forward relays a raw JSON-RPC body to the primary provider without retry.
func (c *Client) Forward(ctx context.Context, body []byte) ([]byte, int, error) {
	if len(c.providers) == 0 {
		return nil, 0, fmt.Errorf("forward: %w: no providers configured", ErrUnavailable)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, classify(ctx, "forward", err)
	}
	defer c.sem.Release(1)

	p := c.providers[0]
	metrics.RPCCallsTotal.WithLabelValues(p.GetName(), "forward").Inc()
	out, status, err := p.Forward(ctx, body)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(p.GetName(), "forward").Inc()
		return nil, 0, classify(ctx, "forward", err)
	}
	return out, status, nil
}

// Providers exposes the configured providers for health reporting.
func (c *Client) Providers() []provider.RPCProvider {
	return c.providers
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, classify(ctx, method, err)
	}
	defer c.sem.Release(1)

	name := "none"
	if len(c.providers) > 0 {
		name = c.providers[0].GetName()
	}

	start := time.Now()
	metrics.RPCCallsTotal.WithLabelValues(name, method).Inc()
	raw, err := routing.CallWithFailover(ctx, c.providers, method, params, c.cfg.Retry)
	metrics.RPCLatency.WithLabelValues(name, method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(name, routing.ClassifyError(err).String()).Inc()
		return nil, classify(ctx, method, err)
	}
	return raw, nil
}

// callUntilFound re-queries a hash lookup while the node answers null.
func (c *Client) callUntilFound(ctx context.Context, method string, hash common.Hash) (json.RawMessage, error) {
	for attempt := 1; ; attempt++ {
		raw, err := c.call(ctx, method, []any{hash})
		if err != nil {
			return nil, err
		}
		if raw != nil {
			return raw, nil
		}
		if attempt >= c.cfg.NotFoundAttempts {
			return nil, fmt.Errorf("%s %s: %w", method, hash.Hex(), ErrNotFound)
		}

		c.logger.Debug("Lookup not visible yet, retrying",
			"method", method,
			"hash", hash.Hex(),
			"attempt", attempt,
		)
		select {
		case <-ctx.Done():
			return nil, classify(ctx, method, ctx.Err())
		case <-time.After(c.cfg.NotFoundDelay):
		}
	}
}

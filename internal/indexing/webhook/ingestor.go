// Package webhook is the push entry point: it projects the logs of
// individual transactions delivered by a notification provider or submitted
// by the API, without touching the polling cursor.
//
// Double delivery, and delivery of events the poller also sees, is absorbed
// by the projector's activity uniqueness. An optional seen-set skips
// transactions already ingested by this deployment before any decoding.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/metrics"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/projector"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// ChainReader is the part of rpc.Client the ingestor needs.
type ChainReader interface {
	BlockTimestamp(ctx context.Context, number uint64) (time.Time, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*rpc.Receipt, error)
}

// Applier applies one decoded event to the projection.
type Applier interface {
	ApplyEvent(ctx context.Context, ev domain.Event) (projector.Result, error)
}

// SeenSet remembers transactions that were fully ingested.
type SeenSet interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
}

// IngestResult summarises one transaction.
type IngestResult struct {
	TxHash         string `json:"tx_hash"`
	Logs           int    `json:"logs"`
	Events         int    `json:"events"`
	Applied        int    `json:"applied"`
	Duplicates     int    `json:"duplicates"`
	Ignored        int    `json:"ignored"`
	Anomalies      int    `json:"anomalies"`
	DecodeFailures int    `json:"decode_failures"`
	// AlreadySeen is set when the seen-set short-circuited the transaction.
	AlreadySeen bool `json:"already_seen,omitempty"`
	// Reverted is set for a submitted transaction whose receipt shows failure.
	Reverted bool `json:"reverted,omitempty"`
}

func (r *IngestResult) count(res projector.Result) {
	switch res {
	case projector.ResultApplied:
		r.Applied++
	case projector.ResultDuplicate:
		r.Duplicates++
	case projector.ResultIgnored:
		r.Ignored++
	case projector.ResultAnomaly:
		r.Anomalies++
	}
}

// Ingestor decodes and projects pushed transactions.
type Ingestor struct {
	chain     ChainReader
	registry  *chain.Registry
	projector Applier
	anomalies storage.AnomalyRepository
	seen      SeenSet
	seenTTL   time.Duration
	log       *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithSeenSet enables the seen-set short-circuit.
func WithSeenSet(seen SeenSet, ttl time.Duration) Option {
	return func(i *Ingestor) {
		i.seen = seen
		i.seenTTL = ttl
	}
}

// NewIngestor creates an ingestor.
func NewIngestor(
	reader ChainReader,
	registry *chain.Registry,
	applier Applier,
	anomalies storage.AnomalyRepository,
	opts ...Option,
) *Ingestor {
	i := &Ingestor{
		chain:     reader,
		registry:  registry,
		projector: applier,
		anomalies: anomalies,
		seenTTL:   24 * time.Hour,
		log:       slog.Default().With("component", "webhook"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest projects the tracked logs of one transaction. Untracked and
// removed logs are dropped; the cursor is never touched.
func (i *Ingestor) Ingest(ctx context.Context, txHash common.Hash, logs []types.Log) (IngestResult, error) {
	res := IngestResult{TxHash: domain.NormalizeHash(txHash)}
	key := "tx:" + res.TxHash

	if i.seen != nil {
		seen, err := i.seen.Seen(ctx, key)
		if err != nil {
			i.log.Warn("Seen-set lookup failed, ingesting anyway", "tx", res.TxHash, "error", err)
		} else if seen {
			res.AlreadySeen = true
			return res, nil
		}
	}

	tracked := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if l.Removed || !i.registry.Tracks(l.Address) {
			continue
		}
		if l.TxHash != txHash {
			return res, fmt.Errorf("log %d belongs to %s, not %s", l.Index, l.TxHash.Hex(), txHash.Hex())
		}
		tracked = append(tracked, l)
	}
	sort.SliceStable(tracked, func(a, b int) bool { return tracked[a].Index < tracked[b].Index })
	res.Logs = len(tracked)

	var events []domain.Event
	for _, l := range tracked {
		ev, err := i.registry.Decode(l)
		if err != nil {
			res.DecodeFailures++
			if err := i.recordDecodeFailure(ctx, l, err); err != nil {
				return res, err
			}
			continue
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	res.Events = len(events)

	if len(events) > 0 {
		ts := i.blockTime(ctx, events[0].Meta().BlockNumber)
		for _, ev := range events {
			ev.Meta().Timestamp = ts
		}
	}

	for _, ev := range events {
		result, err := i.projector.ApplyEvent(ctx, ev)
		if err != nil {
			return res, fmt.Errorf("failed to apply %s: %w", ev.Subject(), err)
		}
		metrics.EventsApplied.WithLabelValues("webhook", string(ev.Meta().Protocol), string(result)).Inc()
		res.count(result)
	}

	if i.seen != nil {
		if err := i.seen.MarkSeen(ctx, key, i.seenTTL); err != nil {
			i.log.Warn("Failed to mark transaction seen", "tx", res.TxHash, "error", err)
		}
	}

	if res.Events > 0 {
		i.log.Info("Ingested transaction",
			"tx", res.TxHash,
			"events", res.Events,
			"applied", res.Applied,
			"duplicates", res.Duplicates,
		)
	}
	return res, nil
}

// IngestPayload parses a webhook body and ingests every transaction in it.
// Mined-transaction pushes without logs are resolved through the receipt.
func (i *Ingestor) IngestPayload(ctx context.Context, body []byte) ([]IngestResult, error) {
	p, groups, err := ParsePayload(body)
	if err != nil {
		return nil, err
	}

	results := make([]IngestResult, 0, len(groups))
	for _, g := range groups {
		var (
			res IngestResult
			err error
		)
		if g.NeedsReceipt {
			res, err = i.IngestTransaction(ctx, g.TxHash)
		} else {
			res, err = i.Ingest(ctx, g.TxHash, g.Logs)
		}
		if err != nil {
			return results, fmt.Errorf("%s %s: %w", p.Type, g.TxHash.Hex(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// IngestTransaction fetches the receipt of txHash, waiting for it to become
// visible, and ingests its logs.
func (i *Ingestor) IngestTransaction(ctx context.Context, txHash common.Hash) (IngestResult, error) {
	receipt, err := i.chain.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return IngestResult{TxHash: domain.NormalizeHash(txHash)}, fmt.Errorf("failed to fetch receipt: %w", err)
	}
	if !receipt.Succeeded() {
		return IngestResult{TxHash: domain.NormalizeHash(txHash), Reverted: true}, nil
	}
	return i.Ingest(ctx, txHash, receipt.Logs)
}

func (i *Ingestor) blockTime(ctx context.Context, block uint64) time.Time {
	if block == 0 || i.chain == nil {
		return time.Time{}
	}
	ts, err := i.chain.BlockTimestamp(ctx, block)
	if err != nil {
		i.log.Warn("Block timestamp unavailable, using receive time", "block", block, "error", err)
		return time.Time{}
	}
	return ts
}

func (i *Ingestor) recordDecodeFailure(ctx context.Context, l types.Log, cause error) error {
	protocol, _ := i.registry.ProtocolOf(l.Address)
	metrics.DecodeFailures.WithLabelValues(string(protocol)).Inc()
	i.log.Warn("Failed to decode log", "tx", l.TxHash.Hex(), "index", l.Index, "error", cause)

	an := domain.NewAnomaly(domain.AnomalyDecodeFailure, protocol, "", cause.Error())
	an.TxHash = domain.NormalizeHash(l.TxHash)
	if l.BlockNumber > 0 {
		block := int64(l.BlockNumber)
		an.BlockNumber = &block
	}
	if err := i.anomalies.Record(ctx, an); err != nil {
		return fmt.Errorf("record decode failure: %w", err)
	}
	return nil
}

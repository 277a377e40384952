package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/metrics"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc"
)

// ErrRangeAborted wraps any failure that left the cursor untouched.
var ErrRangeAborted = errors.New("range aborted, cursor not advanced")

// RunOnce indexes the next confirmed block range. The cursor moves to the
// end of the range only after every event in it has been applied; any
// failure leaves it where it was so the whole range is retried.
func (ix *Indexer) RunOnce(ctx context.Context) (res RunResult, err error) {
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Locked:
			outcome = "locked"
		case res.Idle:
			outcome = "idle"
		}
		metrics.IndexerRunsTotal.WithLabelValues(ix.cfg.StreamID, outcome).Inc()
	}()

	ix.runMu.Lock()
	defer ix.runMu.Unlock()

	// 1. Take the run lock; running without it only costs duplicate work
	if ix.locker != nil {
		unlock, ok, lockErr := ix.locker.TryLock(ctx, ix.lockName(), ix.cfg.LockTTL)
		switch {
		case lockErr != nil:
			ix.log.Warn("Run lock unavailable, continuing without it", "error", lockErr)
		case !ok:
			ix.log.Debug("Run lock held elsewhere, skipping pass")
			return RunResult{Locked: true}, nil
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					ix.log.Warn("Failed to release run lock", "error", err)
				}
			}()
		}
	}

	// 2. Get current position
	cur, err := ix.cursor.Initialize(ctx, ix.cfg.StreamID, ix.cfg.StartBlock)
	if err != nil {
		return res, fmt.Errorf("failed to load cursor: %w", err)
	}

	// 3. Compute the confirmed range
	head, err := ix.heads.GetLatestBlock(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to get chain head: %w", err)
	}
	res.SafeHead = ix.safeHead(head)
	metrics.ChainLatestBlock.WithLabelValues(ix.cfg.StreamID).Set(float64(res.SafeHead))
	metrics.IndexerLatestBlock.WithLabelValues(ix.cfg.StreamID).Set(float64(cur.LastProcessedBlock))

	from := cur.NextBlock()
	if from > res.SafeHead {
		res.Idle = true
		return res, nil
	}
	to := min(res.SafeHead, cur.LastProcessedBlock+ix.cfg.MaxBlockRange)
	res.FromBlock, res.ToBlock = from, to

	// 4. Fetch logs of both contracts
	logs, err := ix.fetchLogs(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("%w: blocks %d-%d: %w", ErrRangeAborted, from, to, err)
	}
	res.Logs = len(logs)

	// 5. Decode; malformed logs are skipped and recorded once the range commits
	events, failures := ix.decode(logs)
	res.Events = len(events)
	res.DecodeFailures = len(failures)

	// 6. Resolve block timestamps
	if err := ix.stampEvents(ctx, events); err != nil {
		return res, fmt.Errorf("%w: blocks %d-%d: %w", ErrRangeAborted, from, to, err)
	}

	// 7. Apply
	if err := ix.apply(ctx, events, &res); err != nil {
		return res, fmt.Errorf("%w: blocks %d-%d: %w", ErrRangeAborted, from, to, err)
	}

	// 8. Record decode failures
	if err := ix.recordFailures(ctx, failures); err != nil {
		return res, fmt.Errorf("%w: blocks %d-%d: %w", ErrRangeAborted, from, to, err)
	}

	// 9. Update cursor
	if err := ix.cursor.Advance(ctx, ix.cfg.StreamID, to); err != nil {
		return res, fmt.Errorf("failed to advance cursor to %d: %w", to, err)
	}
	metrics.IndexerLatestBlock.WithLabelValues(ix.cfg.StreamID).Set(float64(to))

	ix.log.Info("Indexed block range",
		"from", from,
		"to", to,
		"safe_head", res.SafeHead,
		"logs", res.Logs,
		"applied", res.Applied,
		"duplicates", res.Duplicates,
		"ignored", res.Ignored,
		"anomalies", res.Anomalies,
		"decode_failures", res.DecodeFailures,
	)
	return res, nil
}

// fetchLogs splits [from, to] into chunks fetched with bounded concurrency
// and returns the live logs in (block, index) order.
func (ix *Indexer) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	windows := Range{Start: from, End: to}.Split(ix.cfg.LogChunkSize)

	chunks := make([][]types.Log, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.FetchConcurrency)
	for i, w := range windows {
		g.Go(func() error {
			logs, err := ix.chain.GetLogs(gctx, rpc.LogFilter{
				FromBlock: w.Start,
				ToBlock:   w.End,
				Addresses: ix.registry.Addresses(),
				Topics:    [][]common.Hash{ix.registry.Topics()},
			})
			if err != nil {
				return fmt.Errorf("get logs %s: %w", w, err)
			}
			chunks[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.Log
	for _, chunk := range chunks {
		for _, l := range chunk {
			if l.Removed {
				continue
			}
			out = append(out, l)
		}
	}
	sortLogs(out)
	return out, nil
}

func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}

// decode turns logs into events. A log that fails to decode is skipped and
// returned as an anomaly for the caller to record.
func (ix *Indexer) decode(logs []types.Log) ([]domain.Event, []*domain.Anomaly) {
	var (
		events   []domain.Event
		failures []*domain.Anomaly
	)
	for _, l := range logs {
		ev, err := ix.registry.Decode(l)
		if err == nil {
			if ev != nil {
				events = append(events, ev)
			}
			continue
		}

		protocol, _ := ix.registry.ProtocolOf(l.Address)
		ix.log.Warn("Failed to decode log",
			"tx", l.TxHash.Hex(),
			"block", l.BlockNumber,
			"index", l.Index,
			"error", err,
		)

		an := domain.NewAnomaly(domain.AnomalyDecodeFailure, protocol, "",
			fmt.Sprintf("log %d: %v", l.Index, err))
		an.TxHash = domain.NormalizeHash(l.TxHash)
		block := int64(l.BlockNumber)
		an.BlockNumber = &block
		failures = append(failures, an)
	}
	return events, failures
}

// recordFailures persists decode failures of a range that applied cleanly,
// so an aborted range does not record them once per retry.
func (ix *Indexer) recordFailures(ctx context.Context, failures []*domain.Anomaly) error {
	for _, an := range failures {
		if err := ix.anomalies.Record(ctx, an); err != nil {
			return fmt.Errorf("record decode failure: %w", err)
		}
		metrics.DecodeFailures.WithLabelValues(string(an.Protocol)).Inc()
	}
	return nil
}

func (ix *Indexer) stampEvents(ctx context.Context, events []domain.Event) error {
	blocks := make(map[uint64]struct{})
	for _, ev := range events {
		blocks[ev.Meta().BlockNumber] = struct{}{}
	}

	var mu sync.Mutex
	stamps := make(map[uint64]time.Time, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.FetchConcurrency)
	for n := range blocks {
		g.Go(func() error {
			t, err := ix.times.Get(gctx, n)
			if err != nil {
				return fmt.Errorf("timestamp of block %d: %w", n, err)
			}
			mu.Lock()
			stamps[n] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, ev := range events {
		meta := ev.Meta()
		meta.Timestamp = stamps[meta.BlockNumber]
	}
	return nil
}

// apply partitions events by subject. Subjects apply in parallel, events of
// one subject keep log order.
func (ix *Indexer) apply(ctx context.Context, events []domain.Event, res *RunResult) error {
	var (
		order  []string
		groups = make(map[string][]domain.Event)
	)
	for _, ev := range events {
		key := ev.Subject()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.ApplyConcurrency)
	for _, key := range order {
		group := groups[key]
		g.Go(func() error {
			for _, ev := range group {
				result, err := ix.projector.ApplyEvent(gctx, ev)
				if err != nil {
					return err
				}
				metrics.EventsApplied.WithLabelValues("poll", string(ev.Meta().Protocol), string(result)).Inc()
				mu.Lock()
				res.count(result)
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jc4p/mint-exchange-sub001/internal/core/cursor"
	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/projector"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// ChainReader is the part of rpc.Client the indexer polls.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (time.Time, error)
	GetLogs(ctx context.Context, filter rpc.LogFilter) ([]types.Log, error)
}

// Applier applies one decoded event to the projection.
type Applier interface {
	ApplyEvent(ctx context.Context, ev domain.Event) (projector.Result, error)
}

// Locker takes a best-effort lease shared across processes.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// Config holds indexer configuration
type Config struct {
	StreamID         string
	StartBlock       uint64
	Confirmations    uint64
	MaxBlockRange    uint64
	LogChunkSize     uint64
	FetchConcurrency int
	ApplyConcurrency int
	PollInterval     time.Duration
	HeadCacheTTL     time.Duration
	LockTTL          time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamID == "" {
		c.StreamID = "marketplace"
	}
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = 2000
	}
	if c.LogChunkSize == 0 {
		c.LogChunkSize = 500
	}
	if c.LogChunkSize > c.MaxBlockRange {
		c.LogChunkSize = c.MaxBlockRange
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 4
	}
	if c.ApplyConcurrency <= 0 {
		c.ApplyConcurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	return c
}

// RunResult summarises one RunOnce pass.
type RunResult struct {
	FromBlock      uint64
	ToBlock        uint64
	SafeHead       uint64
	Logs           int
	Events         int
	Applied        int
	Duplicates     int
	Ignored        int
	Anomalies      int
	DecodeFailures int
	// Idle is set when there was no new confirmed block to index.
	Idle bool
	// Locked is set when another process held the run lock.
	Locked bool
}

// CaughtUp reports whether the pass reached the confirmed head.
func (r RunResult) CaughtUp() bool {
	return r.Idle || r.Locked || r.ToBlock >= r.SafeHead
}

func (r *RunResult) count(res projector.Result) {
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

// Status is the indexer position as reported to operators.
type Status struct {
	StreamID        string  `json:"stream_id"`
	CurrentBlock    uint64  `json:"current_block"`
	SafeHead        uint64  `json:"safe_head"`
	Lag             uint64  `json:"lag"`
	BlocksPerSecond float64 `json:"blocks_per_second"`
}

// Indexer discovers marketplace logs by polling and feeds them to the projector.
type Indexer struct {
	cfg       Config
	chain     ChainReader
	heads     *HeadCache
	times     *TimestampCache
	registry  *chain.Registry
	cursor    cursor.Manager
	projector Applier
	anomalies storage.AnomalyRepository
	locker    Locker
	log       *slog.Logger

	// runMu serialises passes and reindexing within the process.
	runMu sync.Mutex
}

// New creates an indexer. locker may be nil.
func New(
	cfg Config,
	reader ChainReader,
	registry *chain.Registry,
	cursors cursor.Manager,
	applier Applier,
	anomalies storage.AnomalyRepository,
	locker Locker,
) *Indexer {
	cfg = cfg.withDefaults()
	return &Indexer{
		cfg:       cfg,
		chain:     reader,
		heads:     NewHeadCache(reader, cfg.HeadCacheTTL),
		times:     NewTimestampCache(reader, 4096),
		registry:  registry,
		cursor:    cursors,
		projector: applier,
		anomalies: anomalies,
		locker:    locker,
		log:       slog.Default().With("component", "indexer", "stream", cfg.StreamID),
	}
}

// ErrRunInProgress is returned by Reindex while another process holds the
// run lock.
var ErrRunInProgress = errors.New("indexer run in progress")

// StreamID returns the cursor stream the indexer advances.
func (ix *Indexer) StreamID() string {
	return ix.cfg.StreamID
}

// Status reads the cursor and the confirmed head.
func (ix *Indexer) Status(ctx context.Context) (Status, error) {
	st := Status{StreamID: ix.cfg.StreamID}

	c, err := ix.cursor.Get(ctx, ix.cfg.StreamID)
	if err != nil {
		return st, err
	}
	st.CurrentBlock = c.LastProcessedBlock

	head, err := ix.heads.GetLatestBlock(ctx)
	if err != nil {
		return st, err
	}
	st.SafeHead = ix.safeHead(head)
	if st.SafeHead > st.CurrentBlock {
		st.Lag = st.SafeHead - st.CurrentBlock
	}
	st.BlocksPerSecond = ix.cursor.GetMetrics(ix.cfg.StreamID).BlocksPerSecond
	return st, nil
}

func (ix *Indexer) safeHead(head uint64) uint64 {
	if head < ix.cfg.Confirmations {
		return 0
	}
	return head - ix.cfg.Confirmations
}

func (ix *Indexer) lockName() string {
	return "indexer:" + ix.cfg.StreamID
}

// Reindex moves the cursor back so the next pass starts at fromBlock and
// returns the new last processed block. It holds the same locks as RunOnce,
// so a pass in flight cannot advance the cursor past the reset.
func (ix *Indexer) Reindex(ctx context.Context, fromBlock uint64) (uint64, error) {
	ix.runMu.Lock()
	defer ix.runMu.Unlock()

	if ix.locker != nil {
		unlock, ok, err := ix.locker.TryLock(ctx, ix.lockName(), ix.cfg.LockTTL)
		switch {
		case err != nil:
			ix.log.Warn("Run lock unavailable, resetting without it", "error", err)
		case !ok:
			return 0, ErrRunInProgress
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					ix.log.Warn("Failed to release run lock", "error", err)
				}
			}()
		}
	}

	var block uint64
	if fromBlock > 0 {
		block = fromBlock - 1
	}
	if err := ix.cursor.Reset(ctx, ix.cfg.StreamID, block); err != nil {
		return 0, fmt.Errorf("failed to reset cursor: %w", err)
	}
	ix.log.Warn("Cursor reset for reindex", "from_block", fromBlock, "last_processed_block", block)
	return block, nil
}

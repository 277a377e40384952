// Package cursor tracks how far each indexing stream has processed the chain.
//
// # Purpose
//
// A stream's cursor is the last block whose events have all been applied to
// the projection. The indexer resumes from the block after it, so:
//   - the cursor only moves after a whole range is applied
//   - a failed range leaves the cursor where it was
//   - replaying a range is harmless because projection is idempotent
//
// # Monotonicity
//
// Advance never moves a cursor backwards, even when two processes race on
// the same stream. Only Reset, used by the administrative reindex, may
// rewind it.
//
// # Quick Start
//
//	manager := cursor.NewManager(store.Cursors())
//
//	// Create the cursor just before the deployment block
//	c, _ := manager.Initialize(ctx, "chain-8453", 12_000_000)
//
//	// After applying blocks c.NextBlock() .. 12_000_500
//	manager.Advance(ctx, "chain-8453", 12_000_500)
//
//	// Reindex from a block
//	manager.Reset(ctx, "chain-8453", 11_999_999)
//
// # Package Structure
//
//   - manager.go - Manager implementation over a storage.CursorRepository
//   - metrics.go - Throughput metrics (blocks/sec)
package cursor

import (
	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// Cursor is the stored position of one stream.
type Cursor = domain.BlockCursor

// NewManager creates a new cursor manager with the given repository.
func NewManager(repo storage.CursorRepository) *DefaultManager {
	return &DefaultManager{
		repo:      repo,
		collector: make(map[string]*MetricsCollector),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize: windowSize,
		advances:   make([]advanceRecord, 0, windowSize),
	}
}

package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// ErrCursorNotFound is returned when a stream has no cursor yet.
var ErrCursorNotFound = storage.ErrCursorNotFound

// Manager handles cursor operations.
type Manager interface {
	// Get retrieves the current cursor for a stream.
	Get(ctx context.Context, streamID string) (*Cursor, error)

	// Initialize returns the stream's cursor, creating it just before
	// startBlock when the stream is new.
	Initialize(ctx context.Context, streamID string, startBlock uint64) (*Cursor, error)

	// Advance records that every block up to and including block is applied.
	Advance(ctx context.Context, streamID string, block uint64) error

	// Reset moves the cursor to block, backwards if needed.
	Reset(ctx context.Context, streamID string, block uint64) error

	// GetLag returns how many blocks the stream is behind head.
	GetLag(ctx context.Context, streamID string, head uint64) (int64, error)

	// GetMetrics returns throughput metrics for a stream.
	GetMetrics(streamID string) Metrics
}

// DefaultManager implements Manager on a storage.CursorRepository.
type DefaultManager struct {
	repo      storage.CursorRepository
	mu        sync.RWMutex
	collector map[string]*MetricsCollector
}

// Get retrieves the current cursor for a stream.
func (m *DefaultManager) Get(ctx context.Context, streamID string) (*Cursor, error) {
	return m.repo.Get(ctx, streamID)
}

// Initialize creates the cursor at startBlock-1 if the stream is new. An
// existing cursor is returned unchanged.
func (m *DefaultManager) Initialize(ctx context.Context, streamID string, startBlock uint64) (*Cursor, error) {
	c, err := m.repo.Get(ctx, streamID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, storage.ErrCursorNotFound) {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	var initial uint64
	if startBlock > 0 {
		initial = startBlock - 1
	}
	c, err = m.repo.Init(ctx, streamID, initial)
	if err != nil {
		return nil, fmt.Errorf("failed to init cursor: %w", err)
	}
	return c, nil
}

// Advance moves the cursor forward. A block at or below the current
// position is a no-op.
func (m *DefaultManager) Advance(ctx context.Context, streamID string, block uint64) error {
	c, err := m.repo.Get(ctx, streamID)
	if err != nil && !errors.Is(err, storage.ErrCursorNotFound) {
		return fmt.Errorf("failed to get cursor: %w", err)
	}
	if c != nil && block <= c.LastProcessedBlock {
		return nil
	}

	if err := m.repo.Advance(ctx, streamID, block); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}

	m.mu.Lock()
	collector, ok := m.collector[streamID]
	if !ok {
		collector = NewMetricsCollector(100)
		m.collector[streamID] = collector
	}
	collector.RecordAdvance(block, time.Now())
	m.mu.Unlock()

	return nil
}

// Reset overwrites the cursor. Used by the administrative reindex only.
func (m *DefaultManager) Reset(ctx context.Context, streamID string, block uint64) error {
	if err := m.repo.Reset(ctx, streamID, block); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}

	m.mu.Lock()
	if collector, ok := m.collector[streamID]; ok {
		collector.Reset()
	}
	m.mu.Unlock()

	return nil
}

// GetLag returns how many blocks behind head the stream is.
func (m *DefaultManager) GetLag(ctx context.Context, streamID string, head uint64) (int64, error) {
	c, err := m.repo.Get(ctx, streamID)
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return int64(head) - int64(c.LastProcessedBlock), nil
}

// GetMetrics returns performance metrics for a stream.
func (m *DefaultManager) GetMetrics(streamID string) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if collector, ok := m.collector[streamID]; ok {
		return collector.GetMetrics()
	}
	return Metrics{}
}

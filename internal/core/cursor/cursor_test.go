package cursor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// =============================================================================
// Mock Repository
// =============================================================================

type mockCursorRepo struct {
	mu       sync.RWMutex
	cursors  map[string]*domain.BlockCursor
	advances int
	failNext error
}

func newMockCursorRepo() *mockCursorRepo {
	return &mockCursorRepo{
		cursors: make(map[string]*domain.BlockCursor),
	}
}

func (r *mockCursorRepo) Get(ctx context.Context, streamID string) (*domain.BlockCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cursors[streamID]
	if !ok {
		return nil, storage.ErrCursorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *mockCursorRepo) Init(ctx context.Context, streamID string, block uint64) (*domain.BlockCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cursors[streamID]; !ok {
		r.cursors[streamID] = &domain.BlockCursor{StreamID: streamID, LastProcessedBlock: block, UpdatedAt: time.Now()}
	}
	cp := *r.cursors[streamID]
	return &cp, nil
}

func (r *mockCursorRepo) Advance(ctx context.Context, streamID string, block uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	r.advances++
	c, ok := r.cursors[streamID]
	if !ok {
		c = &domain.BlockCursor{StreamID: streamID}
		r.cursors[streamID] = c
	}
	if block > c.LastProcessedBlock {
		c.LastProcessedBlock = block
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (r *mockCursorRepo) Reset(ctx context.Context, streamID string, block uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cursors[streamID] = &domain.BlockCursor{StreamID: streamID, LastProcessedBlock: block, UpdatedAt: time.Now()}
	return nil
}

func (r *mockCursorRepo) List(ctx context.Context) ([]*domain.BlockCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.BlockCursor, 0, len(r.cursors))
	for _, c := range r.cursors {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManagerInitialize(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	c, err := manager.Initialize(ctx, "chain-8453", 1000)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if c.StreamID != "chain-8453" {
		t.Errorf("expected stream 'chain-8453', got %s", c.StreamID)
	}
	if c.LastProcessedBlock != 999 {
		t.Errorf("expected block 999, got %d", c.LastProcessedBlock)
	}
	if c.NextBlock() != 1000 {
		t.Errorf("expected next block 1000, got %d", c.NextBlock())
	}
}

func TestManagerInitialize_KeepsExisting(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, "chain-8453", 1000)
	_ = manager.Advance(ctx, "chain-8453", 1500)

	c, err := manager.Initialize(ctx, "chain-8453", 1000)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if c.LastProcessedBlock != 1500 {
		t.Errorf("existing cursor overwritten: got %d, want 1500", c.LastProcessedBlock)
	}
}

func TestManagerInitialize_GenesisStart(t *testing.T) {
	manager := NewManager(newMockCursorRepo())

	c, err := manager.Initialize(context.Background(), "s", 0)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if c.LastProcessedBlock != 0 {
		t.Errorf("expected block 0, got %d", c.LastProcessedBlock)
	}
}

func TestManagerAdvance(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, "chain-8453", 1000)

	if err := manager.Advance(ctx, "chain-8453", 1200); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	c, _ := manager.Get(ctx, "chain-8453")
	if c.LastProcessedBlock != 1200 {
		t.Errorf("expected block 1200, got %d", c.LastProcessedBlock)
	}
}

func TestManagerAdvance_NeverMovesBackwards(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, "chain-8453", 1000)
	_ = manager.Advance(ctx, "chain-8453", 1200)

	if err := manager.Advance(ctx, "chain-8453", 1100); err != nil {
		t.Fatalf("stale Advance should be a no-op, got %v", err)
	}
	if err := manager.Advance(ctx, "chain-8453", 1200); err != nil {
		t.Fatalf("repeated Advance should be a no-op, got %v", err)
	}

	c, _ := manager.Get(ctx, "chain-8453")
	if c.LastProcessedBlock != 1200 {
		t.Errorf("cursor moved backwards to %d", c.LastProcessedBlock)
	}
	if repo.advances != 1 {
		t.Errorf("expected 1 repository write, got %d", repo.advances)
	}
}

func TestManagerAdvance_RepoError(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, "chain-8453", 1000)
	boom := errors.New("connection reset")
	repo.failNext = boom

	if err := manager.Advance(ctx, "chain-8453", 1200); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped repo error, got %v", err)
	}
	c, _ := manager.Get(ctx, "chain-8453")
	if c.LastProcessedBlock != 999 {
		t.Errorf("cursor changed after failed write: %d", c.LastProcessedBlock)
	}
}

func TestManagerReset(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, "chain-8453", 1000)
	_ = manager.Advance(ctx, "chain-8453", 5000)

	if err := manager.Reset(ctx, "chain-8453", 1999); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	c, _ := manager.Get(ctx, "chain-8453")
	if c.LastProcessedBlock != 1999 {
		t.Errorf("expected block 1999 after reset, got %d", c.LastProcessedBlock)
	}
	if m := manager.GetMetrics("chain-8453"); m.LastAdvanceAt != nil {
		t.Error("expected metrics cleared after reset")
	}
}

func TestManagerGetLag(t *testing.T) {
	manager := NewManager(newMockCursorRepo())
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, "chain-8453", 1000)
	_ = manager.Advance(ctx, "chain-8453", 1090)

	lag, err := manager.GetLag(ctx, "chain-8453", 1100)
	if err != nil {
		t.Fatalf("GetLag failed: %v", err)
	}
	if lag != 10 {
		t.Errorf("expected lag 10, got %d", lag)
	}

	if _, err := manager.GetLag(ctx, "unknown", 1100); !errors.Is(err, ErrCursorNotFound) {
		t.Errorf("expected ErrCursorNotFound, got %v", err)
	}
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector(3)
	base := time.Unix(1_700_000_000, 0)

	mc.RecordAdvance(100, base)
	mc.RecordAdvance(200, base.Add(10*time.Second))
	mc.RecordAdvance(300, base.Add(20*time.Second))
	mc.RecordAdvance(400, base.Add(30*time.Second)) // evicts 100

	m := mc.GetMetrics()
	if m.LastBlock != 400 {
		t.Errorf("expected last block 400, got %d", m.LastBlock)
	}
	// 200 blocks over 20s
	if m.BlocksPerSecond != 10 {
		t.Errorf("expected 10 blocks/sec, got %f", m.BlocksPerSecond)
	}

	mc.Reset()
	if got := mc.GetMetrics(); got.LastAdvanceAt != nil || got.BlocksPerSecond != 0 {
		t.Errorf("expected empty metrics after reset, got %+v", got)
	}
}

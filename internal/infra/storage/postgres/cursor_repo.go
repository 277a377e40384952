package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	q sqlx.ExtContext
}

const cursorColumns = `stream_id, last_processed_block, updated_at`

// Get retrieves a cursor by stream ID.
func (r *CursorRepo) Get(ctx context.Context, streamID string) (*domain.BlockCursor, error) {
	var c domain.BlockCursor
	err := sqlx.GetContext(ctx, r.q, &c,
		`SELECT `+cursorColumns+` FROM indexed_blocks WHERE stream_id = $1`, streamID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &c, nil
}

// Init inserts the cursor when absent and returns whatever is stored.
func (r *CursorRepo) Init(ctx context.Context, streamID string, block uint64) (*domain.BlockCursor, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO indexed_blocks (stream_id, last_processed_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (stream_id) DO NOTHING`, streamID, int64(block))
	if err != nil {
		return nil, fmt.Errorf("failed to init cursor: %w", err)
	}
	return r.Get(ctx, streamID)
}

// Advance moves the cursor forward. GREATEST keeps it monotonic when two
// writers race.
func (r *CursorRepo) Advance(ctx context.Context, streamID string, block uint64) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO indexed_blocks (stream_id, last_processed_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (stream_id) DO UPDATE
		SET last_processed_block = GREATEST(indexed_blocks.last_processed_block, EXCLUDED.last_processed_block),
		    updated_at = NOW()`, streamID, int64(block))
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}

// Reset overwrites the cursor, allowing it to move backwards.
func (r *CursorRepo) Reset(ctx context.Context, streamID string, block uint64) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO indexed_blocks (stream_id, last_processed_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (stream_id) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = NOW()`,
		streamID, int64(block))
	if err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	return nil
}

// List returns all cursors.
func (r *CursorRepo) List(ctx context.Context) ([]*domain.BlockCursor, error) {
	var out []*domain.BlockCursor
	if err := sqlx.SelectContext(ctx, r.q, &out,
		`SELECT `+cursorColumns+` FROM indexed_blocks ORDER BY stream_id`); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return out, nil
}

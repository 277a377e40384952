package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
)

// ActivityRepo implements storage.ActivityRepository using PostgreSQL.
type ActivityRepo struct {
	q sqlx.ExtContext
}

// Insert appends an activity row; a conflict on (tx_hash, type, subject_key)
// inserts nothing and reports false.
func (r *ActivityRepo) Insert(ctx context.Context, a *domain.Activity) (bool, error) {
	query, args, err := r.q.BindNamed(`
		INSERT INTO activity (type, protocol, subject_key, listing_id, offer_id, tx_hash,
			block_number, log_index, actor, counterparty, nft_contract, token_id, price, occurred_at)
		VALUES (:type, :protocol, :subject_key, :listing_id, :offer_id, :tx_hash,
			:block_number, :log_index, :actor, :counterparty, :nft_contract, :token_id, :price, :occurred_at)
		ON CONFLICT ON CONSTRAINT activity_event_key DO NOTHING
		RETURNING id, created_at`, a)
	if err != nil {
		return false, fmt.Errorf("failed to bind activity insert: %w", err)
	}

	err = r.q.QueryRowxContext(ctx, query, args...).Scan(&a.ID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert activity: %w", err)
	}
	return true, nil
}

// ListBySubject returns the activity of one natural key.
func (r *ActivityRepo) ListBySubject(ctx context.Context, subjectKey string) ([]*domain.Activity, error) {
	var out []*domain.Activity
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT id, type, protocol, subject_key, listing_id, offer_id, tx_hash, block_number,
			log_index, actor, counterparty, nft_contract, token_id, price, occurred_at, created_at
		FROM activity WHERE subject_key = $1 ORDER BY id`, subjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return out, nil
}

// AnomalyRepo implements storage.AnomalyRepository using PostgreSQL.
type AnomalyRepo struct {
	q sqlx.ExtContext
}

// Record stores an anomaly.
func (r *AnomalyRepo) Record(ctx context.Context, a *domain.Anomaly) error {
	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO anomalies (id, kind, protocol, subject_key, tx_hash, block_number, detail, created_at)
		VALUES (:id, :kind, :protocol, :subject_key, :tx_hash, :block_number, :detail, :created_at)`, a)
	if err != nil {
		return fmt.Errorf("failed to record anomaly: %w", err)
	}
	return nil
}

// List returns the newest anomalies, optionally of one kind.
func (r *AnomalyRepo) List(ctx context.Context, kind domain.AnomalyKind, limit int) ([]*domain.Anomaly, error) {
	var out []*domain.Anomaly
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT id, kind, protocol, subject_key, tx_hash, block_number, detail, created_at
		FROM anomalies
		WHERE $1 = '' OR kind = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	return out, nil
}

// CountByKind groups anomalies by kind.
func (r *AnomalyRepo) CountByKind(ctx context.Context) (map[domain.AnomalyKind]int, error) {
	rows, err := r.q.QueryxContext(ctx, `SELECT kind, COUNT(*) FROM anomalies GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count anomalies: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AnomalyKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly count: %w", err)
		}
		counts[domain.AnomalyKind(kind)] = n
	}
	return counts, rows.Err()
}

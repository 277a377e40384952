package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// ListingRepo implements storage.ListingRepository using PostgreSQL.
type ListingRepo struct {
	q sqlx.ExtContext
}

const listingColumns = `id, protocol, blockchain_listing_id, order_hash, seller, nft_contract,
	token_id, price, payment_token, expires_at, created_at, sold_at, cancelled_at, buyer,
	order_parameters, creation_tx_hash, terminal_tx_hash, last_checked_at`

// Insert creates a listing unless its natural key already exists.
func (r *ListingRepo) Insert(ctx context.Context, l *domain.Listing) (bool, error) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	query, args, err := r.q.BindNamed(`
		INSERT INTO listings (protocol, blockchain_listing_id, order_hash, seller, nft_contract,
			token_id, price, payment_token, expires_at, created_at, order_parameters, creation_tx_hash)
		VALUES (:protocol, :blockchain_listing_id, :order_hash, :seller, :nft_contract,
			:token_id, :price, :payment_token, :expires_at, :created_at, :order_parameters, :creation_tx_hash)
		ON CONFLICT DO NOTHING
		RETURNING id`, l)
	if err != nil {
		return false, fmt.Errorf("failed to bind listing insert: %w", err)
	}

	var id int64
	err = r.q.QueryRowxContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert listing: %w", err)
	}
	l.ID = id
	return true, nil
}

func (r *ListingRepo) get(ctx context.Context, where string, arg any) (*domain.Listing, error) {
	var l domain.Listing
	err := sqlx.GetContext(ctx, r.q, &l, `SELECT `+listingColumns+` FROM listings WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &l, nil
}

// GetByBlockchainID retrieves an exchange listing.
func (r *ListingRepo) GetByBlockchainID(ctx context.Context, listingID string) (*domain.Listing, error) {
	return r.get(ctx, `blockchain_listing_id = $1`, listingID)
}

// GetByOrderHash retrieves a Seaport listing.
func (r *ListingRepo) GetByOrderHash(ctx context.Context, orderHash string) (*domain.Listing, error) {
	return r.get(ctx, `order_hash = $1`, orderHash)
}

// MarkSold sets sold_at on an open listing.
func (r *ListingRepo) MarkSold(ctx context.Context, id int64, t storage.Terminal) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE listings
		SET sold_at = $2, terminal_tx_hash = $3, buyer = COALESCE($4, buyer)
		WHERE id = $1 AND sold_at IS NULL AND cancelled_at IS NULL`,
		id, t.At, t.TxHash, t.Counterparty)
	if err != nil {
		return false, fmt.Errorf("failed to mark listing sold: %w", err)
	}
	return affected(res)
}

// MarkCancelled sets cancelled_at on an open listing.
func (r *ListingRepo) MarkCancelled(ctx context.Context, id int64, t storage.Terminal) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE listings
		SET cancelled_at = $2, terminal_tx_hash = $3
		WHERE id = $1 AND sold_at IS NULL AND cancelled_at IS NULL`,
		id, t.At, t.TxHash)
	if err != nil {
		return false, fmt.Errorf("failed to mark listing cancelled: %w", err)
	}
	return affected(res)
}

// ListOpen returns open listings, never-checked rows first.
func (r *ListingRepo) ListOpen(ctx context.Context, limit int) ([]*domain.Listing, error) {
	var out []*domain.Listing
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT `+listingColumns+` FROM listings
		WHERE sold_at IS NULL AND cancelled_at IS NULL
		ORDER BY last_checked_at NULLS FIRST, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open listings: %w", err)
	}
	return out, nil
}

// Touch stamps last_checked_at.
func (r *ListingRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE listings SET last_checked_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to touch listing: %w", err)
	}
	return nil
}

// ListWithParameters pages through Seaport listings with stored order parameters.
func (r *ListingRepo) ListWithParameters(ctx context.Context, afterID int64, limit int) ([]*domain.Listing, error) {
	var out []*domain.Listing
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT `+listingColumns+` FROM listings
		WHERE id > $1 AND protocol = $2 AND order_parameters IS NOT NULL
		ORDER BY id
		LIMIT $3`, afterID, string(domain.ProtocolSeaport), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list listing parameters: %w", err)
	}
	return out, nil
}

// UpdateOrderHash replaces the stored hash of a listing.
func (r *ListingRepo) UpdateOrderHash(ctx context.Context, id int64, orderHash string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE listings SET order_hash = $2 WHERE id = $1`, id, orderHash)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update listing order hash: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		if err == nil {
			err = storage.ErrNotFound
		}
		return err
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

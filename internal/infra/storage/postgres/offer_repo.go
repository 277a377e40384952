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

// OfferRepo implements storage.OfferRepository using PostgreSQL.
type OfferRepo struct {
	q sqlx.ExtContext
}

const offerColumns = `id, protocol, blockchain_offer_id, order_hash, buyer, nft_contract,
	token_id, price, payment_token, expires_at, created_at, accepted_at, cancelled_at, seller,
	order_parameters, creation_tx_hash, terminal_tx_hash, last_checked_at`

// Insert creates an offer unless its natural key already exists.
func (r *OfferRepo) Insert(ctx context.Context, o *domain.Offer) (bool, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	query, args, err := r.q.BindNamed(`
		INSERT INTO offers (protocol, blockchain_offer_id, order_hash, buyer, nft_contract,
			token_id, price, payment_token, expires_at, created_at, order_parameters, creation_tx_hash)
		VALUES (:protocol, :blockchain_offer_id, :order_hash, :buyer, :nft_contract,
			:token_id, :price, :payment_token, :expires_at, :created_at, :order_parameters, :creation_tx_hash)
		ON CONFLICT DO NOTHING
		RETURNING id`, o)
	if err != nil {
		return false, fmt.Errorf("failed to bind offer insert: %w", err)
	}

	var id int64
	err = r.q.QueryRowxContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert offer: %w", err)
	}
	o.ID = id
	return true, nil
}

func (r *OfferRepo) get(ctx context.Context, where string, arg any) (*domain.Offer, error) {
	var o domain.Offer
	err := sqlx.GetContext(ctx, r.q, &o, `SELECT `+offerColumns+` FROM offers WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return &o, nil
}

// GetByBlockchainID retrieves an exchange offer.
func (r *OfferRepo) GetByBlockchainID(ctx context.Context, offerID string) (*domain.Offer, error) {
	return r.get(ctx, `blockchain_offer_id = $1`, offerID)
}

// GetByOrderHash retrieves a Seaport offer.
func (r *OfferRepo) GetByOrderHash(ctx context.Context, orderHash string) (*domain.Offer, error) {
	return r.get(ctx, `order_hash = $1`, orderHash)
}

// MarkAccepted sets accepted_at on an open offer.
func (r *OfferRepo) MarkAccepted(ctx context.Context, id int64, t storage.Terminal) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE offers
		SET accepted_at = $2, terminal_tx_hash = $3, seller = COALESCE($4, seller)
		WHERE id = $1 AND accepted_at IS NULL AND cancelled_at IS NULL`,
		id, t.At, t.TxHash, t.Counterparty)
	if err != nil {
		return false, fmt.Errorf("failed to mark offer accepted: %w", err)
	}
	return affected(res)
}

// MarkCancelled sets cancelled_at on an open offer.
func (r *OfferRepo) MarkCancelled(ctx context.Context, id int64, t storage.Terminal) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE offers
		SET cancelled_at = $2, terminal_tx_hash = $3
		WHERE id = $1 AND accepted_at IS NULL AND cancelled_at IS NULL`,
		id, t.At, t.TxHash)
	if err != nil {
		return false, fmt.Errorf("failed to mark offer cancelled: %w", err)
	}
	return affected(res)
}

// ListOpen returns open offers, never-checked rows first.
func (r *OfferRepo) ListOpen(ctx context.Context, limit int) ([]*domain.Offer, error) {
	var out []*domain.Offer
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT `+offerColumns+` FROM offers
		WHERE accepted_at IS NULL AND cancelled_at IS NULL
		ORDER BY last_checked_at NULLS FIRST, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open offers: %w", err)
	}
	return out, nil
}

// Touch stamps last_checked_at.
func (r *OfferRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE offers SET last_checked_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to touch offer: %w", err)
	}
	return nil
}

// ListWithParameters pages through Seaport offers with stored order parameters.
func (r *OfferRepo) ListWithParameters(ctx context.Context, afterID int64, limit int) ([]*domain.Offer, error) {
	var out []*domain.Offer
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT `+offerColumns+` FROM offers
		WHERE id > $1 AND protocol = $2 AND order_parameters IS NOT NULL
		ORDER BY id
		LIMIT $3`, afterID, string(domain.ProtocolSeaport), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list offer parameters: %w", err)
	}
	return out, nil
}

// UpdateOrderHash replaces the stored hash of an offer.
func (r *OfferRepo) UpdateOrderHash(ctx context.Context, id int64, orderHash string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE offers SET order_hash = $2 WHERE id = $1`, id, orderHash)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update offer order hash: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		if err == nil {
			err = storage.ErrNotFound
		}
		return err
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// Store implements storage.Store on PostgreSQL. The zero-transaction form
// runs each statement on the pool; WithinTx hands fn a store bound to one
// transaction.
type Store struct {
	db *DB
	q  sqlx.ExtContext
	tx bool
}

// NewStore creates a store over db.
func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.DB}
}

func (s *Store) Cursors() storage.CursorRepository { return &CursorRepo{q: s.q} }

func (s *Store) Listings() storage.ListingRepository { return &ListingRepo{q: s.q} }

func (s *Store) Offers() storage.OfferRepository { return &OfferRepo{q: s.q} }

func (s *Store) Activities() storage.ActivityRepository { return &ActivityRepo{q: s.q} }

func (s *Store) Anomalies() storage.AnomalyRepository { return &AnomalyRepo{q: s.q} }

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx, tx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

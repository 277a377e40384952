package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
)

var (
	// ErrNotFound is returned when a listing or offer doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrCursorNotFound is returned when a cursor doesn't exist
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrConflict is returned when a write would break a uniqueness constraint
	ErrConflict = errors.New("unique constraint conflict")
)

// CursorRepository handles per-stream block cursors
type CursorRepository interface {
	// Get retrieves the cursor for a stream
	Get(ctx context.Context, streamID string) (*domain.BlockCursor, error)

	// Init creates the cursor at block if absent and returns the stored row
	Init(ctx context.Context, streamID string, block uint64) (*domain.BlockCursor, error)

	// Advance moves the cursor forward; it never moves backwards
	Advance(ctx context.Context, streamID string, block uint64) error

	// Reset sets the cursor unconditionally (administrative reindex)
	Reset(ctx context.Context, streamID string, block uint64) error

	// List returns every stream cursor
	List(ctx context.Context) ([]*domain.BlockCursor, error)
}

// Terminal describes a guarded transition of an open order to a final state.
type Terminal struct {
	At     time.Time
	TxHash string
	// Counterparty is the buyer of a sold listing or the seller of an accepted offer.
	Counterparty *string
}

// ListingRepository handles listing rows
type ListingRepository interface {
	// Insert creates the listing unless its natural key exists. It reports
	// whether a row was created and sets l.ID when it was.
	Insert(ctx context.Context, l *domain.Listing) (bool, error)

	// GetByBlockchainID retrieves an exchange listing by contract id
	GetByBlockchainID(ctx context.Context, listingID string) (*domain.Listing, error)

	// GetByOrderHash retrieves a Seaport listing by order hash
	GetByOrderHash(ctx context.Context, orderHash string) (*domain.Listing, error)

	// MarkSold sets sold_at when the listing is still open; false means it was already terminal
	MarkSold(ctx context.Context, id int64, t Terminal) (bool, error)

	// MarkCancelled sets cancelled_at when the listing is still open
	MarkCancelled(ctx context.Context, id int64, t Terminal) (bool, error)

	// ListOpen returns open listings, least recently checked first
	ListOpen(ctx context.Context, limit int) ([]*domain.Listing, error)

	// Touch records a reconciliation check
	Touch(ctx context.Context, id int64, at time.Time) error

	// ListWithParameters pages through Seaport listings carrying order parameters
	ListWithParameters(ctx context.Context, afterID int64, limit int) ([]*domain.Listing, error)

	// UpdateOrderHash replaces a stored order hash
	UpdateOrderHash(ctx context.Context, id int64, orderHash string) error
}

// OfferRepository handles offer rows
type OfferRepository interface {
	Insert(ctx context.Context, o *domain.Offer) (bool, error)
	GetByBlockchainID(ctx context.Context, offerID string) (*domain.Offer, error)
	GetByOrderHash(ctx context.Context, orderHash string) (*domain.Offer, error)
	MarkAccepted(ctx context.Context, id int64, t Terminal) (bool, error)
	MarkCancelled(ctx context.Context, id int64, t Terminal) (bool, error)
	ListOpen(ctx context.Context, limit int) ([]*domain.Offer, error)
	Touch(ctx context.Context, id int64, at time.Time) error
	ListWithParameters(ctx context.Context, afterID int64, limit int) ([]*domain.Offer, error)
	UpdateOrderHash(ctx context.Context, id int64, orderHash string) error
}

// ActivityRepository handles the append-only activity log
type ActivityRepository interface {
	// Insert appends the entry; false means (tx_hash, type, subject_key) already exists
	Insert(ctx context.Context, a *domain.Activity) (bool, error)

	// ListBySubject returns entries for one natural key in insertion order
	ListBySubject(ctx context.Context, subjectKey string) ([]*domain.Activity, error)
}

// AnomalyRepository handles operator-facing anomaly records
type AnomalyRepository interface {
	Record(ctx context.Context, a *domain.Anomaly) error
	List(ctx context.Context, kind domain.AnomalyKind, limit int) ([]*domain.Anomaly, error)
	CountByKind(ctx context.Context) (map[domain.AnomalyKind]int, error)
}

// Store groups the repositories of one backing database.
type Store interface {
	Cursors() CursorRepository
	Listings() ListingRepository
	Offers() OfferRepository
	Activities() ActivityRepository
	Anomalies() AnomalyRepository

	// WithinTx runs fn against a transactional view of the store. Any error
	// returned by fn rolls back every write made through that view.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

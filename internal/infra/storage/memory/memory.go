// Package memory is an in-process storage.Store enforcing the same
// uniqueness and guard rules as the Postgres schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

type dataset struct {
	cursors   map[string]domain.BlockCursor
	listings  []domain.Listing
	offers    []domain.Offer
	activity  []domain.Activity
	anomalies []domain.Anomaly
	nextID    int64
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		cursors:   make(map[string]domain.BlockCursor, len(d.cursors)),
		listings:  append([]domain.Listing(nil), d.listings...),
		offers:    append([]domain.Offer(nil), d.offers...),
		activity:  append([]domain.Activity(nil), d.activity...),
		anomalies: append([]domain.Anomaly(nil), d.anomalies...),
		nextID:    d.nextID,
	}
	for k, v := range d.cursors {
		c.cursors[k] = v
	}
	return c
}

func (d *dataset) id() int64 {
	d.nextID++
	return d.nextID
}

// MemoryStorage implements storage.Store in memory. Transactions are
// serialised and roll back by restoring a snapshot.
type MemoryStorage struct {
	mu   sync.Mutex
	data *dataset

	// Now stamps created_at columns; tests may replace it.
	Now func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: &dataset{cursors: make(map[string]domain.BlockCursor)},
		Now:  time.Now,
	}
}

// view is the repository surface over the dataset. Inside WithinTx the
// store lock is already held.
type view struct {
	s      *MemoryStorage
	locked bool
}

func (v view) with(fn func(d *dataset) error) error {
	if !v.locked {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.data)
}

func (s *MemoryStorage) root() view { return view{s: s} }

func (s *MemoryStorage) Cursors() storage.CursorRepository      { return cursorRepo{s.root()} }
func (s *MemoryStorage) Listings() storage.ListingRepository    { return listingRepo{s.root()} }
func (s *MemoryStorage) Offers() storage.OfferRepository        { return offerRepo{s.root()} }
func (s *MemoryStorage) Activities() storage.ActivityRepository { return activityRepo{s.root()} }
func (s *MemoryStorage) Anomalies() storage.AnomalyRepository   { return anomalyRepo{s.root()} }

func (s *MemoryStorage) WithinTx(ctx context.Context, fn func(tx storage.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(txStore{view{s: s, locked: true}}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

type txStore struct{ v view }

func (t txStore) Cursors() storage.CursorRepository      { return cursorRepo{t.v} }
func (t txStore) Listings() storage.ListingRepository    { return listingRepo{t.v} }
func (t txStore) Offers() storage.OfferRepository        { return offerRepo{t.v} }
func (t txStore) Activities() storage.ActivityRepository { return activityRepo{t.v} }
func (t txStore) Anomalies() storage.AnomalyRepository   { return anomalyRepo{t.v} }

// WithinTx nests by joining the surrounding transaction.
func (t txStore) WithinTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return fn(t)
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type cursorRepo struct{ v view }

func (r cursorRepo) Get(ctx context.Context, streamID string) (*domain.BlockCursor, error) {
	var out *domain.BlockCursor
	err := r.v.with(func(d *dataset) error {
		c, ok := d.cursors[streamID]
		if !ok {
			return storage.ErrCursorNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r cursorRepo) Init(ctx context.Context, streamID string, block uint64) (*domain.BlockCursor, error) {
	var out domain.BlockCursor
	err := r.v.with(func(d *dataset) error {
		c, ok := d.cursors[streamID]
		if !ok {
			c = domain.BlockCursor{StreamID: streamID, LastProcessedBlock: block, UpdatedAt: r.v.s.Now()}
			d.cursors[streamID] = c
		}
		out = c
		return nil
	})
	return &out, err
}

func (r cursorRepo) Advance(ctx context.Context, streamID string, block uint64) error {
	return r.v.with(func(d *dataset) error {
		c, ok := d.cursors[streamID]
		if !ok {
			c = domain.BlockCursor{StreamID: streamID}
		}
		if !ok || block > c.LastProcessedBlock {
			c.LastProcessedBlock = block
		}
		c.UpdatedAt = r.v.s.Now()
		d.cursors[streamID] = c
		return nil
	})
}

func (r cursorRepo) Reset(ctx context.Context, streamID string, block uint64) error {
	return r.v.with(func(d *dataset) error {
		d.cursors[streamID] = domain.BlockCursor{
			StreamID:           streamID,
			LastProcessedBlock: block,
			UpdatedAt:          r.v.s.Now(),
		}
		return nil
	})
}

func (r cursorRepo) List(ctx context.Context) ([]*domain.BlockCursor, error) {
	var out []*domain.BlockCursor
	err := r.v.with(func(d *dataset) error {
		for _, c := range d.cursors {
			c := c
			out = append(out, &c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out, err
}

// -----------------------------------------------------------------------------
// Listing Repository
// -----------------------------------------------------------------------------

type listingRepo struct{ v view }

func (r listingRepo) Insert(ctx context.Context, l *domain.Listing) (bool, error) {
	created := false
	err := r.v.with(func(d *dataset) error {
		for i := range d.listings {
			if sameKey(d.listings[i].BlockchainListingID, l.BlockchainListingID) ||
				sameKey(d.listings[i].OrderHash, l.OrderHash) {
				return nil
			}
		}
		row := *l
		row.ID = d.id()
		if row.CreatedAt.IsZero() {
			row.CreatedAt = r.v.s.Now()
		}
		d.listings = append(d.listings, row)
		l.ID = row.ID
		created = true
		return nil
	})
	return created, err
}

func (r listingRepo) find(match func(*domain.Listing) bool) (*domain.Listing, error) {
	var out *domain.Listing
	err := r.v.with(func(d *dataset) error {
		for i := range d.listings {
			if match(&d.listings[i]) {
				row := d.listings[i]
				out = &row
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (r listingRepo) GetByBlockchainID(ctx context.Context, listingID string) (*domain.Listing, error) {
	return r.find(func(l *domain.Listing) bool { return sameKey(l.BlockchainListingID, &listingID) })
}

func (r listingRepo) GetByOrderHash(ctx context.Context, orderHash string) (*domain.Listing, error) {
	return r.find(func(l *domain.Listing) bool { return sameKey(l.OrderHash, &orderHash) })
}

func (r listingRepo) update(id int64, fn func(l *domain.Listing) bool) (bool, error) {
	changed := false
	err := r.v.with(func(d *dataset) error {
		for i := range d.listings {
			if d.listings[i].ID == id {
				changed = fn(&d.listings[i])
				return nil
			}
		}
		return nil
	})
	return changed, err
}

func (r listingRepo) MarkSold(ctx context.Context, id int64, t storage.Terminal) (bool, error) {
	return r.update(id, func(l *domain.Listing) bool {
		if l.IsTerminal() {
			return false
		}
		l.SoldAt = timePtr(t.At)
		l.TerminalTxHash = &t.TxHash
		if t.Counterparty != nil {
			l.Buyer = t.Counterparty
		}
		return true
	})
}

func (r listingRepo) MarkCancelled(ctx context.Context, id int64, t storage.Terminal) (bool, error) {
	return r.update(id, func(l *domain.Listing) bool {
		if l.IsTerminal() {
			return false
		}
		l.CancelledAt = timePtr(t.At)
		l.TerminalTxHash = &t.TxHash
		return true
	})
}

func (r listingRepo) ListOpen(ctx context.Context, limit int) ([]*domain.Listing, error) {
	var out []*domain.Listing
	err := r.v.with(func(d *dataset) error {
		for i := range d.listings {
			if !d.listings[i].IsTerminal() {
				row := d.listings[i]
				out = append(out, &row)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return checkedBefore(out[i].LastCheckedAt, out[j].LastCheckedAt, out[i].ID, out[j].ID)
	})
	return truncate(out, limit), err
}

func (r listingRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.update(id, func(l *domain.Listing) bool {
		l.LastCheckedAt = timePtr(at)
		return true
	})
	return err
}

func (r listingRepo) ListWithParameters(ctx context.Context, afterID int64, limit int) ([]*domain.Listing, error) {
	var out []*domain.Listing
	err := r.v.with(func(d *dataset) error {
		for i := range d.listings {
			l := d.listings[i]
			if l.ID > afterID && l.Protocol == domain.ProtocolSeaport && l.OrderParameters != nil {
				out = append(out, &l)
			}
		}
		return nil
	})
	return truncate(out, limit), err
}

func (r listingRepo) UpdateOrderHash(ctx context.Context, id int64, orderHash string) error {
	return r.v.with(func(d *dataset) error {
		for i := range d.listings {
			if d.listings[i].ID != id && sameKey(d.listings[i].OrderHash, &orderHash) {
				return storage.ErrConflict
			}
		}
		for i := range d.listings {
			if d.listings[i].ID == id {
				d.listings[i].OrderHash = &orderHash
				return nil
			}
		}
		return storage.ErrNotFound
	})
}

// -----------------------------------------------------------------------------
// Offer Repository
// -----------------------------------------------------------------------------

type offerRepo struct{ v view }

func (r offerRepo) Insert(ctx context.Context, o *domain.Offer) (bool, error) {
	created := false
	err := r.v.with(func(d *dataset) error {
		for i := range d.offers {
			if sameKey(d.offers[i].BlockchainOfferID, o.BlockchainOfferID) ||
				sameKey(d.offers[i].OrderHash, o.OrderHash) {
				return nil
			}
		}
		row := *o
		row.ID = d.id()
		if row.CreatedAt.IsZero() {
			row.CreatedAt = r.v.s.Now()
		}
		d.offers = append(d.offers, row)
		o.ID = row.ID
		created = true
		return nil
	})
	return created, err
}

func (r offerRepo) find(match func(*domain.Offer) bool) (*domain.Offer, error) {
	var out *domain.Offer
	err := r.v.with(func(d *dataset) error {
		for i := range d.offers {
			if match(&d.offers[i]) {
				row := d.offers[i]
				out = &row
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (r offerRepo) GetByBlockchainID(ctx context.Context, offerID string) (*domain.Offer, error) {
	return r.find(func(o *domain.Offer) bool { return sameKey(o.BlockchainOfferID, &offerID) })
}

func (r offerRepo) GetByOrderHash(ctx context.Context, orderHash string) (*domain.Offer, error) {
	return r.find(func(o *domain.Offer) bool { return sameKey(o.OrderHash, &orderHash) })
}

func (r offerRepo) update(id int64, fn func(o *domain.Offer) bool) (bool, error) {
	changed := false
	err := r.v.with(func(d *dataset) error {
		for i := range d.offers {
			if d.offers[i].ID == id {
				changed = fn(&d.offers[i])
				return nil
			}
		}
		return nil
	})
	return changed, err
}

func (r offerRepo) MarkAccepted(ctx context.Context, id int64, t storage.Terminal) (bool, error) {
	return r.update(id, func(o *domain.Offer) bool {
		if o.IsTerminal() {
			return false
		}
		o.AcceptedAt = timePtr(t.At)
		o.TerminalTxHash = &t.TxHash
		if t.Counterparty != nil {
			o.Seller = t.Counterparty
		}
		return true
	})
}

func (r offerRepo) MarkCancelled(ctx context.Context, id int64, t storage.Terminal) (bool, error) {
	return r.update(id, func(o *domain.Offer) bool {
		if o.IsTerminal() {
			return false
		}
		o.CancelledAt = timePtr(t.At)
		o.TerminalTxHash = &t.TxHash
		return true
	})
}

func (r offerRepo) ListOpen(ctx context.Context, limit int) ([]*domain.Offer, error) {
	var out []*domain.Offer
	err := r.v.with(func(d *dataset) error {
		for i := range d.offers {
			if !d.offers[i].IsTerminal() {
				row := d.offers[i]
				out = append(out, &row)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return checkedBefore(out[i].LastCheckedAt, out[j].LastCheckedAt, out[i].ID, out[j].ID)
	})
	return truncate(out, limit), err
}

func (r offerRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.update(id, func(o *domain.Offer) bool {
		o.LastCheckedAt = timePtr(at)
		return true
	})
	return err
}

func (r offerRepo) ListWithParameters(ctx context.Context, afterID int64, limit int) ([]*domain.Offer, error) {
	var out []*domain.Offer
	err := r.v.with(func(d *dataset) error {
		for i := range d.offers {
			o := d.offers[i]
			if o.ID > afterID && o.Protocol == domain.ProtocolSeaport && o.OrderParameters != nil {
				out = append(out, &o)
			}
		}
		return nil
	})
	return truncate(out, limit), err
}

func (r offerRepo) UpdateOrderHash(ctx context.Context, id int64, orderHash string) error {
	return r.v.with(func(d *dataset) error {
		for i := range d.offers {
			if d.offers[i].ID != id && sameKey(d.offers[i].OrderHash, &orderHash) {
				return storage.ErrConflict
			}
		}
		for i := range d.offers {
			if d.offers[i].ID == id {
				d.offers[i].OrderHash = &orderHash
				return nil
			}
		}
		return storage.ErrNotFound
	})
}

// -----------------------------------------------------------------------------
// Activity and Anomaly Repositories
// -----------------------------------------------------------------------------

type activityRepo struct{ v view }

func (r activityRepo) Insert(ctx context.Context, a *domain.Activity) (bool, error) {
	inserted := false
	err := r.v.with(func(d *dataset) error {
		for i := range d.activity {
			e := &d.activity[i]
			if e.TxHash == a.TxHash && e.Type == a.Type && e.SubjectKey == a.SubjectKey {
				return nil
			}
		}
		row := *a
		row.ID = d.id()
		row.CreatedAt = r.v.s.Now()
		d.activity = append(d.activity, row)
		a.ID = row.ID
		inserted = true
		return nil
	})
	return inserted, err
}

func (r activityRepo) ListBySubject(ctx context.Context, subjectKey string) ([]*domain.Activity, error) {
	var out []*domain.Activity
	err := r.v.with(func(d *dataset) error {
		for i := range d.activity {
			if d.activity[i].SubjectKey == subjectKey {
				row := d.activity[i]
				out = append(out, &row)
			}
		}
		return nil
	})
	return out, err
}

type anomalyRepo struct{ v view }

func (r anomalyRepo) Record(ctx context.Context, a *domain.Anomaly) error {
	return r.v.with(func(d *dataset) error {
		row := *a
		if row.CreatedAt.IsZero() {
			row.CreatedAt = r.v.s.Now()
		}
		d.anomalies = append(d.anomalies, row)
		return nil
	})
}

func (r anomalyRepo) List(ctx context.Context, kind domain.AnomalyKind, limit int) ([]*domain.Anomaly, error) {
	var out []*domain.Anomaly
	err := r.v.with(func(d *dataset) error {
		for i := len(d.anomalies) - 1; i >= 0; i-- {
			if kind == "" || d.anomalies[i].Kind == kind {
				row := d.anomalies[i]
				out = append(out, &row)
			}
		}
		return nil
	})
	return truncate(out, limit), err
}

func (r anomalyRepo) CountByKind(ctx context.Context) (map[domain.AnomalyKind]int, error) {
	counts := make(map[domain.AnomalyKind]int)
	err := r.v.with(func(d *dataset) error {
		for i := range d.anomalies {
			counts[d.anomalies[i].Kind]++
		}
		return nil
	})
	return counts, err
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func sameKey(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func timePtr(t time.Time) *time.Time { return &t }

// checkedBefore orders never-checked rows first, then by check time and id.
func checkedBefore(a, b *time.Time, aID, bID int64) bool {
	switch {
	case a == nil && b == nil:
		return aID < bID
	case a == nil:
		return true
	case b == nil:
		return false
	case a.Equal(*b):
		return aID < bID
	default:
		return a.Before(*b)
	}
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// Package reconcile compares open listings and offers with live contract
// reads and repairs drift through the projector.
//
// Only terminal states the chain can prove are corrected: sold, accepted,
// cancelled and counter-invalidated orders. Rows the contract does not know
// are flagged, never deleted. Expired rows are counted and cancelled only
// on request. Event logs are never consulted here.
//
// # Quick Start
//
//	svc := reconcile.New(store, proj, exchangeReader, seaportReader)
//
//	res, err := svc.Sweep(ctx, reconcile.SweepOptions{Limit: 200})
//	report, err := svc.DriftReport(ctx, 200)
//	repaired, err := svc.RepairOrderHashes(ctx, 0)
package reconcile

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/projector"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/exchange"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/seaport"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// DriftClass names how a stored row disagrees with the chain.
type DriftClass string

const (
	DriftChainSold        DriftClass = "chain_sold"
	DriftChainCancelled   DriftClass = "chain_cancelled"
	DriftChainInvalidated DriftClass = "chain_invalidated"
	DriftMissingOnChain   DriftClass = "missing_onchain"
	DriftExpiredOpen      DriftClass = "expired_open"
	DriftBuyerUnresolved  DriftClass = "buyer_unresolved"
)

// ExchangeReader reads exchange listings and offers.
type ExchangeReader interface {
	GetListing(ctx context.Context, listingID *big.Int) (*exchange.ListingState, error)
	GetOffer(ctx context.Context, offerID *big.Int) (*exchange.OfferState, error)
}

// SeaportReader reads Seaport order status and counters.
type SeaportReader interface {
	GetOrderStatus(ctx context.Context, orderHash common.Hash) (*seaport.OrderStatus, error)
	GetCounter(ctx context.Context, offerer common.Address) (*big.Int, error)
}

// Applier applies one event to the projection.
type Applier interface {
	ApplyEvent(ctx context.Context, ev domain.Event) (projector.Result, error)
}

// Locker takes a best-effort lease shared across processes.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// Service reconciles the projection against contract state.
type Service struct {
	store       storage.Store
	projector   Applier
	exchange    ExchangeReader
	seaport     SeaportReader
	locker      Locker
	concurrency int
	lockTTL     time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocker enables the cross-process sweep lock.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithConcurrency bounds parallel chain reads during a sweep.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a reconciliation service. Either reader may be nil when the
// protocol is not deployed; its rows are then skipped.
func New(store storage.Store, applier Applier, ex ExchangeReader, sp SeaportReader, opts ...Option) *Service {
	s := &Service{
		store:       store,
		projector:   applier,
		exchange:    ex,
		seaport:     sp,
		concurrency: 4,
		lockTTL:     5 * time.Minute,
		now:         time.Now,
		log:         slog.Default().With("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

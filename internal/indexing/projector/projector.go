// Package projector applies decoded marketplace events to the relational
// projection.
//
// Every event is applied in its own store transaction:
//   - the activity row goes in first; a conflict on (tx, type, subject)
//     means the event was applied before and the result is Duplicate
//   - creation events insert-or-ignore on the natural key
//   - terminal events update only open rows; an event for an already
//     terminal row is rolled back and reported as Ignored
//   - an event for an unknown natural key writes nothing and records an
//     anomaly, so a later reindex can still apply it
//
// Anomalies are recorded after the transaction finishes, so they survive a
// rollback.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/seaport"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

// Result is the outcome of applying one event.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
	ResultAnomaly   Result = "anomaly"
)

var (
	errDuplicate = errors.New("already applied")
	errIgnored   = errors.New("subject already terminal")
	errAnomaly   = errors.New("anomaly recorded")
)

// latestTimestamp bounds expiries that fit a timestamp column; larger
// Seaport end times mean "never".
const latestTimestamp = 253402300799 // 9999-12-31T23:59:59Z

// Projector applies events to a storage.Store. It is safe for concurrent use.
type Projector struct {
	store        storage.Store
	paymentToken common.Address
	now          func() time.Time
	log          *slog.Logger
}

// Option configures a Projector.
type Option func(*Projector)

// WithPaymentToken sets the currency exchange listings and offers are priced in.
func WithPaymentToken(token common.Address) Option {
	return func(p *Projector) { p.paymentToken = token }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Projector) { p.log = log }
}

// WithClock replaces time.Now for events without a block timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) { p.now = now }
}

// New creates a projector over store.
func New(store storage.Store, opts ...Option) *Projector {
	p := &Projector{
		store: store,
		now:   time.Now,
		log:   slog.Default().With("component", "projector"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// application carries the state of one ApplyEvent call.
type application struct {
	p         *Projector
	meta      *domain.EventMeta
	subject   string
	at        time.Time
	anomalies []*domain.Anomaly
}

func (a *application) flag(kind domain.AnomalyKind, detail string) {
	an := domain.NewAnomaly(kind, a.meta.Protocol, a.subject, detail)
	an.TxHash = a.meta.TxHash
	if !domain.IsSyntheticTx(a.meta.TxHash) && a.meta.BlockNumber > 0 {
		n := int64(a.meta.BlockNumber)
		an.BlockNumber = &n
	}
	a.anomalies = append(a.anomalies, an)
}

// unknown flags an event whose subject has no row and aborts the transaction.
func (a *application) unknown(ev domain.Event) error {
	a.flag(domain.AnomalyUnknownSubject, fmt.Sprintf("%s references no stored row", eventName(ev)))
	return errAnomaly
}

// ApplyEvent applies ev in one transaction and reports what happened. An
// error means nothing was written and the event should be retried.
func (p *Projector) ApplyEvent(ctx context.Context, ev domain.Event) (Result, error) {
	meta := ev.Meta()
	a := &application{p: p, meta: meta, subject: ev.Subject(), at: meta.Timestamp}
	if a.at.IsZero() {
		a.at = p.now()
	}
	a.at = a.at.UTC()

	err := p.store.WithinTx(ctx, func(tx storage.Store) error {
		return a.apply(ctx, tx, ev)
	})

	result := ResultApplied
	switch {
	case err == nil:
	case errors.Is(err, errDuplicate):
		result = ResultDuplicate
	case errors.Is(err, errIgnored):
		result = ResultIgnored
	case errors.Is(err, errAnomaly):
		result = ResultAnomaly
	default:
		return "", fmt.Errorf("apply %s %s: %w", eventName(ev), a.subject, err)
	}

	for _, an := range a.anomalies {
		if err := p.store.Anomalies().Record(ctx, an); err != nil {
			return "", fmt.Errorf("record %s anomaly: %w", an.Kind, err)
		}
		p.log.Warn("Anomaly recorded",
			"kind", an.Kind, "subject", an.SubjectKey, "tx", an.TxHash, "detail", an.Detail)
	}

	p.log.Debug("Event projected",
		"event", eventName(ev), "subject", a.subject, "tx", meta.TxHash, "result", result)
	return result, nil
}

func (a *application) apply(ctx context.Context, tx storage.Store, ev domain.Event) error {
	switch e := ev.(type) {
	case *domain.ListingCreated:
		return a.listingCreated(ctx, tx, e)
	case *domain.ListingCancelled:
		return a.listingCancelled(ctx, tx, e)
	case *domain.ListingSold:
		return a.listingSold(ctx, tx, e)
	case *domain.OfferMade:
		return a.offerMade(ctx, tx, e)
	case *domain.OfferAccepted:
		return a.offerAccepted(ctx, tx, e)
	case *domain.OfferCancelled:
		return a.offerCancelled(ctx, tx, e)
	case *domain.OrderValidated:
		return a.orderValidated(ctx, tx, e)
	case *domain.OrderFulfilled:
		return a.orderFulfilled(ctx, tx, e)
	case *domain.OrderCancelled:
		return a.orderCancelled(ctx, tx, e)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

// record inserts the activity row; a conflict aborts as a duplicate.
func (a *application) record(ctx context.Context, tx storage.Store, act *domain.Activity) error {
	act.Protocol = a.meta.Protocol
	act.SubjectKey = a.subject
	act.TxHash = a.meta.TxHash
	act.OccurredAt = a.at
	if !domain.IsSyntheticTx(a.meta.TxHash) {
		block, index := int64(a.meta.BlockNumber), int64(a.meta.LogIndex)
		act.BlockNumber = &block
		act.LogIndex = &index
	}

	inserted, err := tx.Activities().Insert(ctx, act)
	if err != nil {
		return err
	}
	if !inserted {
		return errDuplicate
	}
	return nil
}

func (a *application) terminal(counterparty *string) storage.Terminal {
	return storage.Terminal{At: a.at, TxHash: a.meta.TxHash, Counterparty: counterparty}
}

// guard turns a refused terminal update into Ignored, flagging it when the
// stored outcome contradicts the event.
func (a *application) guard(updated bool, stored, wanted domain.OrderStatus) error {
	if updated {
		return nil
	}
	if stored != wanted {
		a.flag(domain.AnomalyStaleTerminal, fmt.Sprintf("row is %s, event says %s", stored, wanted))
	}
	a.p.log.Info("Terminal event ignored", "subject", a.subject, "stored", stored, "event", wanted)
	return errIgnored
}

// -----------------------------------------------------------------------------
// Exchange events
// -----------------------------------------------------------------------------

func (a *application) listingCreated(ctx context.Context, tx storage.Store, e *domain.ListingCreated) error {
	id := e.ListingID.String()
	l := &domain.Listing{
		Protocol:            domain.ProtocolExchange,
		BlockchainListingID: &id,
		Seller:              domain.NormalizeAddress(e.Seller),
		NFTContract:         domain.NormalizeAddress(e.NFTContract),
		TokenID:             bigString(e.TokenID),
		Price:               toDecimal(e.Price),
		PaymentToken:        domain.NormalizeAddress(a.p.paymentToken),
		ExpiresAt:           optionalTime(e.ExpiresAt),
		CreatedAt:           a.at,
		CreationTxHash:      &a.meta.TxHash,
	}
	stored, err := insertListing(ctx, tx, l)
	if err != nil {
		return err
	}
	return a.record(ctx, tx, &domain.Activity{
		Type:        domain.ActivityListingCreated,
		ListingID:   &stored.ID,
		Actor:       stored.Seller,
		NFTContract: stored.NFTContract,
		TokenID:     stored.TokenID,
		Price:       nullDecimal(stored.Price),
	})
}

func (a *application) listingCancelled(ctx context.Context, tx storage.Store, e *domain.ListingCancelled) error {
	l, err := tx.Listings().GetByBlockchainID(ctx, e.ListingID.String())
	if errors.Is(err, storage.ErrNotFound) {
		return a.unknown(e)
	}
	if err != nil {
		return err
	}
	return a.cancelListing(ctx, tx, l)
}

func (a *application) listingSold(ctx context.Context, tx storage.Store, e *domain.ListingSold) error {
	l, err := tx.Listings().GetByBlockchainID(ctx, e.ListingID.String())
	if errors.Is(err, storage.ErrNotFound) {
		return a.unknown(e)
	}
	if err != nil {
		return err
	}
	price := l.Price
	if e.Price != nil {
		price = toDecimal(e.Price)
	}
	return a.sellListing(ctx, tx, l, e.Buyer, price)
}

func (a *application) offerMade(ctx context.Context, tx storage.Store, e *domain.OfferMade) error {
	id := e.OfferID.String()
	o := &domain.Offer{
		Protocol:          domain.ProtocolExchange,
		BlockchainOfferID: &id,
		Buyer:             domain.NormalizeAddress(e.Buyer),
		NFTContract:       domain.NormalizeAddress(e.NFTContract),
		TokenID:           bigString(e.TokenID),
		Price:             toDecimal(e.Amount),
		PaymentToken:      domain.NormalizeAddress(a.p.paymentToken),
		ExpiresAt:         optionalTime(e.ExpiresAt),
		CreatedAt:         a.at,
		CreationTxHash:    &a.meta.TxHash,
	}
	stored, err := insertOffer(ctx, tx, o)
	if err != nil {
		return err
	}
	return a.record(ctx, tx, &domain.Activity{
		Type:        domain.ActivityOfferMade,
		OfferID:     &stored.ID,
		Actor:       stored.Buyer,
		NFTContract: stored.NFTContract,
		TokenID:     stored.TokenID,
		Price:       nullDecimal(stored.Price),
	})
}

func (a *application) offerAccepted(ctx context.Context, tx storage.Store, e *domain.OfferAccepted) error {
	o, err := tx.Offers().GetByBlockchainID(ctx, e.OfferID.String())
	if errors.Is(err, storage.ErrNotFound) {
		return a.unknown(e)
	}
	if err != nil {
		return err
	}
	return a.acceptOffer(ctx, tx, o, e.Seller, o.Price)
}

func (a *application) offerCancelled(ctx context.Context, tx storage.Store, e *domain.OfferCancelled) error {
	o, err := tx.Offers().GetByBlockchainID(ctx, e.OfferID.String())
	if errors.Is(err, storage.ErrNotFound) {
		return a.unknown(e)
	}
	if err != nil {
		return err
	}
	return a.cancelOffer(ctx, tx, o)
}

// -----------------------------------------------------------------------------
// Seaport events
// -----------------------------------------------------------------------------

func (a *application) orderValidated(ctx context.Context, tx storage.Store, e *domain.OrderValidated) error {
	summary, err := seaport.SummarizeOrder(e.Parameters)
	if err != nil {
		a.flag(domain.AnomalyDecodeFailure, fmt.Sprintf("validated order parameters: %v", err))
		return errAnomaly
	}

	hash := domain.NormalizeHash(e.OrderHash)
	expires := endTime(summary.EndTime)

	switch summary.Side {
	case domain.SideListing:
		stored, err := insertListing(ctx, tx, &domain.Listing{
			Protocol:        domain.ProtocolSeaport,
			OrderHash:       &hash,
			Seller:          domain.NormalizeAddress(summary.Maker),
			NFTContract:     domain.NormalizeAddress(summary.NFTContract),
			TokenID:         bigString(summary.TokenID),
			Price:           toDecimal(summary.Price),
			PaymentToken:    domain.NormalizeAddress(summary.PaymentToken),
			ExpiresAt:       expires,
			CreatedAt:       a.at,
			OrderParameters: e.Parameters,
			CreationTxHash:  &a.meta.TxHash,
		})
		if err != nil {
			return err
		}
		return a.record(ctx, tx, &domain.Activity{
			Type:        domain.ActivityListingCreated,
			ListingID:   &stored.ID,
			Actor:       stored.Seller,
			NFTContract: stored.NFTContract,
			TokenID:     stored.TokenID,
			Price:       nullDecimal(stored.Price),
		})

	case domain.SideOffer:
		stored, err := insertOffer(ctx, tx, &domain.Offer{
			Protocol:        domain.ProtocolSeaport,
			OrderHash:       &hash,
			Buyer:           domain.NormalizeAddress(summary.Maker),
			NFTContract:     domain.NormalizeAddress(summary.NFTContract),
			TokenID:         bigString(summary.TokenID),
			Price:           toDecimal(summary.Price),
			PaymentToken:    domain.NormalizeAddress(summary.PaymentToken),
			ExpiresAt:       expires,
			CreatedAt:       a.at,
			OrderParameters: e.Parameters,
			CreationTxHash:  &a.meta.TxHash,
		})
		if err != nil {
			return err
		}
		return a.record(ctx, tx, &domain.Activity{
			Type:        domain.ActivityOfferMade,
			OfferID:     &stored.ID,
			Actor:       stored.Buyer,
			NFTContract: stored.NFTContract,
			TokenID:     stored.TokenID,
			Price:       nullDecimal(stored.Price),
		})

	default:
		a.flag(domain.AnomalyAmbiguousFill, "validated order is neither a listing nor an offer")
		return errAnomaly
	}
}

func (a *application) orderFulfilled(ctx context.Context, tx storage.Store, e *domain.OrderFulfilled) error {
	hash := domain.NormalizeHash(e.OrderHash)
	fill := e.Fill

	l, err := tx.Listings().GetByOrderHash(ctx, hash)
	switch {
	case err == nil:
		if fill.Side == domain.SideOffer {
			a.flag(domain.AnomalyAmbiguousFill, "fill looks like an offer acceptance but the order is a listing")
		}
		price := l.Price
		if fill.TotalPrice != nil && fill.TotalPrice.Sign() > 0 {
			price = toDecimal(fill.TotalPrice)
		}
		return a.sellListing(ctx, tx, l, fill.Buyer, price)
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	o, err := tx.Offers().GetByOrderHash(ctx, hash)
	switch {
	case err == nil:
		if fill.Side == domain.SideListing {
			a.flag(domain.AnomalyAmbiguousFill, "fill looks like a listing sale but the order is an offer")
		}
		price := o.Price
		if fill.TotalPrice != nil && fill.TotalPrice.Sign() > 0 {
			price = toDecimal(fill.TotalPrice)
		}
		return a.acceptOffer(ctx, tx, o, fill.Seller, price)
	case errors.Is(err, storage.ErrNotFound):
		return a.unknown(e)
	default:
		return err
	}
}

func (a *application) orderCancelled(ctx context.Context, tx storage.Store, e *domain.OrderCancelled) error {
	hash := domain.NormalizeHash(e.OrderHash)

	l, err := tx.Listings().GetByOrderHash(ctx, hash)
	switch {
	case err == nil:
		return a.cancelListing(ctx, tx, l)
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	o, err := tx.Offers().GetByOrderHash(ctx, hash)
	switch {
	case err == nil:
		return a.cancelOffer(ctx, tx, o)
	case errors.Is(err, storage.ErrNotFound):
		return a.unknown(e)
	default:
		return err
	}
}

// -----------------------------------------------------------------------------
// Terminal transitions
// -----------------------------------------------------------------------------

func (a *application) sellListing(
	ctx context.Context,
	tx storage.Store,
	l *domain.Listing,
	buyer common.Address,
	price decimal.Decimal,
) error {
	var buyerAddr *string
	if buyer != (common.Address{}) {
		b := domain.NormalizeAddress(buyer)
		buyerAddr = &b
	}

	if err := a.record(ctx, tx, &domain.Activity{
		Type:         domain.ActivitySale,
		ListingID:    &l.ID,
		Actor:        deref(buyerAddr),
		Counterparty: &l.Seller,
		NFTContract:  l.NFTContract,
		TokenID:      l.TokenID,
		Price:        nullDecimal(price),
	}); err != nil {
		return err
	}

	updated, err := tx.Listings().MarkSold(ctx, l.ID, a.terminal(buyerAddr))
	if err != nil {
		return err
	}
	if err := a.guard(updated, l.Status(a.at), domain.StatusSold); err != nil {
		return err
	}
	if buyerAddr == nil {
		a.flag(domain.AnomalyBuyerUnresolved, "listing sold without a resolvable buyer")
	}
	return nil
}

func (a *application) cancelListing(ctx context.Context, tx storage.Store, l *domain.Listing) error {
	if err := a.record(ctx, tx, &domain.Activity{
		Type:        domain.ActivityListingCancelled,
		ListingID:   &l.ID,
		Actor:       l.Seller,
		NFTContract: l.NFTContract,
		TokenID:     l.TokenID,
		Price:       nullDecimal(l.Price),
	}); err != nil {
		return err
	}

	updated, err := tx.Listings().MarkCancelled(ctx, l.ID, a.terminal(nil))
	if err != nil {
		return err
	}
	return a.guard(updated, l.Status(a.at), domain.StatusCancelled)
}

func (a *application) acceptOffer(
	ctx context.Context,
	tx storage.Store,
	o *domain.Offer,
	seller common.Address,
	price decimal.Decimal,
) error {
	var sellerAddr *string
	if seller != (common.Address{}) {
		s := domain.NormalizeAddress(seller)
		sellerAddr = &s
	}

	if err := a.record(ctx, tx, &domain.Activity{
		Type:         domain.ActivityOfferAccepted,
		OfferID:      &o.ID,
		Actor:        deref(sellerAddr),
		Counterparty: &o.Buyer,
		NFTContract:  o.NFTContract,
		TokenID:      o.TokenID,
		Price:        nullDecimal(price),
	}); err != nil {
		return err
	}

	updated, err := tx.Offers().MarkAccepted(ctx, o.ID, a.terminal(sellerAddr))
	if err != nil {
		return err
	}
	if err := a.guard(updated, o.Status(a.at), domain.StatusAccepted); err != nil {
		return err
	}
	if sellerAddr == nil {
		a.flag(domain.AnomalyBuyerUnresolved, "offer accepted without a resolvable seller")
	}
	return nil
}

func (a *application) cancelOffer(ctx context.Context, tx storage.Store, o *domain.Offer) error {
	if err := a.record(ctx, tx, &domain.Activity{
		Type:        domain.ActivityOfferCancelled,
		OfferID:     &o.ID,
		Actor:       o.Buyer,
		NFTContract: o.NFTContract,
		TokenID:     o.TokenID,
		Price:       nullDecimal(o.Price),
	}); err != nil {
		return err
	}

	updated, err := tx.Offers().MarkCancelled(ctx, o.ID, a.terminal(nil))
	if err != nil {
		return err
	}
	return a.guard(updated, o.Status(a.at), domain.StatusCancelled)
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

// insertListing inserts l or loads the row already holding its natural key.
func insertListing(ctx context.Context, tx storage.Store, l *domain.Listing) (*domain.Listing, error) {
	created, err := tx.Listings().Insert(ctx, l)
	if err != nil {
		return nil, err
	}
	if created {
		return l, nil
	}
	if l.OrderHash != nil {
		return tx.Listings().GetByOrderHash(ctx, *l.OrderHash)
	}
	return tx.Listings().GetByBlockchainID(ctx, *l.BlockchainListingID)
}

func insertOffer(ctx context.Context, tx storage.Store, o *domain.Offer) (*domain.Offer, error) {
	created, err := tx.Offers().Insert(ctx, o)
	if err != nil {
		return nil, err
	}
	if created {
		return o, nil
	}
	if o.OrderHash != nil {
		return tx.Offers().GetByOrderHash(ctx, *o.OrderHash)
	}
	return tx.Offers().GetByBlockchainID(ctx, *o.BlockchainOfferID)
}

func eventName(ev domain.Event) string {
	switch ev.(type) {
	case *domain.ListingCreated:
		return "ListingCreated"
	case *domain.ListingCancelled:
		return "ListingCancelled"
	case *domain.ListingSold:
		return "ListingSold"
	case *domain.OfferMade:
		return "OfferMade"
	case *domain.OfferAccepted:
		return "OfferAccepted"
	case *domain.OfferCancelled:
		return "OfferCancelled"
	case *domain.OrderValidated:
		return "OrderValidated"
	case *domain.OrderFulfilled:
		return "OrderFulfilled"
	case *domain.OrderCancelled:
		return "OrderCancelled"
	default:
		return fmt.Sprintf("%T", ev)
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

func nullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func endTime(v *big.Int) *time.Time {
	if v == nil || v.Sign() <= 0 || !v.IsInt64() || v.Int64() > latestTimestamp {
		return nil
	}
	t := time.Unix(v.Int64(), 0).UTC()
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/metrics"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/projector"
)

const sweepLockName = "reconcile:sweep"

// SweepOptions bounds and shapes one sweep.
type SweepOptions struct {
	// Limit caps the listings and the offers loaded, each. Zero means 100.
	Limit int
	// DryRun classifies drift without writing anything.
	DryRun bool
	// CancelExpired cancels open rows whose expiry has passed.
	CancelExpired bool
}

// Drift is one stored row that disagrees with the chain.
type Drift struct {
	Protocol  domain.Protocol `json:"protocol"`
	Kind      string          `json:"kind"`
	ID        int64           `json:"id"`
	Subject   string          `json:"subject"`
	Class     DriftClass      `json:"class"`
	Detail    string          `json:"detail,omitempty"`
	Corrected bool            `json:"corrected"`
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Checked   int     `json:"checked"`
	Drifted   int     `json:"drifted"`
	Corrected int     `json:"corrected"`
	Flagged   int     `json:"flagged"`
	Expired   int     `json:"expired"`
	Errors    int     `json:"errors"`
	DryRun    bool    `json:"dry_run"`
	Locked    bool    `json:"locked,omitempty"`
	Drift     []Drift `json:"drift"`
}

// row is one open listing or offer under inspection.
type row struct {
	kind     string
	id       int64
	protocol domain.Protocol
	subject  string
	listing  *domain.Listing
	offer    *domain.Offer
}

func (r row) expired(now time.Time) bool {
	if r.listing != nil {
		return r.listing.Status(now) == domain.StatusExpired
	}
	return r.offer.Status(now) == domain.StatusExpired
}

// verdict is the outcome of the chain read for one row.
type verdict struct {
	class   DriftClass
	detail  string
	fix     domain.Event
	anomaly *domain.Anomaly
	err     error
}

// Sweep loads a batch of open rows, reads each one from its contract and
// corrects verifiable drift through the projector.
func (s *Service) Sweep(ctx context.Context, opts SweepOptions) (SweepResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	res := SweepResult{DryRun: opts.DryRun, Drift: []Drift{}}

	if s.locker != nil && !opts.DryRun {
		unlock, ok, err := s.locker.TryLock(ctx, sweepLockName, s.lockTTL)
		switch {
		case err != nil:
			s.log.Warn("Sweep lock unavailable, continuing without it", "error", err)
		case !ok:
			res.Locked = true
			return res, nil
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("Failed to release sweep lock", "error", err)
				}
			}()
		}
	}

	rows, err := s.loadRows(ctx, opts.Limit)
	if err != nil {
		return res, err
	}

	now := s.now().UTC()
	verdicts := make([]verdict, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, r := range rows {
		g.Go(func() error {
			verdicts[i] = s.inspect(gctx, r, now, opts)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for i, r := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.settle(ctx, r, verdicts[i], now, opts, &res)
	}

	s.log.Info("Sweep finished",
		"checked", res.Checked,
		"drifted", res.Drifted,
		"corrected", res.Corrected,
		"flagged", res.Flagged,
		"expired", res.Expired,
		"errors", res.Errors,
		"dry_run", opts.DryRun,
	)
	return res, nil
}

// DriftReport classifies drift without correcting it.
func (s *Service) DriftReport(ctx context.Context, limit int) (SweepResult, error) {
	return s.Sweep(ctx, SweepOptions{Limit: limit, DryRun: true})
}

// Run sweeps every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration, opts SweepOptions) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Sweeper started", "interval", interval, "limit", opts.Limit)
	for {
		if _, err := s.Sweep(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) loadRows(ctx context.Context, limit int) ([]row, error) {
	listings, err := s.store.Listings().ListOpen(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list open listings: %w", err)
	}
	offers, err := s.store.Offers().ListOpen(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list open offers: %w", err)
	}

	rows := make([]row, 0, len(listings)+len(offers))
	for _, l := range listings {
		rows = append(rows, row{kind: "listing", id: l.ID, protocol: l.Protocol, subject: l.Subject(), listing: l})
	}
	for _, o := range offers {
		rows = append(rows, row{kind: "offer", id: o.ID, protocol: o.Protocol, subject: o.Subject(), offer: o})
	}
	return rows, nil
}

func (s *Service) inspect(ctx context.Context, r row, now time.Time, opts SweepOptions) verdict {
	var v verdict
	switch r.protocol {
	case domain.ProtocolExchange:
		v = s.inspectExchange(ctx, r)
	case domain.ProtocolSeaport:
		v = s.inspectSeaport(ctx, r)
	default:
		v.err = fmt.Errorf("unknown protocol %q", r.protocol)
	}
	if v.err != nil || v.class != "" {
		return v
	}

	if r.expired(now) {
		v.class = DriftExpiredOpen
		if opts.CancelExpired {
			fix, err := s.cancellation(r)
			if err != nil {
				v.err = err
				return v
			}
			v.fix = fix
		}
	}
	return v
}

func (s *Service) inspectExchange(ctx context.Context, r row) verdict {
	if s.exchange == nil {
		return verdict{}
	}

	if r.listing != nil {
		id, err := contractID(r.listing.BlockchainListingID)
		if err != nil {
			return verdict{err: err}
		}
		st, err := s.exchange.GetListing(ctx, id)
		if err != nil {
			return verdict{err: fmt.Errorf("getListing %s: %w", id, err)}
		}
		switch {
		case !st.Exists():
			return s.missing(r, "listing not found on exchange")
		case st.Sold:
			return verdict{
				class:  DriftChainSold,
				detail: "sold on chain",
				fix:    &domain.ListingSold{ListingID: id, Price: st.Price},
			}
		case st.Cancelled:
			return verdict{
				class:  DriftChainCancelled,
				detail: "cancelled on chain",
				fix:    &domain.ListingCancelled{ListingID: id},
			}
		}
		return verdict{}
	}

	id, err := contractID(r.offer.BlockchainOfferID)
	if err != nil {
		return verdict{err: err}
	}
	st, err := s.exchange.GetOffer(ctx, id)
	if err != nil {
		return verdict{err: fmt.Errorf("getOffer %s: %w", id, err)}
	}
	switch {
	case !st.Exists():
		return s.missing(r, "offer not found on exchange")
	case st.Accepted:
		return verdict{
			class:  DriftChainSold,
			detail: "accepted on chain",
			fix:    &domain.OfferAccepted{OfferID: id},
		}
	case st.Cancelled:
		return verdict{
			class:  DriftChainCancelled,
			detail: "cancelled on chain",
			fix:    &domain.OfferCancelled{OfferID: id},
		}
	}
	return verdict{}
}

func (s *Service) inspectSeaport(ctx context.Context, r row) verdict {
	if s.seaport == nil {
		return verdict{}
	}

	hashStr, params := r.orderHash(), r.parameters()
	if hashStr == "" {
		return verdict{err: fmt.Errorf("%s %d has no order hash", r.kind, r.id)}
	}
	hash := common.HexToHash(hashStr)

	st, err := s.seaport.GetOrderStatus(ctx, hash)
	if err != nil {
		return verdict{err: fmt.Errorf("getOrderStatus %s: %w", hashStr, err)}
	}

	var offerer common.Address
	if params != nil && common.IsHexAddress(params.Offerer) {
		offerer = common.HexToAddress(params.Offerer)
	}

	switch {
	case st.IsCancelled:
		return verdict{
			class:  DriftChainCancelled,
			detail: "cancelled on chain",
			fix:    &domain.OrderCancelled{OrderHash: hash, Offerer: offerer},
		}
	case st.IsFullyFilled():
		side := domain.SideListing
		if r.offer != nil {
			side = domain.SideOffer
		}
		return verdict{
			class:  DriftBuyerUnresolved,
			detail: "filled on chain, counterparty unknown",
			fix: &domain.OrderFulfilled{
				OrderHash: hash,
				Offerer:   offerer,
				Fill:      domain.FillSummary{Side: side},
			},
		}
	}

	// Orders learned from OrderValidated have no recorded counter, so a
	// bump cannot be proven.
	if !params.CounterKnown() || offerer == (common.Address{}) {
		return verdict{}
	}
	stored, err := params.Counter.Big()
	if err != nil {
		return verdict{err: fmt.Errorf("stored counter of %s: %w", hashStr, err)}
	}
	current, err := s.seaport.GetCounter(ctx, offerer)
	if err != nil {
		return verdict{err: fmt.Errorf("getCounter %s: %w", offerer.Hex(), err)}
	}
	if stored.Cmp(current) < 0 {
		return verdict{
			class:  DriftChainInvalidated,
			detail: fmt.Sprintf("offerer counter moved from %s to %s", stored, current),
			fix:    &domain.OrderCancelled{OrderHash: hash, Offerer: offerer},
		}
	}
	return verdict{}
}

func (s *Service) missing(r row, detail string) verdict {
	return verdict{
		class:   DriftMissingOnChain,
		detail:  detail,
		anomaly: domain.NewAnomaly(domain.AnomalyMissingOnChain, r.protocol, r.subject, detail),
	}
}

// cancellation builds the event that closes an expired row.
func (s *Service) cancellation(r row) (domain.Event, error) {
	if r.protocol == domain.ProtocolSeaport {
		h := r.orderHash()
		if h == "" {
			return nil, fmt.Errorf("%s %d has no order hash", r.kind, r.id)
		}
		return &domain.OrderCancelled{OrderHash: common.HexToHash(h)}, nil
	}
	if r.listing != nil {
		id, err := contractID(r.listing.BlockchainListingID)
		if err != nil {
			return nil, err
		}
		return &domain.ListingCancelled{ListingID: id}, nil
	}
	id, err := contractID(r.offer.BlockchainOfferID)
	if err != nil {
		return nil, err
	}
	return &domain.OfferCancelled{OfferID: id}, nil
}

// settle writes the outcome of one verdict and folds it into res.
func (s *Service) settle(ctx context.Context, r row, v verdict, now time.Time, opts SweepOptions, res *SweepResult) {
	res.Checked++

	if v.err != nil {
		res.Errors++
		metrics.ReconcileRows.WithLabelValues(string(r.protocol), "error").Inc()
		s.log.Warn("Failed to reconcile row", "kind", r.kind, "id", r.id, "subject", r.subject, "error", v.err)
		return
	}

	outcome := "ok"
	if v.class != "" {
		outcome = string(v.class)
		res.Drifted++
		if v.class == DriftExpiredOpen {
			res.Expired++
		}
		d := Drift{
			Protocol: r.protocol,
			Kind:     r.kind,
			ID:       r.id,
			Subject:  r.subject,
			Class:    v.class,
			Detail:   v.detail,
		}

		if !opts.DryRun {
			corrected, err := s.correct(ctx, r, v, now, res)
			if err != nil {
				res.Errors++
				metrics.ReconcileRows.WithLabelValues(string(r.protocol), "error").Inc()
				s.log.Error("Failed to correct drift", "subject", r.subject, "class", v.class, "error", err)
				res.Drift = append(res.Drift, d)
				return
			}
			d.Corrected = corrected
		}
		res.Drift = append(res.Drift, d)
		s.log.Info("Drift detected",
			"subject", r.subject, "class", v.class, "corrected", d.Corrected, "dry_run", opts.DryRun)
	}
	metrics.ReconcileRows.WithLabelValues(string(r.protocol), outcome).Inc()

	if opts.DryRun {
		return
	}
	if err := s.touch(ctx, r, now); err != nil {
		s.log.Warn("Failed to touch row", "kind", r.kind, "id", r.id, "error", err)
	}
}

func (s *Service) correct(ctx context.Context, r row, v verdict, now time.Time, res *SweepResult) (bool, error) {
	if v.anomaly != nil {
		if err := s.store.Anomalies().Record(ctx, v.anomaly); err != nil {
			return false, fmt.Errorf("record anomaly: %w", err)
		}
		res.Flagged++
		return false, nil
	}
	if v.fix == nil {
		return false, nil
	}

	meta := v.fix.Meta()
	meta.Protocol = r.protocol
	meta.TxHash = domain.SyntheticTxPrefix + uuid.NewString()
	meta.Timestamp = now

	result, err := s.projector.ApplyEvent(ctx, v.fix)
	if err != nil {
		return false, err
	}
	metrics.EventsApplied.WithLabelValues("reconcile", string(r.protocol), string(result)).Inc()

	switch result {
	case projector.ResultApplied:
		res.Corrected++
		if v.class == DriftBuyerUnresolved {
			res.Flagged++
		}
		return true, nil
	case projector.ResultAnomaly:
		res.Flagged++
	}
	return false, nil
}

func (s *Service) touch(ctx context.Context, r row, now time.Time) error {
	if r.listing != nil {
		return s.store.Listings().Touch(ctx, r.id, now)
	}
	return s.store.Offers().Touch(ctx, r.id, now)
}

func (r row) orderHash() string {
	if r.listing != nil && r.listing.OrderHash != nil {
		return *r.listing.OrderHash
	}
	if r.offer != nil && r.offer.OrderHash != nil {
		return *r.offer.OrderHash
	}
	return ""
}

func (r row) parameters() *domain.OrderParameters {
	if r.listing != nil {
		return r.listing.OrderParameters
	}
	return r.offer.OrderParameters
}

func contractID(s *string) (*big.Int, error) {
	if s == nil {
		return nil, errors.New("row has no contract id")
	}
	id, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid contract id %q", *s)
	}
	return id, nil
}

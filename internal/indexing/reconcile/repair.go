package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/seaport"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
)

const repairPageSize = 100

// RepairResult summarises an order-hash repair pass.
type RepairResult struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Flagged   int `json:"flagged"`
	Conflicts int `json:"conflicts"`
}

// stored is the part of a listing or offer the repair pass needs.
type stored struct {
	kind   string
	id     int64
	hash   *string
	params *domain.OrderParameters
	update func(ctx context.Context, id int64, hash string) error
}

// RepairOrderHashes recomputes the hash of every stored Seaport order from
// its parameters and rewrites mismatches. Rows whose parameters cannot be
// hashed are flagged and skipped. A limit of zero scans everything.
func (s *Service) RepairOrderHashes(ctx context.Context, limit int) (RepairResult, error) {
	var res RepairResult

	listings := s.store.Listings()
	var after int64
	for limit <= 0 || res.Scanned < limit {
		page, err := listings.ListWithParameters(ctx, after, repairPageSize)
		if err != nil {
			return res, fmt.Errorf("list listings: %w", err)
		}
		for _, l := range page {
			after = l.ID
			if limit > 0 && res.Scanned >= limit {
				break
			}
			row := stored{kind: "listing", id: l.ID, hash: l.OrderHash, params: l.OrderParameters, update: listings.UpdateOrderHash}
			if err := s.repair(ctx, row, &res); err != nil {
				return res, err
			}
		}
		if len(page) < repairPageSize {
			break
		}
	}

	offers := s.store.Offers()
	after = 0
	for limit <= 0 || res.Scanned < limit {
		page, err := offers.ListWithParameters(ctx, after, repairPageSize)
		if err != nil {
			return res, fmt.Errorf("list offers: %w", err)
		}
		for _, o := range page {
			after = o.ID
			if limit > 0 && res.Scanned >= limit {
				break
			}
			row := stored{kind: "offer", id: o.ID, hash: o.OrderHash, params: o.OrderParameters, update: offers.UpdateOrderHash}
			if err := s.repair(ctx, row, &res); err != nil {
				return res, err
			}
		}
		if len(page) < repairPageSize {
			break
		}
	}

	s.log.Info("Order hash repair finished",
		"scanned", res.Scanned,
		"updated", res.Updated,
		"flagged", res.Flagged,
		"conflicts", res.Conflicts,
	)
	return res, nil
}

func (s *Service) repair(ctx context.Context, row stored, res *RepairResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res.Scanned++

	subject := ""
	if row.hash != nil {
		subject = domain.OrderSubject(*row.hash)
	}

	h, err := seaport.OrderHash(row.params)
	if errors.Is(err, seaport.ErrCounterUnknown) {
		// The stored hash came from the chain and is kept as is.
		res.Flagged++
		detail := fmt.Sprintf("%s %d: counter unknown, stored hash kept", row.kind, row.id)
		return s.flagRepair(ctx, subject, detail)
	}
	if err != nil {
		res.Flagged++
		detail := fmt.Sprintf("%s %d: %v", row.kind, row.id, err)
		s.log.Warn("Failed to recompute order hash", "kind", row.kind, "id", row.id, "error", err)
		return s.flagRepair(ctx, subject, detail)
	}

	computed := domain.NormalizeHash(h)
	if row.hash != nil && *row.hash == computed {
		return nil
	}

	err = row.update(ctx, row.id, computed)
	switch {
	case err == nil:
		res.Updated++
		s.log.Info("Order hash corrected",
			"kind", row.kind, "id", row.id, "old", deref(row.hash), "new", computed)
		return nil
	case errors.Is(err, storage.ErrConflict):
		res.Conflicts++
		res.Flagged++
		detail := fmt.Sprintf("%s %d: recomputed hash %s belongs to another row", row.kind, row.id, computed)
		return s.flagRepair(ctx, subject, detail)
	default:
		return fmt.Errorf("update %s %d: %w", row.kind, row.id, err)
	}
}

func (s *Service) flagRepair(ctx context.Context, subject, detail string) error {
	an := domain.NewAnomaly(domain.AnomalyHashRecompute, domain.ProtocolSeaport, subject, detail)
	if err := s.store.Anomalies().Record(ctx, an); err != nil {
		return fmt.Errorf("record anomaly: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

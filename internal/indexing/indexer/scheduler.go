package indexer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Scheduler runs RunOnce repeatedly: back to back while catching up, every
// PollInterval once at the confirmed head, and after a failure.
type Scheduler struct {
	ix      *Indexer
	running atomic.Bool
	stop    chan struct{}
}

// NewScheduler creates a scheduler for ix.
func NewScheduler(ix *Indexer) *Scheduler {
	return &Scheduler{ix: ix, stop: make(chan struct{})}
}

// Start runs the loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	log := s.ix.log
	log.Info("Indexer started",
		"start_block", s.ix.cfg.StartBlock,
		"confirmations", s.ix.cfg.Confirmations,
		"max_block_range", s.ix.cfg.MaxBlockRange,
	)

	for {
		wait := s.ix.cfg.PollInterval
		res, err := s.ix.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			log.Info("Indexer stopped")
			return nil
		case err != nil:
			log.Error("Indexing pass failed", "error", err)
		case !res.CaughtUp():
			wait = 0
		}

		if wait == 0 {
			select {
			case <-ctx.Done():
				log.Info("Indexer stopped")
				return nil
			case <-s.stop:
				return nil
			default:
				continue
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("Indexer stopped")
			return nil
		case <-s.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop stops the loop.
func (s *Scheduler) Stop() {
	if s.running.Load() {
		select {
		case <-s.stop:
		default:
			close(s.stop)
		}
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

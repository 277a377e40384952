package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jc4p/mint-exchange-sub001/internal/api"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/indexer"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/reconcile"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/webhook"
)

// App runs the HTTP server, the polling scheduler and the sweeper.
type App struct {
	c         *Components
	server    *api.Server
	scheduler *indexer.Scheduler
	log       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApp creates an app over wired components.
func NewApp(c *Components) *App {
	cfg := c.Config

	var hook http.Handler
	if cfg.Webhook.Secret != "" {
		hook = webhook.NewHandler(c.Ingestor, cfg.Webhook.Secret)
	}

	server := api.NewServer(api.Config{
		Port:       cfg.Server.Port,
		AdminToken: cfg.Server.AdminToken,
	}, api.Deps{
		Monitor:    c.Monitor,
		Webhook:    hook,
		RPC:        c.RPC,
		Reconciler: c.Reconciler,
		Ingestor:   c.Ingestor,
		Indexer:    c.Indexer,
		Anomalies:  c.Store.Anomalies(),
		StreamID:   c.StreamID(),
	})

	return &App{
		c:         c,
		server:    server,
		scheduler: indexer.NewScheduler(c.Indexer),
		log:       slog.Default().With("component", "app"),
	}
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Start launches the background loops and returns immediately.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return fmt.Errorf("app already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g

	cfg := a.c.Config
	if db := a.c.DB(); db != nil {
		db.StartMetricsCollector(gctx)
	}

	g.Go(a.server.Start)

	if cfg.Indexer.IsEnabled() {
		g.Go(func() error { return a.scheduler.Start(gctx) })
	} else {
		a.log.Info("Polling disabled, serving webhook and admin only")
	}

	if cfg.Reconcile.Enabled {
		opts := reconcile.SweepOptions{
			Limit:         cfg.Reconcile.BatchSize,
			CancelExpired: cfg.Reconcile.CancelExpired,
		}
		g.Go(func() error { return a.c.Reconciler.Run(gctx, cfg.Reconcile.Interval, opts) })
	}

	a.log.Info("Indexer app started",
		"stream", a.c.StreamID(),
		"port", cfg.Server.Port,
		"polling", cfg.Indexer.IsEnabled(),
		"reconcile", cfg.Reconcile.Enabled,
	)
	return nil
}

// Wait blocks until every loop has exited and returns the first error.
func (a *App) Wait() error {
	a.mu.Lock()
	g := a.group
	a.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop shuts the server down, stops the loops and releases storage.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, g := a.cancel, a.group
	a.mu.Unlock()

	a.log.Info("Stopping indexer app")
	shutdownErr := a.server.Stop(ctx)
	a.scheduler.Stop()
	if cancel != nil {
		cancel()
	}

	var runErr error
	if g != nil {
		runErr = g.Wait()
	}
	a.c.Close()

	if shutdownErr != nil {
		return fmt.Errorf("failed to shut down http server: %w", shutdownErr)
	}
	return runErr
}

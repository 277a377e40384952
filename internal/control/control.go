// Package control wires configuration into running components and owns
// their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jc4p/mint-exchange-sub001/internal/core/config"
	"github.com/jc4p/mint-exchange-sub001/internal/core/cursor"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/health"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/indexer"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/projector"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/reconcile"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/webhook"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/exchange"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/chain/seaport"
	redisclient "github.com/jc4p/mint-exchange-sub001/internal/infra/redis"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/provider"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage/memory"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage/postgres"
)

// Components is the fully wired object graph. Commands that run one
// operation and exit use it directly; App runs the long-lived loops on top.
type Components struct {
	Config     *config.AppConfig
	Store      storage.Store
	RPC        *rpc.Client
	Registry   *chain.Registry
	Projector  *projector.Projector
	Cursors    *cursor.DefaultManager
	Indexer    *indexer.Indexer
	Ingestor   *webhook.Ingestor
	Reconciler *reconcile.Service
	Monitor    *health.Monitor

	db    *postgres.DB
	redis *redisclient.Client
	log   *slog.Logger
}

// Build opens storage and Redis and wires every component from cfg. The
// caller owns the result and must Close it.
func Build(ctx context.Context, cfg *config.AppConfig) (*Components, error) {
	c := &Components{
		Config: cfg,
		log:    slog.Default().With("component", "control"),
	}

	if err := c.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := c.initRedis(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initChain(); err != nil {
		c.Close()
		return nil, err
	}
	c.initIndexing()
	return c, nil
}

func (c *Components) initStorage(ctx context.Context) error {
	if c.Config.Database.URL == "" {
		c.Store = memory.NewMemoryStorage()
		c.log.Warn("No database configured, using in-memory storage")
		return nil
	}

	db, err := postgres.NewDB(ctx, c.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	c.db = db
	c.Store = postgres.NewStore(db)
	c.log.Info("Using PostgreSQL storage")
	return nil
}

func (c *Components) initRedis() error {
	if c.Config.Redis.URL == "" {
		return nil
	}
	client, err := redisclient.NewClient(c.Config.Redis)
	if err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}
	c.redis = client
	c.log.Info("Redis coordination enabled")
	return nil
}

func (c *Components) initChain() error {
	cfg := c.Config

	providers := make([]provider.RPCProvider, 0, len(cfg.Chain.Providers))
	for _, p := range cfg.Chain.Providers {
		providers = append(providers, provider.NewHTTPProvider(p.Name, p.URL, cfg.Chain.RequestTimeout))
	}
	if len(providers) == 0 {
		return errors.New("no rpc providers configured")
	}
	c.RPC = rpc.NewClient(rpc.Config{
		Retry:            cfg.Retry.RetryConfig,
		NotFoundAttempts: cfg.Retry.NotFoundAttempts,
		NotFoundDelay:    cfg.Retry.NotFoundDelay,
		MaxConcurrency:   cfg.Chain.MaxConcurrency,
	}, providers...)

	var decoders []chain.Decoder
	if addr := cfg.Contracts.Exchange; addr != "" {
		decoders = append(decoders, exchange.NewDecoder(common.HexToAddress(addr)))
	}
	if addr := cfg.Contracts.Seaport; addr != "" {
		decoders = append(decoders, seaport.NewDecoder(common.HexToAddress(addr)))
	}
	c.Registry = chain.NewRegistry(decoders...)
	return nil
}

func (c *Components) initIndexing() {
	cfg := c.Config

	var popts []projector.Option
	if cfg.Contracts.PaymentToken != "" {
		popts = append(popts, projector.WithPaymentToken(common.HexToAddress(cfg.Contracts.PaymentToken)))
	}
	c.Projector = projector.New(c.Store, popts...)
	c.Cursors = cursor.NewManager(c.Store.Cursors())

	var ixLocker indexer.Locker
	if c.redis != nil {
		ixLocker = c.redis
	}
	c.Indexer = indexer.New(indexer.Config{
		StreamID:         cfg.Indexer.StreamID,
		StartBlock:       cfg.Chain.StartBlock,
		Confirmations:    cfg.Chain.Confirmations,
		MaxBlockRange:    cfg.Indexer.MaxBlockRange,
		LogChunkSize:     cfg.Indexer.LogChunkSize,
		FetchConcurrency: cfg.Indexer.FetchConcurrency,
		ApplyConcurrency: cfg.Indexer.ApplyConcurrency,
		PollInterval:     cfg.Indexer.PollInterval,
		HeadCacheTTL:     cfg.Indexer.HeadCacheTTL,
		LockTTL:          cfg.Indexer.LockTTL,
	}, c.RPC, c.Registry, c.Cursors, c.Projector, c.Store.Anomalies(), ixLocker)

	var wopts []webhook.Option
	if c.redis != nil {
		wopts = append(wopts, webhook.WithSeenSet(c.redis, cfg.Webhook.SeenTTL))
	}
	c.Ingestor = webhook.NewIngestor(c.RPC, c.Registry, c.Projector, c.Store.Anomalies(), wopts...)

	// Readers stay untyped nil when a contract is not configured so the
	// sweeper skips that protocol.
	var (
		exReader reconcile.ExchangeReader
		spReader reconcile.SeaportReader
	)
	if addr := cfg.Contracts.Exchange; addr != "" {
		exReader = exchange.NewReader(c.RPC, common.HexToAddress(addr))
	}
	if addr := cfg.Contracts.Seaport; addr != "" {
		spReader = seaport.NewReader(c.RPC, common.HexToAddress(addr))
	}
	ropts := []reconcile.Option{reconcile.WithConcurrency(cfg.Reconcile.Concurrency)}
	if c.redis != nil {
		ropts = append(ropts, reconcile.WithLocker(c.redis, cfg.Reconcile.LockTTL))
	}
	c.Reconciler = reconcile.New(c.Store, c.Projector, exReader, spReader, ropts...)

	c.Monitor = health.NewMonitor(
		[]health.StreamStatus{c.Indexer},
		c.Store.Anomalies(),
		health.Thresholds{},
	)
	for _, p := range c.RPC.Providers() {
		c.Monitor.WatchProviders(p)
	}
}

// StreamID is the configured polling stream.
func (c *Components) StreamID() string {
	return c.Indexer.StreamID()
}

// DB returns the PostgreSQL handle, nil in memory mode.
func (c *Components) DB() *postgres.DB {
	return c.db
}

// Close releases Redis and the database.
func (c *Components) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.log.Error("Failed to close redis", "error", err)
		}
		c.redis = nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.Error("Failed to close db", "error", err)
		}
		c.db = nil
	}
}

package config

import (
	"time"

	redisclient "github.com/jc4p/mint-exchange-sub001/internal/infra/redis"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/routing"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Chain     ChainConfig        `yaml:"chain"`
	Contracts ContractsConfig    `yaml:"contracts"`
	Retry     RetryConfig        `yaml:"retry"`
	Indexer   IndexerConfig      `yaml:"indexer"`
	Reconcile ReconcileConfig    `yaml:"reconcile"`
	Webhook   WebhookConfig      `yaml:"webhook"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig describes the chain being indexed.
type ChainConfig struct {
	Providers      []ProviderConfig `yaml:"providers"`
	Confirmations  uint64           `yaml:"confirmations"`
	StartBlock     uint64           `yaml:"start_block"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	MaxConcurrency int64            `yaml:"max_concurrency"`
}

// ProviderConfig holds settings for an RPC provider.
type ProviderConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ContractsConfig holds the deployed contract addresses. An empty address
// disables that protocol.
type ContractsConfig struct {
	Exchange     string `yaml:"exchange"`
	Seaport      string `yaml:"seaport"`
	PaymentToken string `yaml:"payment_token"`
}

// RetryConfig bounds RPC retries.
type RetryConfig struct {
	routing.RetryConfig `yaml:",inline"`
	NotFoundAttempts    int           `yaml:"not_found_attempts"`
	NotFoundDelay       time.Duration `yaml:"not_found_delay"`
}

// IndexerConfig tunes the polling pass.
type IndexerConfig struct {
	Enabled          *bool         `yaml:"enabled"`
	StreamID         string        `yaml:"stream_id"`
	MaxBlockRange    uint64        `yaml:"max_block_range"`
	LogChunkSize     uint64        `yaml:"log_chunk_size"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
	ApplyConcurrency int           `yaml:"apply_concurrency"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	HeadCacheTTL     time.Duration `yaml:"head_cache_ttl"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
}

// IsEnabled reports whether the polling loop runs; it defaults to true.
func (c IndexerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ReconcileConfig tunes the sweeper.
type ReconcileConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	BatchSize     int           `yaml:"batch_size"`
	Concurrency   int           `yaml:"concurrency"`
	CancelExpired bool          `yaml:"cancel_expired"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// WebhookConfig holds push ingestion settings.
type WebhookConfig struct {
	Secret  string        `yaml:"secret"`
	SeenTTL time.Duration `yaml:"seen_ttl"`
}

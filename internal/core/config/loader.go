package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/routing"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${ENV} references first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Chain.Confirmations == 0 {
		c.Chain.Confirmations = 2
	}
	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = 15 * time.Second
	}
	for i := range c.Chain.Providers {
		if c.Chain.Providers[i].Name == "" {
			c.Chain.Providers[i].Name = fmt.Sprintf("provider-%d", i)
		}
	}

	d := routing.DefaultRetryConfig
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.MaxAttempts
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = d.InitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = d.MaxDelay
	}
	if c.Retry.BackoffMultiple == 0 {
		c.Retry.BackoffMultiple = d.BackoffMultiple
	}
	if c.Retry.NotFoundAttempts == 0 {
		c.Retry.NotFoundAttempts = 10
	}
	if c.Retry.NotFoundDelay == 0 {
		c.Retry.NotFoundDelay = time.Second
	}

	if c.Indexer.StreamID == "" {
		c.Indexer.StreamID = "marketplace"
	}
	if c.Indexer.PollInterval == 0 {
		c.Indexer.PollInterval = 5 * time.Second
	}

	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = 5 * time.Minute
	}
	if c.Reconcile.BatchSize == 0 {
		c.Reconcile.BatchSize = 100
	}
	if c.Reconcile.Concurrency == 0 {
		c.Reconcile.Concurrency = 4
	}

	if c.Webhook.SeenTTL == 0 {
		c.Webhook.SeenTTL = 24 * time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the settings that have no sensible default.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Contracts.Exchange == "" && c.Contracts.Seaport == "" {
		errs = append(errs, errors.New("contracts: at least one of exchange or seaport is required"))
	}
	for name, addr := range map[string]string{
		"exchange":      c.Contracts.Exchange,
		"seaport":       c.Contracts.Seaport,
		"payment_token": c.Contracts.PaymentToken,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("contracts.%s: invalid address %q", name, addr))
		}
	}
	for i, p := range c.Chain.Providers {
		if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
			errs = append(errs, fmt.Errorf("chain.providers[%d]: url must be http(s)", i))
		}
	}
	if c.Indexer.LogChunkSize > 0 && c.Indexer.MaxBlockRange > 0 && c.Indexer.LogChunkSize > c.Indexer.MaxBlockRange {
		errs = append(errs, errors.New("indexer.log_chunk_size must not exceed indexer.max_block_range"))
	}

	return errors.Join(errs...)
}

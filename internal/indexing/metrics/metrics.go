package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per provider and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketindexer_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// ChainLatestBlock tracks the confirmed head the indexer scans up to
	ChainLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketindexer_chain_latest_block",
			Help: "Latest confirmed block height of the chain",
		},
		[]string{"stream"},
	)

	// IndexerLatestBlock tracks the cursor of each stream
	IndexerLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketindexer_indexer_latest_block",
			Help: "Last block fully processed by the stream",
		},
		[]string{"stream"},
	)

	// IndexerRunsTotal counts RunOnce passes by outcome
	IndexerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_indexer_runs_total",
			Help: "Total number of indexing passes",
		},
		[]string{"stream", "outcome"},
	)

	// EventsApplied counts projector outcomes per event source and result
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_events_applied_total",
			Help: "Total number of events passed to the projector",
		},
		[]string{"source", "protocol", "result"},
	)

	// DecodeFailures counts logs that could not be decoded
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_decode_failures_total",
			Help: "Total number of logs that failed to decode",
		},
		[]string{"protocol"},
	)

	// WebhookDeliveries counts webhook requests by outcome
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_webhook_deliveries_total",
			Help: "Total number of webhook deliveries",
		},
		[]string{"type", "outcome"},
	)

	// ReconcileRows counts rows by sweep outcome
	ReconcileRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_reconcile_rows_total",
			Help: "Total number of rows examined by reconciliation",
		},
		[]string{"protocol", "outcome"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketindexer_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)

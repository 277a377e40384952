// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// StreamHealth contains health metrics for one indexing stream.
type StreamHealth struct {
	StreamID        string       `json:"stream_id"`
	Status          SystemStatus `json:"status"`
	CurrentBlock    uint64       `json:"current_block"`
	SafeHead        uint64       `json:"safe_head"`
	BlockLag        uint64       `json:"block_lag"`
	BlocksPerSecond float64      `json:"blocks_per_second"`
	Error           string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                     `json:"system_status"`
	Streams      map[string]StreamHealth          `json:"streams"`
	Anomalies    map[domain.AnomalyKind]int       `json:"anomalies,omitempty"`
	Providers    map[string]provider.HealthStatus `json:"providers,omitempty"`
}

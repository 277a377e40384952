package health

import (
	"context"
	"sync"
	"time"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/indexer"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/provider"
)

// StreamStatus reports the position of one indexing stream.
type StreamStatus interface {
	StreamID() string
	Status(ctx context.Context) (indexer.Status, error)
}

// AnomalyCounter counts anomaly records by kind.
type AnomalyCounter interface {
	CountByKind(ctx context.Context) (map[domain.AnomalyKind]int, error)
}

// ProviderHealth reports the health of one RPC endpoint.
type ProviderHealth interface {
	GetName() string
	GetHealth() provider.HealthStatus
}

// Thresholds decide when lag turns a stream degraded or critical.
type Thresholds struct {
	DegradedLag uint64
	CriticalLag uint64
}

// Monitor aggregates health status from the indexing streams.
type Monitor struct {
	streams    []StreamStatus
	anomalies  AnomalyCounter
	providers  []ProviderHealth
	thresholds Thresholds
	interval   time.Duration
	now        func() time.Time
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. anomalies may be nil.
func NewMonitor(streams []StreamStatus, anomalies AnomalyCounter, thresholds Thresholds) *Monitor {
	if thresholds.DegradedLag == 0 {
		thresholds.DegradedLag = 50
	}
	if thresholds.CriticalLag == 0 {
		thresholds.CriticalLag = 1000
	}
	return &Monitor{
		streams:    streams,
		anomalies:  anomalies,
		thresholds: thresholds,
		interval:   10 * time.Second,
		now:        time.Now,
	}
}

// WatchProviders adds RPC endpoints to the report. When none of them is
// available the system is at least degraded.
func (m *Monitor) WatchProviders(providers ...ProviderHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, providers...)
	m.lastReport = nil
}

// CheckHealth reports every stream. Results are reused for a few seconds to
// avoid spamming RPC.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && m.now().Sub(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Streams:      make(map[string]StreamHealth, len(m.streams)),
	}

	for _, s := range m.streams {
		h := StreamHealth{StreamID: s.StreamID(), Status: StatusHealthy}

		st, err := s.Status(ctx)
		if err != nil {
			// A stream whose cursor or head can't be read is degraded, not down.
			h.Status = StatusDegraded
			h.Error = err.Error()
		} else {
			h.CurrentBlock = st.CurrentBlock
			h.SafeHead = st.SafeHead
			h.BlockLag = st.Lag
			h.BlocksPerSecond = st.BlocksPerSecond

			switch {
			case st.Lag > m.thresholds.CriticalLag:
				h.Status = StatusCritical
			case st.Lag > m.thresholds.DegradedLag:
				h.Status = StatusDegraded
			}
		}

		report.Streams[h.StreamID] = h
		report.SystemStatus = worst(report.SystemStatus, h.Status)
	}

	if len(m.providers) > 0 {
		report.Providers = make(map[string]provider.HealthStatus, len(m.providers))
		available := 0
		for _, p := range m.providers {
			h := p.GetHealth()
			report.Providers[p.GetName()] = h
			if h.Available {
				available++
			}
		}
		if available == 0 {
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	if m.anomalies != nil {
		if counts, err := m.anomalies.CountByKind(ctx); err == nil {
			report.Anomalies = counts
		}
	}

	m.lastCheck = m.now()
	m.lastReport = &report
	return report
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/indexer"
	"github.com/jc4p/mint-exchange-sub001/internal/infra/rpc/provider"
)

// =============================================================================
// Mocks
// =============================================================================

type stubStream struct {
	id    string
	lag   uint64
	err   error
	calls int
}

func (s *stubStream) StreamID() string { return s.id }

func (s *stubStream) Status(ctx context.Context) (indexer.Status, error) {
	s.calls++
	if s.err != nil {
		return indexer.Status{StreamID: s.id}, s.err
	}
	return indexer.Status{StreamID: s.id, CurrentBlock: 1000 - s.lag, SafeHead: 1000, Lag: s.lag}, nil
}

type stubAnomalies map[domain.AnomalyKind]int

func (s stubAnomalies) CountByKind(ctx context.Context) (map[domain.AnomalyKind]int, error) {
	return s, nil
}

type stubProvider struct {
	name      string
	available bool
}

func (p stubProvider) GetName() string { return p.name }

func (p stubProvider) GetHealth() provider.HealthStatus {
	return provider.HealthStatus{Available: p.available}
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Status(t *testing.T) {
	tests := []struct {
		name string
		lag  uint64
		err  error
		want SystemStatus
	}{
		{"healthy", 5, nil, StatusHealthy},
		{"degraded", 60, nil, StatusDegraded},
		{"critical", 2000, nil, StatusCritical},
		{"unreadable", 0, errors.New("rpc down"), StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewMonitor([]StreamStatus{&stubStream{id: "marketplace", lag: tt.lag, err: tt.err}}, nil, Thresholds{})

			report := monitor.CheckHealth(context.Background())
			if report.Streams["marketplace"].Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.Streams["marketplace"].Status)
			}
			if report.SystemStatus != tt.want {
				t.Errorf("expected system %s, got %s", tt.want, report.SystemStatus)
			}
		})
	}
}

func TestMonitor_WorstStreamWins(t *testing.T) {
	monitor := NewMonitor([]StreamStatus{
		&stubStream{id: "a", lag: 1},
		&stubStream{id: "b", lag: 5000},
	}, stubAnomalies{domain.AnomalyDecodeFailure: 2}, Thresholds{})

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
	if report.Anomalies[domain.AnomalyDecodeFailure] != 2 {
		t.Errorf("expected anomaly counts, got %v", report.Anomalies)
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	stream := &stubStream{id: "marketplace", lag: 1}
	monitor := NewMonitor([]StreamStatus{stream}, nil, Thresholds{})
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	monitor.now = func() time.Time { return clock }

	monitor.CheckHealth(context.Background())
	monitor.CheckHealth(context.Background())
	if stream.calls != 1 {
		t.Errorf("expected cached report, got %d status calls", stream.calls)
	}

	clock = clock.Add(time.Minute)
	monitor.CheckHealth(context.Background())
	if stream.calls != 2 {
		t.Errorf("expected refresh after interval, got %d status calls", stream.calls)
	}
}

func TestMonitor_Providers(t *testing.T) {
	monitor := NewMonitor([]StreamStatus{&stubStream{id: "marketplace", lag: 1}}, nil, Thresholds{})
	monitor.WatchProviders(stubProvider{name: "primary", available: true}, stubProvider{name: "backup"})

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("one available provider should stay healthy, got %s", report.SystemStatus)
	}
	if len(report.Providers) != 2 || report.Providers["backup"].Available {
		t.Errorf("unexpected providers %+v", report.Providers)
	}

	monitor = NewMonitor([]StreamStatus{&stubStream{id: "marketplace", lag: 1}}, nil, Thresholds{})
	monitor.WatchProviders(stubProvider{name: "primary"})
	if got := monitor.CheckHealth(context.Background()).SystemStatus; got != StatusDegraded {
		t.Errorf("expected degraded with no provider available, got %s", got)
	}
}

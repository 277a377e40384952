package cursor

import (
	"time"
)

// advanceRecord holds timing data for one cursor advance.
type advanceRecord struct {
	Block      uint64
	AdvancedAt time.Time
}

// Metrics holds cursor throughput data.
type Metrics struct {
	BlocksPerSecond float64
	LastAdvanceAt   *time.Time
	LastBlock       uint64
}

// MetricsCollector tracks cursor throughput over a sliding window.
type MetricsCollector struct {
	windowSize int             // number of advances to track
	advances   []advanceRecord // ring buffer of advances
}

// RecordAdvance records the block a cursor advanced to.
func (mc *MetricsCollector) RecordAdvance(block uint64, at time.Time) {
	record := advanceRecord{Block: block, AdvancedAt: at}

	if len(mc.advances) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.advances, mc.advances[1:])
		mc.advances[len(mc.advances)-1] = record
	} else {
		mc.advances = append(mc.advances, record)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	var m Metrics
	if len(mc.advances) == 0 {
		return m
	}

	last := mc.advances[len(mc.advances)-1]
	at := last.AdvancedAt
	m.LastAdvanceAt = &at
	m.LastBlock = last.Block

	if len(mc.advances) >= 2 {
		first := mc.advances[0]
		duration := last.AdvancedAt.Sub(first.AdvancedAt)
		if duration > 0 && last.Block > first.Block {
			m.BlocksPerSecond = float64(last.Block-first.Block) / duration.Seconds()
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.advances = mc.advances[:0]
}

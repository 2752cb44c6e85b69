package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises observed step durations and the dt values fed to them.
type TickMetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
	// Clamped counts steps whose measured dt hit the loop's cap.
	Clamped int
}

// AverageFPS derives the frames-per-second equivalent of the sampled step duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the frame driver.
type TickMonitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
	clamped int
}

// NewTickMonitor constructs an empty monitor ready to collect samples.
func NewTickMonitor() *TickMonitor {
	return &TickMonitor{}
}

// Observe records how long a completed step took to run.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// ObserveClamp notes a step whose dt was capped after a stall.
func (m *TickMonitor) ObserveClamp() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.clamped++
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	average := time.Duration(0)
	if m.samples > 0 {
		average = m.total / time.Duration(m.samples)
	}
	return TickMetricsSnapshot{Samples: m.samples, Average: average, Max: m.max, Last: m.last, Clamped: m.clamped}
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last, m.clamped = 0, 0, 0, 0, 0
	m.mu.Unlock()
}

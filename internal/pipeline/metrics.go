package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters.
type Metrics struct {
	Sessions      atomic.Uint64
	Packets       atomic.Uint64
	Delivered     atomic.Uint64
	Dropped       atomic.Uint64
	SinkErrors    atomic.Uint64
	FramingErrors atomic.Uint64
	Truncated     atomic.Uint64 // streams closed with a partial frame buffered
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Sessions:      m.Sessions.Load(),
		Packets:       m.Packets.Load(),
		Delivered:     m.Delivered.Load(),
		Dropped:       m.Dropped.Load(),
		SinkErrors:    m.SinkErrors.Load(),
		FramingErrors: m.FramingErrors.Load(),
		Truncated:     m.Truncated.Load(),
	}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Sessions.Store(0)
	m.Packets.Store(0)
	m.Delivered.Store(0)
	m.Dropped.Store(0)
	m.SinkErrors.Store(0)
	m.FramingErrors.Store(0)
	m.Truncated.Store(0)
}

// Stats represents pipeline statistics.
type Stats struct {
	Sessions      uint64
	Packets       uint64
	Delivered     uint64 // successful sink deliveries, one per sink per packet
	Dropped       uint64
	SinkErrors    uint64
	FramingErrors uint64
	Truncated     uint64
}

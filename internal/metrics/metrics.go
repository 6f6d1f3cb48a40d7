// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamBytesTotal counts bytes fed into stream reassemblers
	StreamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_stream_bytes_total",
			Help: "Total number of bytes fed into stream reassemblers",
		},
	)

	// StreamFramesTotal counts complete frames emitted by reassemblers
	StreamFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_stream_frames_total",
			Help: "Total number of complete frames assembled",
		},
	)

	// StreamFramingErrorsTotal counts streams broken by framing errors
	StreamFramingErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_stream_framing_errors_total",
			Help: "Total number of framing errors (bad signature or bad length)",
		},
		[]string{"reason"},
	)

	// StreamBufferedBytes tracks bytes queued in reassemblers awaiting a complete frame
	StreamBufferedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_stream_buffered_bytes",
			Help: "Number of bytes buffered across all reassemblers",
		},
	)

	// SessionsActive tracks open streams per source
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_sessions_active",
			Help: "Number of open stream sessions",
		},
		[]string{"source"},
	)

	// SinkPacketsTotal counts packets handed to sinks by result
	SinkPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_sink_packets_total",
			Help: "Total number of packets delivered to sinks",
		},
		[]string{"sink", "result"},
	)

	// SinkLatencySeconds measures per-packet sink latency
	SinkLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabric_sink_latency_seconds",
			Help:    "Latency of sink delivery in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"sink"},
	)

	// RelayDropsTotal counts packets the relay refused to forward
	RelayDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_relay_drops_total",
			Help: "Total number of packets dropped by the relay sink",
		},
		[]string{"reason"},
	)
)

// Sink result label values
const (
	ResultOK    = "ok"
	ResultError = "error"
)

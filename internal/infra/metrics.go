package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	framesApplied   atomic.Uint64
	decodeErrors    atomic.Uint64
	encodeErrors    atomic.Uint64
	subscribesSent  atomic.Uint64
	connectFailures atomic.Uint64
	retryCycles     atomic.Uint64

	// Latency tracking (frame receive -> applied)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// NewMetrics creates a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordFrame records one applied frame with its queueing latency.
func (m *Metrics) RecordFrame(latencyNs int64) {
	m.framesApplied.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordDecodeError records a dropped frame.
func (m *Metrics) RecordDecodeError() {
	m.decodeErrors.Add(1)
}

// RecordEncodeError records a subscribe request that could not be built or sent.
func (m *Metrics) RecordEncodeError() {
	m.encodeErrors.Add(1)
}

// RecordSubscribe records a subscribe request written to the transport.
func (m *Metrics) RecordSubscribe() {
	m.subscribesSent.Add(1)
}

// RecordConnectFailure records a failed dial.
func (m *Metrics) RecordConnectFailure() {
	m.connectFailures.Add(1)
}

// RecordRetryCycle records one caller-driven disconnect/reconnect cycle.
func (m *Metrics) RecordRetryCycle() {
	m.retryCycles.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesApplied     uint64    `json:"frames_applied"`
	DecodeErrors      uint64    `json:"decode_errors"`
	EncodeErrors      uint64    `json:"encode_errors"`
	SubscribesSent    uint64    `json:"subscribes_sent"`
	ConnectFailures   uint64    `json:"connect_failures"`
	RetryCycles       uint64    `json:"retry_cycles"`
	AvgLatencyNs      int64     `json:"avg_latency_ns"`
	ActiveConnections int32     `json:"active_connections"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		FramesApplied:     m.framesApplied.Load(),
		DecodeErrors:      m.decodeErrors.Load(),
		EncodeErrors:      m.encodeErrors.Load(),
		SubscribesSent:    m.subscribesSent.Load(),
		ConnectFailures:   m.connectFailures.Load(),
		RetryCycles:       m.retryCycles.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.framesApplied.Store(0)
	m.decodeErrors.Store(0)
	m.encodeErrors.Store(0)
	m.subscribesSent.Store(0)
	m.connectFailures.Store(0)
	m.retryCycles.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}

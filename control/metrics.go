// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for server-level monitoring.
// Counters live in a thread-safe map with dynamic registration.

package control

import (
	"sync"
	"time"
)

// Metric keys maintained by the server engine.
const (
	MetricConnsAccepted     = "conns.accepted"
	MetricConnsRejected     = "conns.rejected"
	MetricConnsActive       = "conns.active"
	MetricHandshakeErrors   = "errors.handshake"
	MetricDecodeErrors      = "errors.decode"
	MetricContentErrors     = "errors.content"
	MetricFramesReceived    = "frames.received"
	MetricMessagesBroadcast = "messages.broadcast"
	MetricDeliveries        = "messages.delivered"
	MetricDeliveryFailures  = "messages.failed"
	MetricRelayPublished    = "relay.published"
	MetricRelayReceived     = "relay.received"
)

// MetricsRegistry holds int64 counters and gauges.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]int64
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]int64),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value int64) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Add increments key by delta and returns the new value.
func (mr *MetricsRegistry) Add(key string, delta int64) int64 {
	mr.mu.Lock()
	v := mr.metrics[key] + delta
	mr.metrics[key] = v
	mr.updated = time.Now()
	mr.mu.Unlock()
	return v
}

// Inc is Add(key, 1).
func (mr *MetricsRegistry) Inc(key string) int64 {
	return mr.Add(key, 1)
}

// Get returns the current value of key, zero if unset.
func (mr *MetricsRegistry) Get(key string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.metrics[key]
}

// GetSnapshot returns a copy of the metrics and the time of the last update.
func (mr *MetricsRegistry) GetSnapshot() (map[string]int64, time.Time) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out, mr.updated
}

// Package prom exposes dispatcher telemetry as Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lmarcho/ragsync"
)

// Metrics implements ragsync.Metrics on Prometheus collectors.
type Metrics struct {
	batchDuration prometheus.Histogram
	itemsTotal    *prometheus.CounterVec
	pending       prometheus.Gauge
	circuitState  prometheus.Gauge
}

var _ ragsync.Metrics = (*Metrics)(nil)

// New builds the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer unless you run multiple instances.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragsync",
			Name:      "batch_duration_seconds",
			Help:      "Time to process one dispatch pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragsync",
			Name:      "items_total",
			Help:      "Queue items by dispatch outcome.",
		}, []string{"outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragsync",
			Name:      "pending_items",
			Help:      "Items currently waiting for dispatch.",
		}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragsync",
			Name:      "circuit_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
	}
	reg.MustRegister(m.batchDuration, m.itemsTotal, m.pending, m.circuitState)

	return m
}

// ObserveBatchDuration implements ragsync.Metrics.
func (m *Metrics) ObserveBatchDuration(d time.Duration) {
	m.batchDuration.Observe(d.Seconds())
}

// AddSent implements ragsync.Metrics.
func (m *Metrics) AddSent(count int) {
	m.itemsTotal.WithLabelValues("sent").Add(float64(count))
}

// AddSkipped implements ragsync.Metrics.
func (m *Metrics) AddSkipped(count int) {
	m.itemsTotal.WithLabelValues("skipped").Add(float64(count))
}

// AddFailed implements ragsync.Metrics.
func (m *Metrics) AddFailed(count int) {
	m.itemsTotal.WithLabelValues("failed").Add(float64(count))
}

// AddDead implements ragsync.Metrics.
func (m *Metrics) AddDead(count int) {
	m.itemsTotal.WithLabelValues("dead").Add(float64(count))
}

// SetPending implements ragsync.Metrics.
func (m *Metrics) SetPending(count int) {
	m.pending.Set(float64(count))
}

// SetCircuitState implements ragsync.Metrics.
func (m *Metrics) SetCircuitState(state ragsync.CircuitState) {
	var v float64
	switch state {
	case ragsync.CircuitOpen:
		v = 1
	case ragsync.CircuitHalfOpen:
		v = 2
	}
	m.circuitState.Set(v)
}

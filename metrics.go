package ragsync

import "time"

// Metrics captures dispatcher-level telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to process one dispatch pass.
	ObserveBatchDuration(duration time.Duration)
	// AddSent increments the count of items delivered to the backend.
	AddSent(count int)
	// AddSkipped increments the count of items soft-skipped without transmission.
	AddSkipped(count int)
	// AddFailed increments the count of items marked for retry.
	AddFailed(count int)
	// AddDead increments the count of items parked as dead.
	AddDead(count int)
	// SetPending updates the current pending item count.
	SetPending(count int)
	// SetCircuitState records the breaker state (0 closed, 1 open, 2 half-open).
	SetCircuitState(state CircuitState)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddSent implements Metrics.
func (NopMetrics) AddSent(int) {}

// AddSkipped implements Metrics.
func (NopMetrics) AddSkipped(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddDead implements Metrics.
func (NopMetrics) AddDead(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}

// SetCircuitState implements Metrics.
func (NopMetrics) SetCircuitState(CircuitState) {}

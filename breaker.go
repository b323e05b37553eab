package ragsync

import (
	"context"
	"time"
)

// CircuitState is the breaker state persisted per service name.
type CircuitState string

const (
	// CircuitClosed lets all calls pass.
	CircuitClosed CircuitState = "closed"
	// CircuitOpen short-circuits all calls until the recovery timeout elapses.
	CircuitOpen CircuitState = "open"
	// CircuitHalfOpen permits a single trial call through.
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitSnapshot is the persisted breaker row.
type CircuitSnapshot struct {
	State         CircuitState
	FailureCount  int
	LastFailureAt time.Time
	OpenedAt      time.Time
}

// CircuitStore persists breaker state shared across dispatcher processes.
// Implementations must express every transition as a single atomic
// statement; TryHalfOpen in particular must compare-and-swap on the open
// state so that concurrent availability checks admit only one trial.
type CircuitStore interface {
	// Snapshot returns the current persisted state, initializing a
	// closed row when none exists.
	Snapshot(ctx context.Context) (CircuitSnapshot, error)

	// MarkFailure atomically increments the failure count and opens the
	// circuit when the count reaches threshold or the circuit was
	// half-open.
	MarkFailure(ctx context.Context, threshold int, now time.Time) error

	// MarkSuccess atomically closes the circuit and resets the failure count.
	MarkSuccess(ctx context.Context, now time.Time) error

	// TryHalfOpen flips open to half_open and reports whether this call
	// performed the flip.
	TryHalfOpen(ctx context.Context, now time.Time) (bool, error)
}

// CircuitBreaker is a persistent three-state breaker guarding the webhook.
// State lives in a CircuitStore so that multiple dispatcher processes
// observe a consistent breaker across restarts.
type CircuitBreaker struct {
	store            CircuitStore
	clock            Clock
	logger           Logger
	failureThreshold int
	recoveryTimeout  time.Duration
}

// NewCircuitBreaker constructs a breaker over the given store.
func NewCircuitBreaker(store CircuitStore, cfg Config, clock Clock, logger Logger) *CircuitBreaker {
	cfg = cfg.WithDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = NopLogger{}
	}

	return &CircuitBreaker{
		store:            store,
		clock:            clock,
		logger:           logger,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
	}
}

// IsAvailable reports whether a call may be attempted. The open to
// half-open transition happens lazily here, so callers must check
// immediately before sending and must not cache the result.
func (b *CircuitBreaker) IsAvailable(ctx context.Context) (bool, error) {
	snap, err := b.store.Snapshot(ctx)
	if err != nil {
		return false, err
	}

	switch snap.State {
	case CircuitOpen:
		if !b.recoveryElapsed(snap) {
			return false, nil
		}
		flipped, err := b.store.TryHalfOpen(ctx, b.clock.Now())
		if err != nil {
			return false, err
		}
		if flipped {
			b.logger.Info("circuit breaker half-open, probing backend")
		}

		return true, nil
	default:
		return true, nil
	}
}

// RecordSuccess resets the breaker after a successful call. A success in
// half-open closes the circuit.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context) error {
	snap, err := b.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.State == CircuitClosed && snap.FailureCount == 0 {
		return nil
	}
	if err := b.store.MarkSuccess(ctx, b.clock.Now()); err != nil {
		return err
	}
	if snap.State != CircuitClosed {
		b.logger.Info("circuit breaker closed, backend recovered")
	}

	return nil
}

// RecordFailure counts a failed call. Reaching the threshold, or any
// failure while half-open, opens the circuit.
func (b *CircuitBreaker) RecordFailure(ctx context.Context) error {
	before, err := b.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := b.store.MarkFailure(ctx, b.failureThreshold, b.clock.Now()); err != nil {
		return err
	}

	opensAt := before.FailureCount+1 >= b.failureThreshold
	if before.State == CircuitHalfOpen {
		b.logger.Warn("circuit breaker reopened, backend still failing")
	} else if before.State == CircuitClosed && opensAt {
		b.logger.Warn("circuit breaker opened",
			"failure_count", before.FailureCount+1,
			"threshold", b.failureThreshold)
	}

	return nil
}

// ForceClose closes the circuit for operator recovery.
func (b *CircuitBreaker) ForceClose(ctx context.Context) error {
	if err := b.store.MarkSuccess(ctx, b.clock.Now()); err != nil {
		return err
	}
	b.logger.Info("circuit breaker force closed")

	return nil
}

// Status returns the persisted snapshot for dashboards and the CLI.
func (b *CircuitBreaker) Status(ctx context.Context) (CircuitSnapshot, error) {
	return b.store.Snapshot(ctx)
}

func (b *CircuitBreaker) recoveryElapsed(snap CircuitSnapshot) bool {
	if snap.OpenedAt.IsZero() {
		return true
	}

	return b.clock.Now().Sub(snap.OpenedAt) >= b.recoveryTimeout
}

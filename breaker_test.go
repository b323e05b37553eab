package ragsync

import (
	"context"
	"testing"
	"time"
)

func newTestBreaker(t *testing.T) (*CircuitBreaker, *memCircuitStore, *fakeClock) {
	t.Helper()
	store := newMemCircuitStore()
	clock := newFakeClock()
	cfg := Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}

	return NewCircuitBreaker(store, cfg, clock, nil), store, clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	breaker, store, _ := newTestBreaker(t)

	for i := 0; i < 2; i++ {
		if err := breaker.RecordFailure(ctx); err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if store.snap.State != CircuitClosed {
			t.Fatalf("circuit opened after %d failures", i+1)
		}
		if ok, _ := breaker.IsAvailable(ctx); !ok {
			t.Fatal("closed circuit must be available")
		}
	}

	if err := breaker.RecordFailure(ctx); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if store.snap.State != CircuitOpen {
		t.Fatalf("expected open at threshold, got %s", store.snap.State)
	}
	if ok, _ := breaker.IsAvailable(ctx); ok {
		t.Fatal("open circuit must not be available before recovery timeout")
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	ctx := context.Background()
	breaker, store, clock := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		_ = breaker.RecordFailure(ctx)
	}

	clock.advance(59 * time.Second)
	if ok, _ := breaker.IsAvailable(ctx); ok {
		t.Fatal("recovery timeout has not elapsed yet")
	}

	clock.advance(2 * time.Second)
	ok, err := breaker.IsAvailable(ctx)
	if err != nil {
		t.Fatalf("is available: %v", err)
	}
	if !ok {
		t.Fatal("expected trial call after recovery timeout")
	}
	if store.snap.State != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", store.snap.State)
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	ctx := context.Background()
	breaker, store, clock := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		_ = breaker.RecordFailure(ctx)
	}
	clock.advance(2 * time.Minute)
	if ok, _ := breaker.IsAvailable(ctx); !ok {
		t.Fatal("expected trial call")
	}

	if err := breaker.RecordSuccess(ctx); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if store.snap.State != CircuitClosed || store.snap.FailureCount != 0 {
		t.Fatalf("expected closed with zero failures, got %+v", store.snap)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	breaker, store, clock := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		_ = breaker.RecordFailure(ctx)
	}
	openedAt := store.snap.OpenedAt

	clock.advance(2 * time.Minute)
	if ok, _ := breaker.IsAvailable(ctx); !ok {
		t.Fatal("expected trial call")
	}

	if err := breaker.RecordFailure(ctx); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if store.snap.State != CircuitOpen {
		t.Fatalf("expected reopened circuit, got %s", store.snap.State)
	}
	if !store.snap.OpenedAt.After(openedAt) {
		t.Fatal("reopening must restart the recovery window")
	}

	if ok, _ := breaker.IsAvailable(ctx); ok {
		t.Fatal("reopened circuit must not admit calls immediately")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	breaker, store, _ := newTestBreaker(t)

	_ = breaker.RecordFailure(ctx)
	_ = breaker.RecordFailure(ctx)
	if err := breaker.RecordSuccess(ctx); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if store.snap.FailureCount != 0 {
		t.Fatalf("expected reset failure count, got %d", store.snap.FailureCount)
	}

	// The counter tracks consecutive failures only, so three more are
	// needed to open again.
	_ = breaker.RecordFailure(ctx)
	_ = breaker.RecordFailure(ctx)
	if store.snap.State != CircuitClosed {
		t.Fatalf("circuit opened early: %+v", store.snap)
	}
}

func TestBreakerForceClose(t *testing.T) {
	ctx := context.Background()
	breaker, store, _ := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		_ = breaker.RecordFailure(ctx)
	}
	if err := breaker.ForceClose(ctx); err != nil {
		t.Fatalf("force close: %v", err)
	}
	if store.snap.State != CircuitClosed || store.snap.FailureCount != 0 {
		t.Fatalf("expected closed circuit, got %+v", store.snap)
	}
	if ok, _ := breaker.IsAvailable(ctx); !ok {
		t.Fatal("force-closed circuit must be available")
	}
}

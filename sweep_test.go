package ragsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type listSource struct {
	refs  []EntityRef
	pages int
}

func (s *listSource) Page(_ context.Context, page, size int) ([]EntityRef, error) {
	s.pages++
	lo := (page - 1) * size
	if lo >= len(s.refs) {
		return nil, nil
	}
	hi := lo + size
	if hi > len(s.refs) {
		hi = len(s.refs)
	}

	return s.refs[lo:hi], nil
}

type gatedBuilder struct {
	ineligible map[string]bool
}

func (b gatedBuilder) BuildPayload(_ context.Context, entityID string, _ int) (Document, bool, error) {
	return Document{"id": entityID}, true, nil
}

func (b gatedBuilder) ShouldSync(_ context.Context, entityID string, _ int) (bool, error) {
	return !b.ineligible[entityID], nil
}

func newSweepEnv(t *testing.T, builder EntityBuilder, pageSize int) (*Sweeper, *memStore) {
	t.Helper()
	store := newMemStore(newFakeClock())
	provider := NewStaticConfig(enabledConfig())
	builders := NewRegistry()
	builders.Register(EntityTypeProduct, builder)

	return NewSweeper(NewQueueService(store, provider, nil), builders, provider, nil, pageSize), store
}

func TestSweepEnqueuesAllPages(t *testing.T) {
	refs := make([]EntityRef, 0, 7)
	for i := 1; i <= 7; i++ {
		refs = append(refs, EntityRef{EntityID: fmt.Sprintf("%d", i)})
	}
	source := &listSource{refs: refs}
	sweeper, store := newSweepEnv(t, gatedBuilder{}, 3)

	queued, err := sweeper.Sweep(context.Background(), EntityTypeProduct, source)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if queued != 7 {
		t.Fatalf("expected 7 queued, got %d", queued)
	}
	// 3 + 3 + 1, the short page ends the loop.
	if source.pages != 3 {
		t.Fatalf("expected 3 page reads, got %d", source.pages)
	}
	if stats, _ := store.Statistics(context.Background()); stats.Pending != 7 {
		t.Fatalf("expected 7 pending rows, got %+v", stats)
	}
}

func TestSweepSkipsIneligible(t *testing.T) {
	source := &listSource{refs: []EntityRef{
		{EntityID: "1"}, {EntityID: "2"}, {EntityID: "3"},
	}}
	sweeper, store := newSweepEnv(t, gatedBuilder{ineligible: map[string]bool{"2": true}}, 10)

	queued, err := sweeper.Sweep(context.Background(), EntityTypeProduct, source)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if queued != 2 {
		t.Fatalf("expected 2 queued, got %d", queued)
	}
	if stats, _ := store.Statistics(context.Background()); stats.Pending != 2 {
		t.Fatalf("expected 2 pending rows, got %+v", stats)
	}
}

func TestSweepGatedEntityTypeIsNoop(t *testing.T) {
	store := newMemStore(newFakeClock())
	cfg := enabledConfig()
	cfg.ProductsEnabled = false
	provider := NewStaticConfig(cfg)
	builders := NewRegistry()
	builders.Register(EntityTypeProduct, gatedBuilder{})
	sweeper := NewSweeper(NewQueueService(store, provider, nil), builders, provider, nil, 10)

	queued, err := sweeper.Sweep(context.Background(), EntityTypeProduct, &listSource{refs: []EntityRef{{EntityID: "1"}}})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if queued != 0 {
		t.Fatalf("expected gated no-op, got %d", queued)
	}
}

func TestSweepUnknownTypeFails(t *testing.T) {
	sweeper, _ := newSweepEnv(t, gatedBuilder{}, 10)

	_, err := sweeper.Sweep(context.Background(), EntityTypeCategory, &listSource{})
	if !errors.Is(err, ErrNoBuilder) {
		t.Fatalf("expected ErrNoBuilder, got %v", err)
	}
}

func TestSweepSourceErrorStops(t *testing.T) {
	sweeper, _ := newSweepEnv(t, gatedBuilder{}, 10)
	source := SourceFunc(func(context.Context, int, int) ([]EntityRef, error) {
		return nil, errors.New("db gone")
	})

	if _, err := sweeper.Sweep(context.Background(), EntityTypeProduct, source); err == nil {
		t.Fatal("expected error from source")
	}
}

package ragsync

import (
	"context"
	"fmt"
	"sort"
)

// Document is the JSON payload built for one entity.
type Document map[string]any

// EntityBuilder turns a domain entity into its webhook document. One
// implementation is registered per entity type; the engine never looks at
// domain models directly.
type EntityBuilder interface {
	// BuildPayload returns the document for the entity, or found=false
	// when the entity no longer exists or is no longer eligible (the
	// dispatcher then soft-skips the item).
	BuildPayload(ctx context.Context, entityID string, storeID int) (Document, bool, error)
	// ShouldSync reports whether the entity is eligible for syncing.
	// Used by full-sync sweeps before enqueueing, not by the dispatcher.
	ShouldSync(ctx context.Context, entityID string, storeID int) (bool, error)
}

// BuilderFunc adapts a build function to EntityBuilder, with ShouldSync
// always true.
type BuilderFunc func(ctx context.Context, entityID string, storeID int) (Document, bool, error)

// BuildPayload implements EntityBuilder.
func (fn BuilderFunc) BuildPayload(ctx context.Context, entityID string, storeID int) (Document, bool, error) {
	return fn(ctx, entityID, storeID)
}

// ShouldSync implements EntityBuilder.
func (fn BuilderFunc) ShouldSync(context.Context, string, int) (bool, error) {
	return true, nil
}

// Registry maps entity types to their builders. Adding an entity type means
// registering a builder, not editing the dispatcher.
type Registry struct {
	builders map[EntityType]EntityBuilder
}

// NewRegistry creates an empty builder registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[EntityType]EntityBuilder)}
}

// Register binds a builder to an entity type, replacing any previous binding.
func (r *Registry) Register(entityType EntityType, builder EntityBuilder) {
	r.builders[entityType] = builder
}

// Lookup returns the builder for an entity type.
func (r *Registry) Lookup(entityType EntityType) (EntityBuilder, error) {
	builder, ok := r.builders[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBuilder, entityType)
	}

	return builder, nil
}

// Types returns the registered entity types in stable order.
func (r *Registry) Types() []EntityType {
	types := make([]EntityType, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

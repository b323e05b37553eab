package ragsync

import "errors"

var (
	// ErrEntityTypeRequired is returned when a key has no entity type.
	ErrEntityTypeRequired = errors.New("ragsync: entity type is required")
	// ErrEntityIDRequired is returned when a key has no entity id.
	ErrEntityIDRequired = errors.New("ragsync: entity id is required")
	// ErrInvalidAction is returned when a key's action is not save or delete.
	ErrInvalidAction = errors.New("ragsync: action must be save or delete")
	// ErrDisabled is returned by operations that require the module to be enabled.
	ErrDisabled = errors.New("ragsync: module is disabled")
	// ErrNotConfigured is returned when the webhook URL or secret is missing.
	ErrNotConfigured = errors.New("ragsync: webhook connection is not configured")
	// ErrNoBuilder is returned when no builder is registered for an entity type.
	ErrNoBuilder = errors.New("ragsync: no builder registered for entity type")
)

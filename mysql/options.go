package mysql

import "github.com/lmarcho/ragsync"

const (
	// DefaultQueueTable is the queue table name used unless overridden.
	DefaultQueueTable = "rag_sync_queue"
	// DefaultCircuitTable is the circuit breaker table name used unless overridden.
	DefaultCircuitTable = "rag_sync_circuit_breaker"
	// DefaultServiceName keys the circuit breaker row.
	DefaultServiceName = "rag_webhook"
	// DefaultMaxErrorLength caps stored error messages.
	DefaultMaxErrorLength = 2048
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithQueueTable overrides the queue table name.
func WithQueueTable(table string) StoreOption {
	return func(s *Store) {
		s.table = table
	}
}

// WithClock overrides the clock, mainly for tests.
func WithClock(clock ragsync.Clock) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithMaxErrorLength overrides how many bytes of an error message are kept.
func WithMaxErrorLength(n int) StoreOption {
	return func(s *Store) {
		s.maxErrLen = n
	}
}

// CircuitOption configures a CircuitStore.
type CircuitOption func(*CircuitStore)

// WithCircuitTable overrides the circuit breaker table name.
func WithCircuitTable(table string) CircuitOption {
	return func(c *CircuitStore) {
		c.table = table
	}
}

// WithServiceName overrides the row key for the protected service.
func WithServiceName(name string) CircuitOption {
	return func(c *CircuitStore) {
		c.service = name
	}
}

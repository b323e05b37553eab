package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lmarcho/ragsync"
)

// CircuitStore is the MySQL implementation of ragsync.CircuitStore. One
// row per service name carries the breaker state for every process.
type CircuitStore struct {
	db      *sql.DB
	table   string
	service string

	snapshot    string
	insertRow   string
	markFailure string
	markSuccess string
	tryHalfOpen string
}

var _ ragsync.CircuitStore = (*CircuitStore)(nil)

// NewCircuitStore constructs a CircuitStore over an open database handle.
func NewCircuitStore(db *sql.DB, opts ...CircuitOption) (*CircuitStore, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	c := &CircuitStore{
		db:      db,
		table:   DefaultCircuitTable,
		service: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(c)
	}

	name, err := sanitizeTableName(c.table)
	if err != nil {
		return nil, err
	}

	c.snapshot = fmt.Sprintf(`SELECT state, failure_count, last_failure_at, opened_at
FROM %s WHERE service_name = ?`, name)

	c.insertRow = fmt.Sprintf(`INSERT IGNORE INTO %s
    (service_name, state, failure_count, last_failure_at, opened_at, updated_at)
VALUES (?, 'closed', 0, NULL, NULL, ?)`, name)

	// MySQL evaluates SET clauses left to right against already assigned
	// values, so the state CASE must run before failure_count changes.
	c.markFailure = fmt.Sprintf(`UPDATE %s
SET opened_at = CASE WHEN state = 'half_open' OR failure_count + 1 >= ? THEN ? ELSE opened_at END,
    state = CASE WHEN state = 'half_open' OR failure_count + 1 >= ? THEN 'open' ELSE state END,
    failure_count = failure_count + 1,
    last_failure_at = ?,
    updated_at = ?
WHERE service_name = ?`, name)

	c.markSuccess = fmt.Sprintf(`UPDATE %s
SET state = 'closed', failure_count = 0, last_failure_at = NULL, opened_at = NULL, updated_at = ?
WHERE service_name = ?`, name)

	c.tryHalfOpen = fmt.Sprintf(`UPDATE %s
SET state = 'half_open', updated_at = ?
WHERE service_name = ? AND state = 'open'`, name)

	return c, nil
}

// EnsureSchema creates the circuit breaker table if it does not exist.
func (c *CircuitStore) EnsureSchema(ctx context.Context) error {
	ddl, err := CircuitSchema(c.table)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create circuit table: %w", err)
	}

	return nil
}

// Snapshot returns the persisted breaker row, creating a closed one on
// first use.
func (c *CircuitStore) Snapshot(ctx context.Context) (ragsync.CircuitSnapshot, error) {
	snap, err := c.read(ctx)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ragsync.CircuitSnapshot{}, err
	}

	if err := c.ensureRow(ctx, time.Now().UTC()); err != nil {
		return ragsync.CircuitSnapshot{}, err
	}

	return c.read(ctx)
}

// MarkFailure increments the failure count and opens the circuit when the
// count reaches threshold or the breaker was half-open.
func (c *CircuitStore) MarkFailure(ctx context.Context, threshold int, now time.Time) error {
	if err := c.ensureRow(ctx, now); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, c.markFailure,
		threshold, now, threshold, now, now, c.service); err != nil {
		return fmt.Errorf("mark circuit failure: %w", err)
	}

	return nil
}

// MarkSuccess closes the circuit and resets the failure count.
func (c *CircuitStore) MarkSuccess(ctx context.Context, now time.Time) error {
	if err := c.ensureRow(ctx, now); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, c.markSuccess, now, c.service); err != nil {
		return fmt.Errorf("mark circuit success: %w", err)
	}

	return nil
}

// TryHalfOpen flips open to half_open. The WHERE clause is the
// compare-and-swap: only the caller whose update hits the open row wins.
func (c *CircuitStore) TryHalfOpen(ctx context.Context, now time.Time) (bool, error) {
	res, err := c.db.ExecContext(ctx, c.tryHalfOpen, now, c.service)
	if err != nil {
		return false, fmt.Errorf("try half open: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("try half open: %w", err)
	}

	return n > 0, nil
}

func (c *CircuitStore) read(ctx context.Context) (ragsync.CircuitSnapshot, error) {
	var (
		state         string
		failureCount  int
		lastFailureAt sql.NullTime
		openedAt      sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, c.snapshot, c.service).
		Scan(&state, &failureCount, &lastFailureAt, &openedAt)
	if err != nil {
		return ragsync.CircuitSnapshot{}, err
	}

	snap := ragsync.CircuitSnapshot{
		State:        ragsync.CircuitState(state),
		FailureCount: failureCount,
	}
	if lastFailureAt.Valid {
		snap.LastFailureAt = lastFailureAt.Time
	}
	if openedAt.Valid {
		snap.OpenedAt = openedAt.Time
	}

	return snap, nil
}

func (c *CircuitStore) ensureRow(ctx context.Context, now time.Time) error {
	if _, err := c.db.ExecContext(ctx, c.insertRow, c.service, now); err != nil {
		return fmt.Errorf("init circuit row: %w", err)
	}

	return nil
}

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lmarcho/ragsync"
)

// Store is the MySQL implementation of ragsync.Store.
type Store struct {
	db        *sql.DB
	table     string
	clock     ragsync.Clock
	maxErrLen int
	q         queries
}

var _ ragsync.Store = (*Store)(nil)

// NewStore constructs a Store over an open database handle.
func NewStore(db *sql.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	s := &Store{
		db:        db,
		table:     DefaultQueueTable,
		clock:     ragsync.SystemClock{},
		maxErrLen: DefaultMaxErrorLength,
	}
	for _, opt := range opts {
		opt(s)
	}

	q, err := newQueries(s.table)
	if err != nil {
		return nil, err
	}
	s.q = q

	return s, nil
}

// EnsureSchema creates the queue table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl, err := Schema(s.table)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create queue table: %w", err)
	}

	return nil
}

// Upsert inserts or refreshes the row for the natural key and returns its id.
// An existing row is reset to pending with zero attempts regardless of its
// previous status. A delete removes any in-flight save for the same entity,
// since syncing content that is about to be removed would be wasted work.
func (s *Store) Upsert(ctx context.Context, key ragsync.Key, priority int) (int64, error) {
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if key.Action == ragsync.ActionDelete {
		if _, err := tx.ExecContext(ctx, s.q.supersedeSaves,
			string(key.EntityType), key.EntityID, key.StoreID); err != nil {
			return 0, fmt.Errorf("supersede saves: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, s.q.upsert,
		string(key.EntityType), key.EntityID, key.StoreID, string(key.Action),
		priority, now, now)
	if err != nil {
		return 0, fmt.Errorf("upsert queue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("upsert queue item id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}

	return id, nil
}

// FetchPending returns up to limit pending items in dispatch order.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]ragsync.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, s.q.fetchPending, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}

	return scanItems(rows)
}

// FetchRetryEligible returns failed items whose backoff window has elapsed.
// An item on attempt k+1 waits retryDelays[k] after its last attempt.
func (s *Store) FetchRetryEligible(ctx context.Context, retryDelays []time.Duration, limit int) ([]ragsync.QueueItem, error) {
	if limit <= 0 || len(retryDelays) == 0 {
		return nil, nil
	}

	now := s.clock.Now()
	conds := ""
	args := make([]any, 0, len(retryDelays)*2+1)
	for k, delay := range retryDelays {
		if k > 0 {
			conds += " OR "
		}
		conds += "(attempts = ? AND last_attempt_at <= ?)"
		args = append(args, k+1, now.Add(-delay))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(s.q.fetchRetryBase, conds), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch retry eligible: %w", err)
	}

	return scanItems(rows)
}

// LockForProcessing claims the given items and returns the ids actually
// claimed. Each claim is a guarded update, so an item grabbed by another
// process in the meantime is simply dropped from the result.
func (s *Store) LockForProcessing(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lock: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	locked := make([]int64, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, s.q.lockOne, now, now, id)
		if err != nil {
			return nil, fmt.Errorf("lock item %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("lock item %d: %w", id, err)
		}
		if n > 0 {
			locked = append(locked, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lock: %w", err)
	}

	return locked, nil
}

// MarkSent transitions the given items to sent.
func (s *Store) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, s.clock.Now())
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(s.q.markSent, placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	return nil
}

// MarkFailed records a failure for the given items. Items whose attempt
// count has reached maxRetries become dead, the rest become failed and
// stay eligible for retry. maxRetries zero kills the items outright.
func (s *Store) MarkFailed(ctx context.Context, ids []int64, errorMessage string, maxRetries int) error {
	if len(ids) == 0 {
		return nil
	}

	if len(errorMessage) > s.maxErrLen {
		errorMessage = errorMessage[:s.maxErrLen]
	}

	args := make([]any, 0, len(ids)+3)
	args = append(args, maxRetries, errorMessage, s.clock.Now())
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(s.q.markFailed, placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	return nil
}

// ResetStuck requeues processing items whose last attempt is older than
// the threshold, covering dispatchers that died mid-batch.
func (s *Store) ResetStuck(ctx context.Context, threshold time.Duration) (int64, error) {
	now := s.clock.Now()

	res, err := s.db.ExecContext(ctx, s.q.resetStuck, now, now.Add(-threshold))
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}

	return res.RowsAffected()
}

// CleanupOld deletes sent items older than the retention window.
func (s *Store) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.cleanupOld, s.clock.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleanup old: %w", err)
	}

	return res.RowsAffected()
}

// RequeueByStatus resets items in the given statuses back to pending
// with a fresh attempt budget.
func (s *Store) RequeueByStatus(ctx context.Context, statuses []ragsync.Status) (int64, error) {
	if len(statuses) == 0 {
		return 0, ErrNoStatuses
	}

	args := make([]any, 0, len(statuses)+1)
	args = append(args, s.clock.Now())
	for _, st := range statuses {
		args = append(args, string(st))
	}

	query := fmt.Sprintf(s.q.requeue, placeholders(len(statuses)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue by status: %w", err)
	}

	return res.RowsAffected()
}

// DeleteByStatus removes items in the given statuses.
func (s *Store) DeleteByStatus(ctx context.Context, statuses []ragsync.Status) (int64, error) {
	if len(statuses) == 0 {
		return 0, ErrNoStatuses
	}

	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}

	query := fmt.Sprintf(s.q.deleteByStatus, placeholders(len(statuses)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete by status: %w", err)
	}

	return res.RowsAffected()
}

// Statistics returns queue counts by status and by entity type.
func (s *Store) Statistics(ctx context.Context) (ragsync.Statistics, error) {
	stats := ragsync.Statistics{ByEntityType: make(map[ragsync.EntityType]int)}

	rows, err := s.db.QueryContext(ctx, s.q.statsByStatus)
	if err != nil {
		return stats, fmt.Errorf("statistics by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		switch ragsync.Status(status) {
		case ragsync.StatusPending:
			stats.Pending = count
		case ragsync.StatusProcessing:
			stats.Processing = count
		case ragsync.StatusSent:
			stats.Sent = count
		case ragsync.StatusFailed:
			stats.Failed = count
		case ragsync.StatusDead:
			stats.Dead = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("statistics by status: %w", err)
	}

	entRows, err := s.db.QueryContext(ctx, s.q.statsByEntity)
	if err != nil {
		return stats, fmt.Errorf("statistics by entity type: %w", err)
	}
	defer entRows.Close()

	for entRows.Next() {
		var entityType string
		var count int
		if err := entRows.Scan(&entityType, &count); err != nil {
			return stats, fmt.Errorf("scan entity count: %w", err)
		}
		stats.ByEntityType[ragsync.EntityType(entityType)] = count
	}
	if err := entRows.Err(); err != nil {
		return stats, fmt.Errorf("statistics by entity type: %w", err)
	}

	return stats, nil
}

// OldestPendingAge returns how long the oldest pending item has been
// waiting. The second return is false when nothing is pending.
func (s *Store) OldestPendingAge(ctx context.Context) (time.Duration, bool, error) {
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, s.q.oldestPending).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("oldest pending: %w", err)
	}

	return s.clock.Now().Sub(createdAt), true, nil
}

func scanItems(rows *sql.Rows) ([]ragsync.QueueItem, error) {
	defer rows.Close()

	var items []ragsync.QueueItem
	for rows.Next() {
		var (
			item          ragsync.QueueItem
			entityType    string
			action        string
			status        string
			lastAttemptAt sql.NullTime
			errorMessage  sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &entityType, &item.EntityID, &item.StoreID, &action,
			&item.Priority, &status, &item.Attempts, &lastAttemptAt,
			&errorMessage, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.EntityType = ragsync.EntityType(entityType)
		item.Action = ragsync.Action(action)
		item.Status = ragsync.Status(status)
		if lastAttemptAt.Valid {
			item.LastAttemptAt = lastAttemptAt.Time
		}
		item.ErrorMessage = errorMessage.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}

	return items, nil
}

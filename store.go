package ragsync

import (
	"context"
	"time"
)

// Store is the durable outbox table of queue items. All state transitions
// must be single atomic statements so that concurrent dispatcher processes
// never double-send or lose updates.
type Store interface {
	// Upsert inserts or updates the row for the natural key, resetting
	// status to pending, attempts to 0 and clearing the error, and
	// returns the surviving row id. Upserting a delete supersedes any
	// non-terminal save row for the same entity.
	Upsert(ctx context.Context, key Key, priority int) (int64, error)

	// FetchPending returns up to limit pending items ordered by
	// (priority ASC, createdAt ASC).
	FetchPending(ctx context.Context, limit int) ([]QueueItem, error)

	// FetchRetryEligible returns up to limit failed items whose backoff
	// delay for their attempt count has elapsed, same ordering as
	// FetchPending. retryDelays is indexed by attempt number: an item
	// with attempts == k+1 is eligible once now-lastAttemptAt >= retryDelays[k].
	FetchRetryEligible(ctx context.Context, retryDelays []time.Duration, limit int) ([]QueueItem, error)

	// LockForProcessing atomically moves the given ids from
	// pending/failed to processing, stamping lastAttemptAt and
	// incrementing attempts. It returns the ids actually locked; ids
	// already taken by a concurrent dispatcher are omitted.
	LockForProcessing(ctx context.Context, ids []int64) ([]int64, error)

	// MarkSent marks the given ids sent and clears their error.
	MarkSent(ctx context.Context, ids []int64) error

	// MarkFailed records errorMessage on the given ids and moves each to
	// dead when its attempts have reached maxRetries, failed otherwise.
	// maxRetries == 0 marks every id dead immediately.
	MarkFailed(ctx context.Context, ids []int64, errorMessage string, maxRetries int) error

	// ResetStuck moves processing rows whose lastAttemptAt is older than
	// the threshold back to pending and returns how many were reset.
	ResetStuck(ctx context.Context, threshold time.Duration) (int64, error)

	// CleanupOld deletes sent rows whose updatedAt is older than the
	// retention window and returns how many were deleted.
	CleanupOld(ctx context.Context, retention time.Duration) (int64, error)

	// RequeueByStatus resets rows in the given statuses to pending with
	// attempts 0 and no error, and returns how many were requeued.
	RequeueByStatus(ctx context.Context, statuses []Status) (int64, error)

	// DeleteByStatus removes rows in the given statuses and returns how
	// many were deleted.
	DeleteByStatus(ctx context.Context, statuses []Status) (int64, error)

	// Statistics returns row counts by status and entity type.
	Statistics(ctx context.Context) (Statistics, error)

	// OldestPendingAge returns the age of the oldest pending row, or
	// false when the queue has no pending rows.
	OldestPendingAge(ctx context.Context) (time.Duration, bool, error)
}

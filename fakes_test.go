package ragsync

import (
	"context"
	"sort"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory Store with the same transition semantics as the
// MySQL implementation.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*QueueItem
	clock  Clock
}

func newMemStore(clock Clock) *memStore {
	return &memStore{items: make(map[int64]*QueueItem), clock: clock}
}

func (s *memStore) get(id int64) QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.items[id]
}

func (s *memStore) Upsert(_ context.Context, key Key, priority int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if key.Action == ActionDelete {
		for id, item := range s.items {
			if item.EntityType == key.EntityType && item.EntityID == key.EntityID &&
				item.StoreID == key.StoreID && item.Action == ActionSave &&
				item.Status != StatusSent && item.Status != StatusDead {
				delete(s.items, id)
			}
		}
	}

	for _, item := range s.items {
		if item.Key() == key {
			item.Priority = priority
			item.Status = StatusPending
			item.Attempts = 0
			item.LastAttemptAt = time.Time{}
			item.ErrorMessage = ""
			item.UpdatedAt = now

			return item.ID, nil
		}
	}

	s.nextID++
	s.items[s.nextID] = &QueueItem{
		ID:         s.nextID,
		EntityType: key.EntityType,
		EntityID:   key.EntityID,
		StoreID:    key.StoreID,
		Action:     key.Action,
		Priority:   priority,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return s.nextID, nil
}

func (s *memStore) FetchPending(_ context.Context, limit int) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectSorted(limit, func(item *QueueItem) bool {
		return item.Status == StatusPending
	}), nil
}

func (s *memStore) FetchRetryEligible(_ context.Context, retryDelays []time.Duration, limit int) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	return s.selectSorted(limit, func(item *QueueItem) bool {
		if item.Status != StatusFailed {
			return false
		}
		k := item.Attempts - 1
		if k < 0 || k >= len(retryDelays) {
			return false
		}

		return now.Sub(item.LastAttemptAt) >= retryDelays[k]
	}), nil
}

func (s *memStore) selectSorted(limit int, keep func(*QueueItem) bool) []QueueItem {
	var out []QueueItem
	for _, item := range s.items {
		if keep(item) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}

		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return out
}

func (s *memStore) LockForProcessing(_ context.Context, ids []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	var locked []int64
	for _, id := range ids {
		item, ok := s.items[id]
		if !ok || (item.Status != StatusPending && item.Status != StatusFailed) {
			continue
		}
		item.Status = StatusProcessing
		item.Attempts++
		item.LastAttemptAt = now
		item.UpdatedAt = now
		locked = append(locked, id)
	}

	return locked, nil
}

func (s *memStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			item.Status = StatusSent
			item.ErrorMessage = ""
			item.UpdatedAt = now
		}
	}

	return nil
}

func (s *memStore) MarkFailed(_ context.Context, ids []int64, errorMessage string, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	for _, id := range ids {
		item, ok := s.items[id]
		if !ok {
			continue
		}
		if maxRetries == 0 || item.Attempts >= maxRetries {
			item.Status = StatusDead
		} else {
			item.Status = StatusFailed
		}
		item.ErrorMessage = errorMessage
		item.UpdatedAt = now
	}

	return nil
}

func (s *memStore) ResetStuck(_ context.Context, threshold time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	var count int64
	for _, item := range s.items {
		if item.Status == StatusProcessing && now.Sub(item.LastAttemptAt) >= threshold {
			item.Status = StatusPending
			item.UpdatedAt = now
			count++
		}
	}

	return count, nil
}

func (s *memStore) CleanupOld(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	var count int64
	for id, item := range s.items {
		if item.Status == StatusSent && now.Sub(item.UpdatedAt) >= retention {
			delete(s.items, id)
			count++
		}
	}

	return count, nil
}

func (s *memStore) RequeueByStatus(_ context.Context, statuses []Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	var count int64
	for _, item := range s.items {
		for _, status := range statuses {
			if item.Status == status {
				item.Status = StatusPending
				item.Attempts = 0
				item.ErrorMessage = ""
				item.UpdatedAt = now
				count++

				break
			}
		}
	}

	return count, nil
}

func (s *memStore) DeleteByStatus(_ context.Context, statuses []Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, item := range s.items {
		for _, status := range statuses {
			if item.Status == status {
				delete(s.items, id)
				count++

				break
			}
		}
	}

	return count, nil
}

func (s *memStore) Statistics(context.Context) (Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{ByEntityType: make(map[EntityType]int)}
	for _, item := range s.items {
		switch item.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusSent:
			stats.Sent++
		case StatusFailed:
			stats.Failed++
		case StatusDead:
			stats.Dead++
		}
		stats.Total++
		stats.ByEntityType[item.EntityType]++
	}

	return stats, nil
}

func (s *memStore) OldestPendingAge(context.Context) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest time.Time
	for _, item := range s.items {
		if item.Status != StatusPending {
			continue
		}
		if oldest.IsZero() || item.CreatedAt.Before(oldest) {
			oldest = item.CreatedAt
		}
	}
	if oldest.IsZero() {
		return 0, false, nil
	}

	return s.clock.Now().Sub(oldest), true, nil
}

// memCircuitStore is an in-memory CircuitStore.
type memCircuitStore struct {
	mu   sync.Mutex
	snap CircuitSnapshot
}

func newMemCircuitStore() *memCircuitStore {
	return &memCircuitStore{snap: CircuitSnapshot{State: CircuitClosed}}
}

func (c *memCircuitStore) Snapshot(context.Context) (CircuitSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snap, nil
}

func (c *memCircuitStore) MarkFailure(_ context.Context, threshold int, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap.State == CircuitHalfOpen || c.snap.FailureCount+1 >= threshold {
		c.snap.State = CircuitOpen
		c.snap.OpenedAt = now
	}
	c.snap.FailureCount++
	c.snap.LastFailureAt = now

	return nil
}

func (c *memCircuitStore) MarkSuccess(context.Context, time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = CircuitSnapshot{State: CircuitClosed}

	return nil
}

func (c *memCircuitStore) TryHalfOpen(context.Context, time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != CircuitOpen {
		return false, nil
	}
	c.snap.State = CircuitHalfOpen

	return true, nil
}

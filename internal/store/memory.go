package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of [Store].
//
// Jobs are keyed by ID, with new writes replacing previous values.
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is dropped
// for that subscriber to prevent blocking the entire system.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[string]Job
	subscribers map[chan Job]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]Job),
		subscribers: make(map[chan Job]struct{}),
	}
}

// Put stores job and notifies all subscribers.
func (m *MemoryStore) Put(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.notifySubscribers(job)
	return nil
}

// Get returns the job with the given id.
func (m *MemoryStore) Get(ctx context.Context, id string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// List returns a snapshot of stored jobs, newest first.
//
// The returned slice is a copy; modifications do not affect the store.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe(_ context.Context) (<-chan Job, error) {
	ch := make(chan Job, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch, nil
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Job) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close closes every open subscription.
func (m *MemoryStore) Close() error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for ch := range m.subscribers {
		delete(m.subscribers, ch)
		close(ch)
	}
	return nil
}

// notifySubscribers sends the job to all active subscribers without blocking.
func (m *MemoryStore) notifySubscribers(job Job) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- job:
		default:
			// subscriber is slow, drop the message
		}
	}
}

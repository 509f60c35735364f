package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-instance
// deployments without Redis.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append records an event. A missing ID or timestamp is filled in.
func (s *MemoryStore) Append(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Count returns the number of events matching f within r.
func (s *MemoryStore) Count(ctx context.Context, f Filter, r TimeRange) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, ev := range s.events {
		if r.Contains(ev.Timestamp) && f.Matches(ev) {
			count++
		}
	}
	return count, nil
}

// List returns events matching f within r in insertion order.
func (s *MemoryStore) List(ctx context.Context, f Filter, r TimeRange) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, ev := range s.events {
		if r.Contains(ev.Timestamp) && f.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Len returns the total number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

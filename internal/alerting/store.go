package alerting

import (
	"context"
	"sync"
	"time"
)

// Store is the backing collection for alerts. Reserve is the atomic
// primitive behind duplicate suppression: it claims a deduplication key
// for the suppression window and reports whether the claim was fresh, so
// two near-simultaneous triggers for the same key cannot both create an
// alert.
type Store interface {
	Insert(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context) ([]*Alert, error)
	Update(ctx context.Context, a *Alert) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryStore is an in-memory Store for tests and single-instance
// deployments.
type MemoryStore struct {
	mu           sync.Mutex
	alerts       map[string]*Alert
	order        []string
	reservations map[string]time.Time
}

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:       make(map[string]*Alert),
		reservations: make(map[string]time.Time),
	}
}

// Insert adds an alert.
func (s *MemoryStore) Insert(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	s.order = append(s.order, a.ID)
	return nil
}

// Get returns the alert with the given id, or nil if unknown.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// List returns all alerts in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Alert, 0, len(s.alerts))
	for _, id := range s.order {
		if a, ok := s.alerts[id]; ok {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Update replaces a stored alert. Unknown ids are ignored.
func (s *MemoryStore) Update(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		cp := *a
		s.alerts[a.ID] = &cp
	}
	return nil
}

// DeleteBefore removes alerts with a timestamp strictly before cutoff and
// returns how many were removed.
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		a, ok := s.alerts[id]
		if !ok {
			continue
		}
		if a.Timestamp.Before(cutoff) {
			delete(s.alerts, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

// Reserve claims key for ttl. Returns false when an unexpired reservation
// already exists.
func (s *MemoryStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if expiry, ok := s.reservations[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.reservations[key] = now.Add(ttl)
	return true, nil
}

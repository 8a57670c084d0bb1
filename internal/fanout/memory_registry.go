package fanout

import (
	"context"
	"sync"

	"gemwatch/internal/domain"
)

// MemoryRegistry is an in-memory SubscriberRegistry, used by tests and as
// a default when no external registry is configured.
type MemoryRegistry struct {
	mu   sync.Mutex
	subs map[string]domain.Subscriber
}

// NewMemoryRegistry builds a registry seeded with subs.
func NewMemoryRegistry(subs ...domain.Subscriber) *MemoryRegistry {
	r := &MemoryRegistry{subs: make(map[string]domain.Subscriber)}
	for _, s := range subs {
		r.subs[s.ID] = s
	}
	return r
}

// List returns every registered subscriber.
func (r *MemoryRegistry) List(ctx context.Context) ([]domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out, nil
}

// Remove deletes subscriberID from the registry.
func (r *MemoryRegistry) Remove(ctx context.Context, subscriberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, subscriberID)
	return nil
}

// Len reports the number of registered subscribers, for tests.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

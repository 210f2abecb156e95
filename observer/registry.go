// Package observer provides the concurrency-safe subscriber registry used by
// both peer roles to fan out logs, connection events and progress events.
package observer

import "sync"

// Subscriber is the minimal contract for anything stored in a Registry.
// The ID keys the registry entry: subscribing with an existing ID replaces
// the previous subscriber.
type Subscriber interface {
	ID() string
}

// Registry is a mutable set of subscribers keyed by ID. All methods are safe
// for concurrent use. Fan-out is synchronous: subscribers are expected to do
// cheap in-memory work and must not block on I/O.
type Registry[S Subscriber] struct {
	mu   sync.RWMutex
	subs map[string]S
}

// NewRegistry returns an empty registry.
func NewRegistry[S Subscriber]() *Registry[S] {
	return &Registry[S]{subs: make(map[string]S)}
}

// Subscribe inserts s, replacing any existing subscriber with the same ID.
func (r *Registry[S]) Subscribe(s S) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.ID()] = s
}

// Unsubscribe removes the subscriber with the given ID. Removing an unknown
// ID is a no-op.
func (r *Registry[S]) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Len reports the number of registered subscribers.
func (r *Registry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Each invokes fn once for every subscriber present when the call started,
// in unspecified order. The callbacks run outside the registry lock, so a
// slow subscriber delays the publisher but never blocks Subscribe or
// Unsubscribe.
func (r *Registry[S]) Each(fn func(S)) {
	r.mu.RLock()
	snapshot := make([]S, 0, len(r.subs))
	for _, s := range r.subs {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

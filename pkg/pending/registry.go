// Package pending provides a keyed slot store with TTL eviction for values
// that must be parked between two execution contexts.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// evictionInterval is how often the background evictor scans for expired
// entries. Every entry is therefore gone within TTL + evictionInterval of
// its insertion, unless taken earlier.
const evictionInterval = 10 * time.Second

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Registry is a mutex-guarded map of slot id to parked value with TTL
// eviction. A plain mutex (not a sharded or lock-free map) is required:
// the stored values are one-shot reply handles that are not safe for
// concurrent shared use.
//
// The registry is shared by reference between the event loop (inserter)
// and the client (taker).
type Registry[V any] struct {
	mu      sync.Mutex
	entries map[uint64]entry[V]
	ttl     time.Duration
	clock   clock.Clock
}

// New creates a registry with the given TTL, using the wall clock.
func New[V any](ttl time.Duration) *Registry[V] {
	return NewWithClock[V](ttl, clock.New())
}

// NewWithClock creates a registry with an explicit clock, for tests.
func NewWithClock[V any](ttl time.Duration, clk clock.Clock) *Registry[V] {
	return &Registry[V]{
		entries: make(map[uint64]entry[V]),
		ttl:     ttl,
		clock:   clk,
	}
}

// Insert parks a value under the given slot id, timestamping it.
func (r *Registry[V]) Insert(id uint64, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry[V]{value: v, createdAt: r.clock.Now()}
}

// Take removes and returns the value for the given slot id. Each slot is
// consumed by at most one Take; subsequent calls report false.
func (r *Registry[V]) Take(id uint64) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		var zero V
		return zero, false
	}
	delete(r.entries, id)
	return e.value, true
}

// Len reports the number of parked entries.
func (r *Registry[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartEvictor runs the background eviction loop until ctx is cancelled.
// onEvict, if non-nil, is called with each evicted value outside the lock.
func (r *Registry[V]) StartEvictor(ctx context.Context, onEvict func(V)) {
	go func() {
		ticker := r.clock.Ticker(evictionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, v := range r.evictExpired() {
					if onEvict != nil {
						onEvict(v)
					}
				}
			}
		}
	}()
}

func (r *Registry[V]) evictExpired() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	var evicted []V
	for id, e := range r.entries {
		if now.Sub(e.createdAt) >= r.ttl {
			evicted = append(evicted, e.value)
			delete(r.entries, id)
		}
	}
	return evicted
}

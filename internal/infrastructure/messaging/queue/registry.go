package queue

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// registry maps job ids to handlers for the durable consumer. It is bounded:
// once full, the least recently registered entry is evicted and reported
// through onEvict. Entries deleted with Remove are not reported.
type registry struct {
	cache   *lru.Cache[string, *registryEntry]
	onEvict func(jobID string)
}

type registryEntry struct {
	handler Handler
	removed atomic.Bool
}

func newRegistry(max int, onEvict func(jobID string)) *registry {
	if max <= 0 {
		max = DefaultConfig().RegistrySize
	}

	r := &registry{onEvict: onEvict}
	// NewWithEvict only fails for a non-positive size.
	r.cache, _ = lru.NewWithEvict(max, r.evicted)
	return r
}

func (r *registry) evicted(jobID string, entry *registryEntry) {
	if entry.removed.Load() || r.onEvict == nil {
		return
	}
	r.onEvict(jobID)
}

// Put registers handler under jobID.
func (r *registry) Put(jobID string, handler Handler) {
	r.cache.Add(jobID, &registryEntry{handler: handler})
}

// Get returns the handler registered under jobID without refreshing it.
func (r *registry) Get(jobID string) (Handler, bool) {
	entry, ok := r.cache.Peek(jobID)
	if !ok {
		return nil, false
	}
	return entry.handler, true
}

// Remove deletes jobID if present.
func (r *registry) Remove(jobID string) {
	if entry, ok := r.cache.Peek(jobID); ok {
		entry.removed.Store(true)
		r.cache.Remove(jobID)
	}
}

// Len returns the number of registered handlers.
func (r *registry) Len() int {
	return r.cache.Len()
}

// Package inflight tracks the live execution handle for each job key.
//
// At most one handle is registered per key. Cancellation of displaced or
// swept handles always happens after the registry lock is released, so a
// slow Cancel never blocks inserts or removals of unrelated keys.
package inflight

import (
	"sort"
	"sync"
)

// Handle is an in-flight or completed asynchronous execution.
type Handle interface {
	IsDone() bool
	Cancel(mayInterrupt bool) bool
}

// Registry is a concurrency-safe key -> Handle mapping.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]Handle
	highWater int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Handle, 100)}
}

// Swap installs h under key and returns the handle it displaced, if any.
// The displaced handle is cancelled with interruption before Swap returns.
func (r *Registry) Swap(key string, h Handle) (prev Handle, loaded bool) {
	r.mu.Lock()
	prev, loaded = r.entries[key]
	r.entries[key] = h
	if n := len(r.entries); n > r.highWater {
		r.highWater = n
	}
	r.mu.Unlock()

	if loaded && prev != h {
		prev.Cancel(true)
	}
	return prev, loaded
}

// Get returns the handle registered under key.
func (r *Registry) Get(key string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[key]
	return h, ok
}

// Remove deletes the entry for key and cancels its handle with
// interruption. It reports the removed handle, if there was one.
func (r *Registry) Remove(key string) (Handle, bool) {
	r.mu.Lock()
	h, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if ok {
		h.Cancel(true)
	}
	return h, ok
}

// Sweep removes every entry whose handle reports done. With force set,
// entries still running are removed too and cancelled with interruption.
// It returns the number of entries removed.
func (r *Registry) Sweep(force bool) int {
	var cancel []Handle

	r.mu.Lock()
	removed := 0
	for key, h := range r.entries {
		if h.IsDone() {
			delete(r.entries, key)
			removed++
			continue
		}
		if force {
			delete(r.entries, key)
			cancel = append(cancel, h)
			removed++
		}
	}
	r.mu.Unlock()

	for _, h := range cancel {
		h.Cancel(true)
	}
	return removed
}

// Len returns the current number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// HighWater returns the largest size the registry has reached.
func (r *Registry) HighWater() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.highWater
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

package registry

import "sync"

// Registry is the shared ownership structure mapping tracker-id to tracker
// handle. Map mutation (Add/Remove) must only happen on the main-loop
// goroutine between subsystem ticks; Get/Iter are safe to call from any
// goroutine holding a reference to the Registry for the duration of a
// single synchronous call, matching the "shared ownership + short borrow"
// design note in the spec.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	order    []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Add inserts a tracker if absent and returns its handle. Insertion order is
// preserved for Iter.
func (r *Registry) Add(id string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[id]; ok {
		return t
	}
	t := NewTracker(id)
	r.trackers[id] = t
	r.order = append(r.order, id)
	return t
}

// Get returns the tracker handle for id, or nil if absent.
func (r *Registry) Get(id string) *Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[id]
}

// Len reports the number of trackers currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}

// Iter returns tracker handles in insertion order. The returned slice is a
// snapshot; it is safe to range over even if Remove is called concurrently.
func (r *Registry) Iter() []*Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tracker, 0, len(r.order))
	for _, id := range r.order {
		if t, ok := r.trackers[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Remove deletes a tracker from the registry. The precondition (no
// outstanding borrow) is enforced by convention: the main loop only calls
// Remove between component ticks, per the spec's concurrency model.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.trackers, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

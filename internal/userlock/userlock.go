// Package userlock serializes billing operations per user. Deductions and
// day-stats merges for one user run strictly one at a time; operations for
// different users proceed concurrently.
package userlock

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultIdleCap bounds how many uncontended locks are kept around before
// the least recently used ones are dropped.
const DefaultIdleCap = 4096

type entry struct {
	mu   sync.Mutex
	refs int
}

// Registry is a bounded per-user lock table. Locks in use (held or waited
// on) live in an active map guarded by refcounts; released locks move to an
// LRU so a long-running process does not accumulate one mutex per user
// forever. Evicting an idle lock is safe: the next Acquire simply creates a
// fresh one, and no goroutine can be inside an evicted lock because idle
// entries have zero refs.
type Registry struct {
	mu     sync.Mutex
	active map[string]*entry
	idle   *lru.Cache[string, *entry]
}

func NewRegistry(idleCap int) *Registry {
	if idleCap <= 0 {
		idleCap = DefaultIdleCap
	}
	cache, err := lru.New[string, *entry](idleCap)
	if err != nil {
		// Only possible with a non-positive size, which is guarded above.
		panic(err)
	}
	return &Registry{
		active: make(map[string]*entry),
		idle:   cache,
	}
}

// Acquire blocks until the caller holds the lock for userID and returns the
// release function. Release must be called exactly once.
func (r *Registry) Acquire(userID string) (release func()) {
	r.mu.Lock()
	e, ok := r.active[userID]
	if !ok {
		if cached, hit := r.idle.Get(userID); hit {
			e = cached
			r.idle.Remove(userID)
		} else {
			e = &entry{}
		}
		r.active[userID] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		r.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(r.active, userID)
			r.idle.Add(userID, e)
		}
		r.mu.Unlock()
	}
}

// ActiveLen reports how many locks are currently held or waited on.
func (r *Registry) ActiveLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// IdleLen reports how many released locks are cached.
func (r *Registry) IdleLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idle.Len()
}

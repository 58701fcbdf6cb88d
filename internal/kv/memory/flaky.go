package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/tokligence/tokligence-ledger/internal/kv"
)

// Flaky decorates a kv.Store and fails the next N write operations with a
// transient error. Retry and compensation paths are exercised with it in
// tests.
type Flaky struct {
	kv.Store

	mu        sync.Mutex
	failPuts  int
	failApply int
	applies   int
}

func NewFlaky(inner kv.Store) *Flaky {
	return &Flaky{Store: inner}
}

// FailNextApplies makes the next n Apply calls return a transient error.
func (f *Flaky) FailNextApplies(n int) {
	f.mu.Lock()
	f.failApply = n
	f.mu.Unlock()
}

// FailNextPuts makes the next n Put calls return a transient error.
func (f *Flaky) FailNextPuts(n int) {
	f.mu.Lock()
	f.failPuts = n
	f.mu.Unlock()
}

// Applies reports how many Apply calls reached the store (failed or not).
func (f *Flaky) Applies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies
}

func (f *Flaky) Apply(ctx context.Context, batch *kv.Batch) error {
	f.mu.Lock()
	f.applies++
	fail := f.failApply > 0
	if fail {
		f.failApply--
	}
	f.mu.Unlock()
	if fail {
		return kv.Transient(errors.New("injected apply failure"))
	}
	return f.Store.Apply(ctx, batch)
}

func (f *Flaky) Put(ctx context.Context, key, value []byte) error {
	f.mu.Lock()
	fail := f.failPuts > 0
	if fail {
		f.failPuts--
	}
	f.mu.Unlock()
	if fail {
		return kv.Transient(errors.New("injected put failure"))
	}
	return f.Store.Put(ctx, key, value)
}

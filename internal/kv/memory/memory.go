package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/tokligence/tokligence-ledger/internal/kv"
)

// Store is an in-memory kv.Store used by tests and ephemeral runs. Keys are
// kept in a sorted slice so scans observe the same byte ordering as the disk
// backends.
type Store struct {
	mu   sync.RWMutex
	keys [][]byte
	vals map[string][]byte
}

func New() *Store {
	return &Store{vals: make(map[string][]byte)}
}

func (s *Store) Close() error { return nil }

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[string(key)]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value)
	return nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delete(key)
	return nil
}

func (s *Store) Apply(ctx context.Context, batch *kv.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return batch.Walk(func(key, value []byte, delete bool) error {
		if delete {
			s.delete(key)
		} else {
			s.put(key, value)
		}
		return nil
	})
}

func (s *Store) put(key, value []byte) {
	k := string(key)
	if _, exists := s.vals[k]; !exists {
		i := sort.Search(len(s.keys), func(i int) bool { return bytes.Compare(s.keys[i], key) >= 0 })
		s.keys = append(s.keys, nil)
		copy(s.keys[i+1:], s.keys[i:])
		s.keys[i] = append([]byte(nil), key...)
	}
	s.vals[k] = append([]byte(nil), value...)
}

func (s *Store) delete(key []byte) {
	k := string(key)
	if _, exists := s.vals[k]; !exists {
		return
	}
	delete(s.vals, k)
	i := sort.Search(len(s.keys), func(i int) bool { return bytes.Compare(s.keys[i], key) >= 0 })
	s.keys = append(s.keys[:i], s.keys[i+1:]...)
}

func (s *Store) inRange(opts kv.ScanOptions) [][]byte {
	lo := 0
	if opts.Start != nil {
		lo = sort.Search(len(s.keys), func(i int) bool { return bytes.Compare(s.keys[i], opts.Start) >= 0 })
	}
	hi := len(s.keys)
	if opts.End != nil {
		hi = sort.Search(len(s.keys), func(i int) bool { return bytes.Compare(s.keys[i], opts.End) >= 0 })
	}
	if lo > hi {
		return nil
	}
	return s.keys[lo:hi]
}

func (s *Store) Scan(ctx context.Context, opts kv.ScanOptions) ([]kv.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.inRange(opts)
	var out []kv.Pair
	skipped := 0
	visit := func(k []byte) bool {
		if skipped < opts.Offset {
			skipped++
			return true
		}
		out = append(out, kv.Pair{
			Key:   append([]byte(nil), k...),
			Value: append([]byte(nil), s.vals[string(k)]...),
		})
		return opts.Limit <= 0 || len(out) < opts.Limit
	}
	if opts.Reverse {
		for i := len(keys) - 1; i >= 0; i-- {
			if !visit(keys[i]) {
				break
			}
		}
		return out, nil
	}
	for _, k := range keys {
		if !visit(k) {
			break
		}
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, opts kv.ScanOptions) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inRange(opts)), nil
}

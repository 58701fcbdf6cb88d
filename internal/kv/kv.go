package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// TransientError marks a storage failure that is worth retrying (I/O hiccup,
// busy database, broken connection). Permanent failures are returned bare.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("kv: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable storage failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Pair is a single key/value result from a scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// ScanOptions bounds an ordered range scan. Keys in [Start, End) are visited
// in byte order (descending when Reverse is set). Offset entries are skipped
// before up to Limit entries are returned; Limit <= 0 means unbounded.
type ScanOptions struct {
	Start   []byte
	End     []byte
	Limit   int
	Offset  int
	Reverse bool
}

// Batch is an ordered set of writes applied atomically via Store.Apply.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

// Len returns the number of queued operations.
func (b *Batch) Len() int { return len(b.ops) }

// Walk visits every queued operation in insertion order. Backends use it to
// replay the batch inside their own transaction primitive.
func (b *Batch) Walk(fn func(key, value []byte, delete bool) error) error {
	for _, op := range b.ops {
		if err := fn(op.key, op.value, op.delete); err != nil {
			return err
		}
	}
	return nil
}

// Store is an ordered key-value store. All billing state lives behind this
// interface; backends must preserve byte-ordered iteration so that the
// prefix-structured key space scans efficiently.
type Store interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Apply commits every operation in the batch atomically: either all
	// writes become visible or none do.
	Apply(ctx context.Context, batch *Batch) error

	Scan(ctx context.Context, opts ScanOptions) ([]Pair, error)

	// Count returns the number of keys in [Start, End), ignoring
	// Limit/Offset/Reverse.
	Count(ctx context.Context, opts ScanOptions) (int, error)

	Close() error
}

// PrefixRange returns the [start, end) bounds covering every key that begins
// with prefix.
func PrefixRange(prefix []byte) (start, end []byte) {
	start = append([]byte(nil), prefix...)
	end = append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return start, end[:i+1]
		}
	}
	// Prefix is all 0xff bytes; scan to the end of the key space.
	return start, nil
}

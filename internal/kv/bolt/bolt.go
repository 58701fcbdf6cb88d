package bolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/tokligence/tokligence-ledger/internal/kv"
)

const bucketName = "ledger"

// Store implements kv.Store backed by a bbolt file. This is the default
// embedded engine: keys iterate in byte order and Apply maps directly onto a
// single bbolt update transaction.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the bolt database at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get(key)
		if v == nil {
			return kv.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err == kv.ErrNotFound {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, kv.Transient(err)
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(key, value)
	})
	if err != nil {
		return kv.Transient(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete(key)
	})
	if err != nil {
		return kv.Transient(err)
	}
	return nil
}

func (s *Store) Apply(ctx context.Context, batch *kv.Batch) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return batch.Walk(func(key, value []byte, delete bool) error {
			if delete {
				return b.Delete(key)
			}
			return b.Put(key, value)
		})
	})
	if err != nil {
		return kv.Transient(err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, opts kv.ScanOptions) ([]kv.Pair, error) {
	var out []kv.Pair
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		skipped := 0
		visit := func(k, v []byte) bool {
			if skipped < opts.Offset {
				skipped++
				return true
			}
			out = append(out, kv.Pair{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
			return opts.Limit <= 0 || len(out) < opts.Limit
		}
		if opts.Reverse {
			k, v := seekLast(c, opts.End)
			for ; k != nil && (opts.Start == nil || bytes.Compare(k, opts.Start) >= 0); k, v = c.Prev() {
				if !visit(k, v) {
					break
				}
			}
			return nil
		}
		k, v := c.Seek(opts.Start)
		for ; k != nil && (opts.End == nil || bytes.Compare(k, opts.End) < 0); k, v = c.Next() {
			if !visit(k, v) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, kv.Transient(err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, opts kv.ScanOptions) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, _ := c.Seek(opts.Start); k != nil && (opts.End == nil || bytes.Compare(k, opts.End) < 0); k, _ = c.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, kv.Transient(err)
	}
	return n, nil
}

// seekLast positions the cursor on the greatest key strictly below end
// (or the last key when end is nil).
func seekLast(c *bbolt.Cursor, end []byte) ([]byte, []byte) {
	if end == nil {
		return c.Last()
	}
	if k, _ := c.Seek(end); k == nil {
		return c.Last()
	}
	return c.Prev()
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/tokligence-ledger/internal/kv"
)

// Store implements kv.Store backed by SQLite. Keys live in a single table
// with a BLOB primary key, so range scans translate to `k >= ? AND k < ?`
// over the primary index and keep the byte ordering the key space relies on.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single writer; concurrency is handled above this layer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
) WITHOUT ROWID;
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, kv.Transient(err)
	}
	return v, nil
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv(k, v) VALUES(?, ?)
ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	if err != nil {
		return kv.Transient(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return kv.Transient(err)
	}
	return nil
}

func (s *Store) Apply(ctx context.Context, batch *kv.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kv.Transient(err)
	}
	err = batch.Walk(func(key, value []byte, delete bool) error {
		if delete {
			_, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO kv(k, v) VALUES(?, ?)
ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
		return err
	})
	if err != nil {
		_ = tx.Rollback()
		return kv.Transient(err)
	}
	if err := tx.Commit(); err != nil {
		return kv.Transient(err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, opts kv.ScanOptions) ([]kv.Pair, error) {
	query, args := scanQuery(`SELECT k, v FROM kv`, opts, true)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kv.Transient(err)
	}
	defer rows.Close()

	var out []kv.Pair
	for rows.Next() {
		var p kv.Pair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, kv.Transient(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, kv.Transient(err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, opts kv.ScanOptions) (int, error) {
	query, args := scanQuery(`SELECT COUNT(*) FROM kv`, opts, false)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, kv.Transient(err)
	}
	return n, nil
}

func scanQuery(head string, opts kv.ScanOptions, paged bool) (string, []any) {
	query := head
	var args []any
	clause := " WHERE"
	if opts.Start != nil {
		query += clause + " k >= ?"
		args = append(args, opts.Start)
		clause = " AND"
	}
	if opts.End != nil {
		query += clause + " k < ?"
		args = append(args, opts.End)
	}
	if !paged {
		return query, args
	}
	if opts.Reverse {
		query += " ORDER BY k DESC"
	} else {
		query += " ORDER BY k ASC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit, required before OFFSET
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)
	return query, args
}

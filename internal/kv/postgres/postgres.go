package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/tokligence-ledger/internal/kv"
)

// Store implements kv.Store backed by PostgreSQL. Intended for deployments
// that already run Postgres; the ledger still assumes a single writer
// process, Postgres only provides durability and operational tooling.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed store using the provided DSN and connection
// pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
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
	k BYTEA PRIMARY KEY,
	v BYTEA NOT NULL
)`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = $1`, key).Scan(&v)
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
INSERT INTO kv(k, v) VALUES($1, $2)
ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`, key, value)
	if err != nil {
		return kv.Transient(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = $1`, key); err != nil {
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
			_, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE k = $1`, key)
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO kv(k, v) VALUES($1, $2)
ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`, key, value)
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
		args = append(args, opts.Start)
		query += fmt.Sprintf("%s k >= $%d", clause, len(args))
		clause = " AND"
	}
	if opts.End != nil {
		args = append(args, opts.End)
		query += fmt.Sprintf("%s k < $%d", clause, len(args))
	}
	if !paged {
		return query, args
	}
	if opts.Reverse {
		query += " ORDER BY k DESC"
	} else {
		query += " ORDER BY k ASC"
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

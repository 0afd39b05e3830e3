package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements KV using PostgreSQL as the source of truth.
// Keys and values are stored as BYTEA; bytea ordering is bytewise, which
// matches the range semantics contracts rely on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the kv_entries table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS kv_entries (
		     key   BYTEA PRIMARY KEY,
		     value BYTEA NOT NULL
		 )`)
	if err != nil {
		return fmt.Errorf("ensure kv schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key %x: %w: %w", key, ErrUnavailable, err)
	}
	return value, nil
}

func (s *PostgresStore) Scan(ctx context.Context, start, end []byte, order Order) ([]Pair, error) {
	dir := "ASC"
	if order == Descending {
		dir = "DESC"
	}

	var (
		rows pgx.Rows
		err  error
	)
	if end == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT key, value FROM kv_entries
			 WHERE key >= $1
			 ORDER BY key `+dir, start)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT key, value FROM kv_entries
			 WHERE key >= $1 AND key < $2
			 ORDER BY key `+dir, start, end)
	}
	if err != nil {
		return nil, fmt.Errorf("scan kv: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("scan kv row: %w: %w", ErrUnavailable, err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan kv: %w: %w", ErrUnavailable, err)
	}
	return pairs, nil
}

// Apply writes the batch inside one database transaction.
func (s *PostgresStore) Apply(ctx context.Context, writes []Write) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin kv tx: %w: %w", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	for _, w := range writes {
		if w.Delete {
			if _, err := tx.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, w.Key); err != nil {
				return fmt.Errorf("delete key %x: %w: %w", w.Key, ErrUnavailable, err)
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO kv_entries (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			w.Key, w.Value); err != nil {
			return fmt.Errorf("put key %x: %w: %w", w.Key, ErrUnavailable, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit kv tx: %w: %w", ErrUnavailable, err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// The durable cache tier backs the in-memory cache across restarts. It is
// pure optimization: callers must treat every error as a cache miss, never
// as a source-of-truth failure.

// ErrCacheMiss is returned by CacheGet when the key has no durable entry.
var ErrCacheMiss = errors.New("store: cache miss")

// CachePut writes a cache entry to the durable tier.
func (s *Store) CachePut(ctx context.Context, key, value string, storedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		  value = excluded.value, stored_at = excluded.stored_at`,
		key, value, storedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: cache put %q: %w", key, err)
	}

	return nil
}

// CacheGet reads a cache entry from the durable tier.
func (s *Store) CacheGet(ctx context.Context, key string) (string, time.Time, error) {
	var (
		value    string
		storedAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT value, stored_at FROM cache_entries WHERE key = ?`, key).
		Scan(&value, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrCacheMiss
	}

	if err != nil {
		return "", time.Time{}, fmt.Errorf("store: cache get %q: %w", key, err)
	}

	return value, time.Unix(0, storedAt), nil
}

// CacheDelete removes a single durable cache entry.
func (s *Store) CacheDelete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: cache delete %q: %w", key, err)
	}

	return nil
}

// CacheFlush removes all durable cache entries.
func (s *Store) CacheFlush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("store: cache flush: %w", err)
	}

	return nil
}

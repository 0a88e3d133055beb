// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// URLStore remembers the library URL each extension id was loaded from.
type URLStore interface {
	KnownURL(ctx context.Context, id string) (string, bool, error)
	SaveURL(ctx context.Context, id, url string) error
	DeleteURL(ctx context.Context, id string) error
	ListURLs(ctx context.Context) (map[string]string, error)
}

var (
	_ URLStore = (*PostgresURLStore)(nil)
	_ URLStore = (*MemoryURLStore)(nil)
)

// PostgresURLStore implements URLStore using PostgreSQL.
type PostgresURLStore struct {
	pool poolIface
}

// NewPostgresURLStore creates a new PostgreSQL URL store.
func NewPostgresURLStore(pool poolIface) *PostgresURLStore {
	return &PostgresURLStore{pool: pool}
}

// KnownURL returns the URL remembered for id.
func (s *PostgresURLStore) KnownURL(ctx context.Context, id string) (string, bool, error) {
	var url string
	err := s.pool.QueryRow(ctx,
		`SELECT url FROM extension_urls WHERE extension_id = $1`, id).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapPgError(err, "get extension url").With("extension", id).Wrap(err)
	}
	return url, true, nil
}

// SaveURL creates or updates the URL remembered for id.
func (s *PostgresURLStore) SaveURL(ctx context.Context, id, url string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO extension_urls (extension_id, url, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (extension_id) DO UPDATE SET url = $2, updated_at = now()`,
		id, url)
	if err != nil {
		return wrapPgError(err, "save extension url").
			With("extension", id).
			With("url", url).
			Wrap(err)
	}
	return nil
}

// DeleteURL forgets id.
func (s *PostgresURLStore) DeleteURL(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM extension_urls WHERE extension_id = $1`, id)
	if err != nil {
		return wrapPgError(err, "delete extension url").With("extension", id).Wrap(err)
	}
	return nil
}

// ListURLs returns every remembered id and URL.
func (s *PostgresURLStore) ListURLs(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT extension_id, url FROM extension_urls`)
	if err != nil {
		return nil, wrapPgError(err, "list extension urls").Wrap(err)
	}
	defer rows.Close()

	urls := make(map[string]string)
	for rows.Next() {
		var id, url string
		if err := rows.Scan(&id, &url); err != nil {
			return nil, oops.With("operation", "scan extension url row").Wrap(err)
		}
		urls[id] = url
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate extension urls").Wrap(err)
	}
	return urls, nil
}

// wrapPgError tags a missing schema so operators know to run migrations.
func wrapPgError(err error, operation string) oops.OopsErrorBuilder {
	b := oops.With("operation", operation)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return b.Code("SCHEMA_MISSING").Hint("run `blockhost migrate up`")
	}
	return b
}

// MemoryURLStore implements URLStore in memory. It is used when no
// database is configured.
type MemoryURLStore struct {
	mu   sync.RWMutex
	urls map[string]string
}

// NewMemoryURLStore creates an empty in-memory URL store.
func NewMemoryURLStore() *MemoryURLStore {
	return &MemoryURLStore{urls: make(map[string]string)}
}

// KnownURL returns the URL remembered for id.
func (s *MemoryURLStore) KnownURL(_ context.Context, id string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	url, ok := s.urls[id]
	return url, ok, nil
}

// SaveURL remembers url for id.
func (s *MemoryURLStore) SaveURL(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[id] = url
	return nil
}

// DeleteURL forgets id.
func (s *MemoryURLStore) DeleteURL(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.urls, id)
	return nil
}

// ListURLs returns a copy of every remembered id and URL.
func (s *MemoryURLStore) ListURLs(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.urls))
	for id, url := range s.urls {
		out[id] = url
	}
	return out, nil
}

// SortedIDs returns the ids of urls in order.
func SortedIDs(urls map[string]string) []string {
	ids := make([]string, 0, len(urls))
	for id := range urls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

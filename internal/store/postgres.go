// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package store persists host state that outlives a process: the table of
// known extension URLs and its schema migrations.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// poolIface is the subset of *pgxpool.Pool the repositories use. pgxmock
// pools satisfy it in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OpenPool connects to PostgreSQL and verifies the connection.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

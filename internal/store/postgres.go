// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// poolIface is the subset of *pgxpool.Pool the store uses, so tests can
// substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres is a KVStore backed by the plugin_kv table. The schema is managed
// by the embedded migrations (see Migrator).
type Postgres struct {
	pool poolIface
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool poolIface) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres connects to dsn, retrying the initial ping with exponential
// backoff for up to 30 seconds, then applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("store").Code(CodeStorageFailed).Wrapf(err, "create connection pool")
	}

	backoff := retry.WithMaxDuration(30*time.Second, retry.NewExponential(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.In("store").Code(CodeStorageFailed).Wrapf(err, "connect to postgres")
	}

	m, err := NewMigrator(dsn)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer func() { _ = m.Close() }()
	if err := m.Up(); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// Get implements KVStore.
func (p *Postgres) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := validateAccess(namespace, key); err != nil {
		return nil, err
	}
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM plugin_kv WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get", namespace, key)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Set implements KVStore.
func (p *Postgres) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateAccess(namespace, key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO plugin_kv (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key) DO UPDATE SET value = $3, updated_at = now()`,
		namespace, key, value)
	if err != nil {
		return classify(err, "set", namespace, key)
	}
	return nil
}

// Delete implements KVStore.
func (p *Postgres) Delete(ctx context.Context, namespace, key string) error {
	if err := validateAccess(namespace, key); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM plugin_kv WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return classify(err, "delete", namespace, key)
	}
	return nil
}

// Ping checks connectivity; used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Backend.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func classify(err error, op, namespace, key string) error {
	b := oops.In("store").Code(CodeStorageFailed).
		With("operation", op).
		With("namespace", namespace).
		With("key", key)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		b = b.With("sqlstate", pgErr.Code)
		if pgErr.Code == pgerrcode.UndefinedTable {
			b = b.Hint("run migrations: widgethost serve applies them on startup")
		}
	}
	return b.Wrap(err)
}

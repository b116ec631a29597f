package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB

	mu       sync.Mutex
	migrated bool
}

// NewDB creates a Postgres connection with sane defaults and applies the schema.
// When the server is unreachable the returned DB is still usable; the schema is
// applied later by EnsureSchema.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	d := &DB{Client: db}
	if err := db.PingContext(ctx); err != nil {
		return d, err
	}
	return d, d.EnsureSchema(ctx)
}

// EnsureSchema applies the schema once. Failed attempts are retried on the next call.
func (d *DB) EnsureSchema(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.migrated {
		return nil
	}
	if err := Migrate(ctx, d.Client); err != nil {
		return err
	}
	d.migrated = true
	return nil
}

// KeepMigrating retries EnsureSchema every interval until it succeeds or ctx ends.
// onErr, if set, sees each failed attempt.
func (d *DB) KeepMigrating(ctx context.Context, interval time.Duration, onErr func(error)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		err := d.EnsureSchema(ctx)
		if err == nil {
			return nil
		}
		if onErr != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

const schema = `CREATE TABLE IF NOT EXISTS certificates (
	id TEXT PRIMARY KEY,
	student_name TEXT NOT NULL,
	course_name TEXT NOT NULL,
	issue_date TEXT NOT NULL,
	university_wallet TEXT NOT NULL DEFAULT '',
	university_name TEXT NOT NULL DEFAULT '',
	certificate_hash TEXT NOT NULL,
	transaction_hash TEXT NOT NULL DEFAULT '',
	document_url TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate creates the certificates table when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Healthy verifies database connectivity and applies the schema if it is still missing.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	if d.Client.PingContext(ctx) != nil {
		return false
	}
	return d.EnsureSchema(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

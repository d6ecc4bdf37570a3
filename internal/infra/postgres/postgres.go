// Package postgres is the direct-SQL Access Store, for deployments that
// reach the customers database without PostgREST.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id                 TEXT PRIMARY KEY,
	email              TEXT NOT NULL UNIQUE,
	access_key         TEXT NOT NULL UNIQUE,
	product            TEXT NOT NULL DEFAULT 'free',
	shop_name          TEXT,
	data_consent       BOOLEAN,
	consent_updated_at TIMESTAMPTZ,
	signup_date        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_login         TIMESTAMPTZ,
	usage_count        INTEGER NOT NULL DEFAULT 0,
	usage_reset_date   TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS customer_products (
	customer_id  TEXT NOT NULL REFERENCES customers(id),
	product      TEXT NOT NULL,
	purchased_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (customer_id, product)
);`

// Connection wraps the pool.
type Connection struct {
	*sql.DB
}

// NewConnection opens and pings the database.
func NewConnection(ctx context.Context, dsn string) (*Connection, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Connection{DB: db}, nil
}

// Migrate creates the Access Store tables when missing.
func (c *Connection) Migrate(ctx context.Context) error {
	_, err := c.ExecContext(ctx, schema)
	return err
}

// RunInTransaction commits when fn succeeds and rolls back otherwise.
func (c *Connection) RunInTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

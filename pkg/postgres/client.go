// Package postgres wraps a lib/pq connection pool for the statistics store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
)

type Client struct {
	DB *sql.DB
}

// New opens the pool and verifies it with a ping bounded by ctx.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// IsPermanent reports whether err is a server answer that retrying cannot
// change: bad credentials, a missing database or insufficient privilege.
func IsPermanent(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "28", "3D", "42":
		return true
	}
	return false
}

// InTx runs fn inside a transaction. The transaction is rolled back when fn
// fails and the rollback error, if any, is joined to fn's.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, ignoreDone(tx.Rollback()))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

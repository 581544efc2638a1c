// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package postgres implements the relational storage backend over pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/luminauth/luminauth/internal/config"
	"github.com/luminauth/luminauth/internal/database"
)

const connectAttempts = 5

// Connector manages a pgx connection pool. It holds exactly one live handle;
// Connect must not be called twice without an intervening Disconnect.
type Connector struct {
	dsn string
	db  DB
}

// NewConnector builds a Connector from the postgres configuration keys.
func NewConnector(cfg *config.Config) *Connector {
	return &Connector{dsn: DSNFromConfig(cfg)}
}

// DSNFromConfig assembles the connection string from the postgres
// configuration keys. Shared with the migration command.
func DSNFromConfig(cfg *config.Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.String(config.KeyPostgresUser),
		cfg.String(config.KeyPostgresPassword),
		cfg.String(config.KeyPostgresHost),
		cfg.Int(config.KeyPostgresPort),
		cfg.String(config.KeyPostgresName),
	)
}

// NewConnectorDSN builds a Connector from a raw connection string.
func NewConnectorDSN(dsn string) *Connector {
	return &Connector{dsn: dsn}
}

// NewConnectorHandle wraps an already-established database handle. Tests use
// it to substitute a mock pool.
func NewConnectorHandle(db DB) *Connector {
	return &Connector{db: db}
}

// Connect establishes the pool and verifies it with a ping, retrying with
// fibonacci backoff while the database comes up.
func (c *Connector) Connect(ctx context.Context) error {
	backoff := retry.WithMaxRetries(connectAttempts, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		pool, err := pgxpool.New(ctx, c.dsn)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return retry.RetryableError(err)
		}
		c.db = pool
		return nil
	})
	if err != nil {
		return database.WrapConnectivity("postgres", err)
	}
	return nil
}

// Disconnect closes the pool.
func (c *Connector) Disconnect(_ context.Context) error {
	if pool, ok := c.db.(*pgxpool.Pool); ok {
		pool.Close()
	}
	c.db = nil
	return nil
}

// ObtainInterface returns the live query handle.
func (c *Connector) ObtainInterface() (DB, error) {
	if c.db == nil {
		return nil, oops.Code("DB_NOT_CONNECTED").
			Errorf("postgres connector is not connected")
	}
	return c.db, nil
}

// RunQuery executes fn against the live handle, folding every failure into
// the uniform connectivity error kind.
func (c *Connector) RunQuery(ctx context.Context, fn func(ctx context.Context, db DB) error) error {
	db, err := c.ObtainInterface()
	if err != nil {
		return database.WrapConnectivity("postgres", err)
	}
	if err := fn(ctx, db); err != nil {
		return database.Fold("postgres", err)
	}
	return nil
}

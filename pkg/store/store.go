// Package store implements the relational store external interface
// (spec.md §4.7): transactional sessions, natural-key upserts, and
// simple scan/filter reads, backed directly by pgx/v5's connection
// pool rather than a generated ORM client.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config mirrors tarsy's database.Config shape minus the ent/migrate
// fields this module does not use.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func (c Config) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client wraps a pgx connection pool and exposes the content-row
// operations the platform tools need.
type Client struct {
	pool *pgxpool.Pool
}

// Pool returns the underlying pool for callers that need a raw
// transactional session (spec.md §4.7 "transactional sessions").
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// NewClient opens a pool, pings it, and ensures the content table
// exists, in the style of tarsy's NewClient (connect, ping, migrate).
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("store: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	client := &Client{pool: pool}
	if err := client.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return client, nil
}

// NewClientFromPool wraps an existing pool, useful for tests that
// already hold one (for example a testcontainers-backed pool).
func NewClientFromPool(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ingested_content (
	id                  BIGSERIAL PRIMARY KEY,
	platform            TEXT NOT NULL,
	platform_content_id TEXT NOT NULL,
	topic_id            TEXT,
	author              TEXT,
	body                TEXT NOT NULL DEFAULT '',
	url                 TEXT,
	fetched_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	metadata            JSONB NOT NULL DEFAULT '{}'::jsonb,
	UNIQUE (platform, platform_content_id)
);
CREATE INDEX IF NOT EXISTS ingested_content_topic_idx ON ingested_content (topic_id);
`

// ensureSchema runs a plain idempotent DDL statement rather than
// versioned migrations: there is no generated ent schema in this
// module to drive golang-migrate off of (see DESIGN.md "Dropped
// teacher dependencies").
func (c *Client) ensureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL connection lifecycle and the embedded
// identity schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Defaults for PoolConfig fields left zero.
const (
	DefaultMaxConns       int32         = 10
	DefaultConnectRetries uint64        = 5
	DefaultRetryBase      time.Duration = 200 * time.Millisecond
	DefaultRetryCap       time.Duration = 5 * time.Second
)

// PoolConfig configures Open.
type PoolConfig struct {
	URL            string
	MaxConns       int32
	ConnectRetries uint64
	RetryBase      time.Duration
	RetryCap       time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = DefaultConnectRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = DefaultRetryCap
	}
	return c
}

func (c PoolConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.RetryBase)
	b = retry.WithCappedDuration(c.RetryCap, b)
	return retry.WithMaxRetries(c.ConnectRetries, b)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Open creates a pgx pool and pings it with exponential backoff until the
// database answers or the retries run out. The caller owns the pool.
func Open(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForDatabase(ctx, pool, cfg.backoff(), logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns)
	return pool, nil
}

func waitForDatabase(ctx context.Context, db pinger, backoff retry.Backoff, logger *slog.Logger) error {
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			logger.Warn("database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memory"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/ratelimit"
	"github.com/holomush/authd/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory opens the credential store.
	// Default: openStore (postgres pool or in-memory store)
	StoreFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (IdentityStore, func(), error)

	// LimiterFactory builds the attempt limiter.
	// Default: openLimiter (Redis when configured, otherwise a no-op)
	LimiterFactory func(cfg *config.Config) (Limiter, func() error, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// OnReady is called with the bound API address once requests are served.
	OnReady func(addr string)
}

// IdentityStore is a credential store with a readiness probe and an
// expired-secret sweep.
type IdentityStore interface {
	auth.CredentialStore
	auth.SecretSweeper
	Ping(ctx context.Context) error
}

// Limiter is an attempt limiter with a readiness probe.
type Limiter interface {
	auth.AttemptLimiter
	Ping(ctx context.Context) error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreFactory == nil {
		out.StoreFactory = openStore
	}
	if out.LimiterFactory == nil {
		out.LimiterFactory = openLimiter
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (IdentityStore, func(), error) {
	if cfg.Store.Driver == config.StoreMemory {
		logger.Warn("using in-memory credential store; identities are lost on exit")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := store.Open(ctx, store.PoolConfig{
		URL:            cfg.Store.URL,
		MaxConns:       cfg.Store.MaxConns,
		ConnectRetries: cfg.Store.ConnectRetries,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewIdentityStore(pool), pool.Close, nil
}

// noopLimiter allows everything and is always ready.
type noopLimiter struct {
	auth.NoopLimiter
}

func (noopLimiter) Ping(context.Context) error { return nil }

func openLimiter(cfg *config.Config) (Limiter, func() error, error) {
	if cfg.RateLimit.RedisAddr == "" {
		return noopLimiter{}, func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
	limiter := ratelimit.New(rdb, ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		MaxAttempts: cfg.RateLimit.MaxAttempts,
	})
	return limiter, rdb.Close, nil
}

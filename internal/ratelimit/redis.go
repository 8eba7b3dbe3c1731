// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package ratelimit implements auth.AttemptLimiter with Redis fixed windows.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultWindow      = 15 * time.Minute
	DefaultMaxAttempts = 10
	DefaultKeyPrefix   = "authd:attempts"
)

// Config sets the window and per-operation budgets.
type Config struct {
	Window      time.Duration
	MaxAttempts int
	// PerOperation overrides MaxAttempts for named operations.
	PerOperation map[string]int
	KeyPrefix    string
}

// incrScript increments a counter and arms its expiry in one round trip.
// A counter found without a TTL is re-armed, so a key can never outlive
// its window indefinitely.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Limiter counts attempts per (operation, email) in a fixed window. The
// counter is created by the first attempt and expires with the window.
type Limiter struct {
	rdb redis.UniversalClient
	cfg Config
}

// New creates a Limiter over rdb.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Limiter{rdb: rdb, cfg: cfg}
}

// Allow implements auth.AttemptLimiter.
func (l *Limiter) Allow(ctx context.Context, operation, email string) error {
	key := l.key(operation, email)

	count, err := incrScript.Run(ctx, l.rdb, []string{key}, l.cfg.Window.Milliseconds()).Int64()
	if err != nil {
		return oops.Code("RATE_LIMIT_UNAVAILABLE").With("operation", operation).Wrap(err)
	}

	if limit := l.limit(operation); count > int64(limit) {
		return oops.Code("RATE_LIMIT_EXCEEDED").
			With("operation", operation).
			With("limit", limit).
			With("window", l.cfg.Window.String()).
			Wrap(auth.ErrRateLimited)
	}
	return nil
}

// Reset clears the counter for one operation and email.
func (l *Limiter) Reset(ctx context.Context, operation, email string) error {
	if err := l.rdb.Del(ctx, l.key(operation, email)).Err(); err != nil {
		return oops.Code("RATE_LIMIT_UNAVAILABLE").With("operation", operation).Wrap(err)
	}
	return nil
}

// Ping checks Redis for readiness probes.
func (l *Limiter) Ping(ctx context.Context) error {
	if err := l.rdb.Ping(ctx).Err(); err != nil {
		return oops.Code("RATE_LIMIT_UNAVAILABLE").With("operation", "ping").Wrap(err)
	}
	return nil
}

func (l *Limiter) limit(operation string) int {
	if n, ok := l.cfg.PerOperation[operation]; ok && n > 0 {
		return n
	}
	return l.cfg.MaxAttempts
}

// key hashes the email so Redis never holds addresses in the clear.
func (l *Limiter) key(operation, email string) string {
	return l.cfg.KeyPrefix + ":" + operation + ":" + auth.HashSecret(email)
}

var _ auth.AttemptLimiter = (*Limiter)(nil)

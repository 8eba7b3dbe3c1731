// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Credential is a signed bearer credential issued on login.
type Credential struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionIssuer issues bearer credentials for authenticated identities.
// Verifying them on later requests is the caller's concern.
type SessionIssuer interface {
	Issue(ctx context.Context, identityID ulid.ULID) (Credential, error)
}

// Notifier delivers recovery codes over a side channel such as email.
type Notifier interface {
	SendRecoveryCode(ctx context.Context, email, code string, expiresAt time.Time) error
}

// DiscardNotifier drops every code. It is the default when no delivery
// channel is configured; development deployments read the code from the
// forgot-password response instead.
type DiscardNotifier struct{}

// SendRecoveryCode does nothing.
func (DiscardNotifier) SendRecoveryCode(context.Context, string, string, time.Time) error {
	return nil
}

// Limited operations.
const (
	OpLogin          = "login"
	OpForgotPassword = "forgot_password"
	OpVerifyOTP      = "verify_otp"
)

// AttemptLimiter throttles repeated attempts of one operation against one
// email. Allow returns an error wrapping ErrRateLimited once the budget is
// spent; any other error means the limiter itself failed.
type AttemptLimiter interface {
	Allow(ctx context.Context, operation, email string) error
}

// NoopLimiter allows everything.
type NoopLimiter struct{}

// Allow always succeeds.
func (NoopLimiter) Allow(context.Context, string, string) error { return nil }

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify provides auth.Notifier implementations.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/holomush/authd/internal/auth"
)

// LogNotifier records that a recovery code was issued. It never logs the
// code itself; it stands in where no delivery channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendRecoveryCode implements auth.Notifier.
func (n *LogNotifier) SendRecoveryCode(ctx context.Context, email, _ string, expiresAt time.Time) error {
	n.logger.InfoContext(ctx, "recovery code ready for delivery",
		"email", email,
		"expires_at", expiresAt)
	return nil
}

// FailureCounter is incremented for each failed delivery.
type FailureCounter interface {
	RecordNotifierFailure()
}

// Counting wraps a Notifier and counts its failures. Errors still propagate.
type Counting struct {
	next    auth.Notifier
	counter FailureCounter
}

// NewCounting wraps next.
func NewCounting(next auth.Notifier, counter FailureCounter) *Counting {
	return &Counting{next: next, counter: counter}
}

// SendRecoveryCode implements auth.Notifier.
func (c *Counting) SendRecoveryCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	err := c.next.SendRecoveryCode(ctx, email, code, expiresAt)
	if err != nil && c.counter != nil {
		c.counter.RecordNotifierFailure()
	}
	return err //nolint:wrapcheck // decorator passes the delegate's error through
}

var (
	_ auth.Notifier = (*LogNotifier)(nil)
	_ auth.Notifier = (*Counting)(nil)
)

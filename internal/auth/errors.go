// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// ErrNotFound is returned by a CredentialStore when no identity matches.
var ErrNotFound = errors.New("not found")

// Outward error kinds. Service methods wrap one of these so callers can
// classify failures with errors.Is or KindOf.
var (
	ErrValidationFailed      = errors.New("validation failed")
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrInvalidOrExpiredOTP   = errors.New("invalid or expired code")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	ErrPasswordMismatch      = errors.New("passwords do not match")
	ErrRateLimited           = errors.New("too many attempts")
)

// Kind is the outward classification of a service error.
type Kind string

// Error kinds, in the order the transport maps them.
const (
	KindValidationFailed      Kind = "VALIDATION_FAILED"
	KindDuplicateEmail        Kind = "DUPLICATE_EMAIL"
	KindUserNotFound          Kind = "USER_NOT_FOUND"
	KindInvalidCredentials    Kind = "INVALID_CREDENTIALS"
	KindInvalidOrExpiredOTP   Kind = "INVALID_OR_EXPIRED_OTP"
	KindInvalidOrExpiredToken Kind = "INVALID_OR_EXPIRED_TOKEN"
	KindPasswordMismatch      Kind = "PASSWORD_MISMATCH"
	KindRateLimited           Kind = "RATE_LIMITED"
	KindServiceUnavailable    Kind = "SERVICE_UNAVAILABLE"
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindValidationFailed, ErrValidationFailed},
	{KindDuplicateEmail, ErrDuplicateEmail},
	{KindUserNotFound, ErrUserNotFound},
	{KindInvalidCredentials, ErrInvalidCredentials},
	{KindInvalidOrExpiredOTP, ErrInvalidOrExpiredOTP},
	{KindInvalidOrExpiredToken, ErrInvalidOrExpiredToken},
	{KindPasswordMismatch, ErrPasswordMismatch},
	{KindRateLimited, ErrRateLimited},
}

// KindOf classifies err. Store, hasher and generator faults, and anything
// else not wrapping a known sentinel, are KindServiceUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindServiceUnavailable
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field details for ErrValidationFailed.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidationFailed.Error()
	}
	return ErrValidationFailed.Error() + ": " + e.Fields[0].Field + ": " + e.Fields[0].Message
}

// Unwrap lets errors.Is match ErrValidationFailed.
func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

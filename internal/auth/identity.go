// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Field limits for registration input.
const (
	MaxNameLength     = 50
	MinPasswordLength = 4
)

// Identity is the stored login and recovery state of one user.
//
// At most one of the recovery code and the recovery token is pending at a
// time: issuing a code clears the token, and redeeming the code clears the
// code while setting the token. Both are stored as SHA-256 hex digests.
type Identity struct {
	ID           ulid.ULID
	Name         string
	Email        string
	PasswordHash string

	RecoveryCodeHash       string
	RecoveryCodeExpiresAt  *time.Time
	RecoveryTokenHash      string
	RecoveryTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewIdentity creates an Identity with a fresh ID. The email is normalized.
func NewIdentity(name, email, passwordHash string) (*Identity, error) {
	if passwordHash == "" {
		return nil, oops.Code("IDENTITY_INVALID").Errorf("password hash cannot be empty")
	}
	now := time.Now()
	return &Identity{
		ID:           ulid.Make(),
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// RecoveryState reports which stage of the recovery flow the identity is in.
type RecoveryState int

// Recovery states.
const (
	RecoveryIdle RecoveryState = iota
	RecoveryCodeIssued
	RecoveryTokenIssued
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryCodeIssued:
		return "code_issued"
	case RecoveryTokenIssued:
		return "token_issued"
	default:
		return "idle"
	}
}

// RecoveryState derives the recovery stage from the stored fields.
// Expired secrets still count; expiry is enforced at lookup.
func (i *Identity) RecoveryState() RecoveryState {
	switch {
	case i.RecoveryTokenHash != "":
		return RecoveryTokenIssued
	case i.RecoveryCodeHash != "":
		return RecoveryCodeIssued
	default:
		return RecoveryIdle
	}
}

// IssueCode moves the identity to RecoveryCodeIssued, discarding any
// pending code or token.
func (i *Identity) IssueCode(codeHash string, expiresAt time.Time) {
	i.RecoveryCodeHash = codeHash
	i.RecoveryCodeExpiresAt = &expiresAt
	i.clearToken()
}

// IssueToken consumes the pending code and moves to RecoveryTokenIssued.
func (i *Identity) IssueToken(tokenHash string, expiresAt time.Time) {
	i.clearCode()
	i.RecoveryTokenHash = tokenHash
	i.RecoveryTokenExpiresAt = &expiresAt
}

// CompleteReset sets the new password hash and returns to RecoveryIdle.
func (i *Identity) CompleteReset(passwordHash string) {
	i.PasswordHash = passwordHash
	i.clearCode()
	i.clearToken()
}

func (i *Identity) clearCode() {
	i.RecoveryCodeHash = ""
	i.RecoveryCodeExpiresAt = nil
}

func (i *Identity) clearToken() {
	i.RecoveryTokenHash = ""
	i.RecoveryTokenExpiresAt = nil
}

// PublicIdentity is the outward view of an Identity. It never carries the
// password hash or recovery secrets.
type PublicIdentity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Public strips credentials from the identity.
func (i *Identity) Public() PublicIdentity {
	return PublicIdentity{
		ID:        i.ID.String(),
		Name:      i.Name,
		Email:     i.Email,
		CreatedAt: i.CreatedAt,
	}
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// Every lookup and write goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateRegistration checks registration input.
func ValidateRegistration(name, email, password string) error {
	var fields []FieldError
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		fields = append(fields, FieldError{Field: "name", Message: "Name is required"})
	case utf8.RuneCountInString(name) > MaxNameLength:
		fields = append(fields, FieldError{Field: "name", Message: "Name must be at most 50 characters"})
	}
	fields = append(fields, validateEmail(email)...)
	switch {
	case password == "":
		fields = append(fields, FieldError{Field: "password", Message: "Password is required"})
	case utf8.RuneCountInString(password) < MinPasswordLength:
		fields = append(fields, FieldError{Field: "password", Message: "Password must be at least 4 characters"})
	}
	return validationResult(fields)
}

// ValidateLogin checks login input.
func ValidateLogin(email, password string) error {
	fields := validateEmail(email)
	if password == "" {
		fields = append(fields, FieldError{Field: "password", Message: "Password is required"})
	}
	return validationResult(fields)
}

func validateEmail(email string) []FieldError {
	email = strings.TrimSpace(email)
	if email == "" {
		return []FieldError{{Field: "email", Message: "Email is required"}}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return []FieldError{{Field: "email", Message: "Please provide a valid email address"}}
	}
	return nil
}

func validationResult(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return oops.Code(string(KindValidationFailed)).
		With("fields", len(fields)).
		Wrap(&ValidationError{Fields: fields})
}

// CredentialStore persists identities.
//
// Find methods return an error wrapping ErrNotFound when nothing matches.
// The secret lookups match only while the secret's expiry is after now.
type CredentialStore interface {
	// FindByEmail returns the identity registered under the normalized email.
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// FindByEmailAndCode returns the identity whose pending code digest matches.
	FindByEmailAndCode(ctx context.Context, email, codeHash string, now time.Time) (*Identity, error)

	// FindByEmailAndToken returns the identity whose pending token digest matches.
	FindByEmailAndToken(ctx context.Context, email, tokenHash string, now time.Time) (*Identity, error)

	// Create inserts a new identity. Returns an error wrapping
	// ErrDuplicateEmail if the email is already registered.
	Create(ctx context.Context, identity *Identity) error

	// Save atomically persists every mutable field of the identity,
	// including cleared recovery fields.
	Save(ctx context.Context, identity *Identity) error

	// UpdatePasswordHash swaps the password hash only while the stored hash
	// still equals oldHash. Recovery fields are untouched. Returns an error
	// wrapping ErrNotFound when the identity is gone or its hash changed.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, updatedAt time.Time) error
}

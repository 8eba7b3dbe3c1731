// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-memory auth.CredentialStore for tests and
// single-process development runs.
package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Store keeps identities in a map keyed by normalized email.
// Reads and writes copy records so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	byEmail map[string]auth.Identity
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byEmail: make(map[string]auth.Identity)}
}

// FindByEmail implements auth.CredentialStore.
func (s *Store) FindByEmail(_ context.Context, email string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byEmail[email]
	if !ok {
		return nil, notFound(email)
	}
	return clone(rec), nil
}

// FindByEmailAndCode implements auth.CredentialStore.
func (s *Store) FindByEmailAndCode(_ context.Context, email, codeHash string, now time.Time) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byEmail[email]
	if !ok || !pending(rec.RecoveryCodeHash, codeHash, rec.RecoveryCodeExpiresAt, now) {
		return nil, notFound(email)
	}
	return clone(rec), nil
}

// FindByEmailAndToken implements auth.CredentialStore.
func (s *Store) FindByEmailAndToken(_ context.Context, email, tokenHash string, now time.Time) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byEmail[email]
	if !ok || !pending(rec.RecoveryTokenHash, tokenHash, rec.RecoveryTokenExpiresAt, now) {
		return nil, notFound(email)
	}
	return clone(rec), nil
}

// Create implements auth.CredentialStore.
func (s *Store) Create(_ context.Context, identity *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[identity.Email]; exists {
		return oops.Code("IDENTITY_DUPLICATE_EMAIL").
			With("email", identity.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	s.byEmail[identity.Email] = *clone(*identity)
	return nil
}

// Save implements auth.CredentialStore.
func (s *Store) Save(_ context.Context, identity *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[identity.Email]; !exists {
		return notFound(identity.Email)
	}
	s.byEmail[identity.Email] = *clone(*identity)
	return nil
}

// UpdatePasswordHash implements auth.CredentialStore.
func (s *Store) UpdatePasswordHash(_ context.Context, id ulid.ULID, oldHash, newHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for email, rec := range s.byEmail {
		if rec.ID != id {
			continue
		}
		if rec.PasswordHash != oldHash {
			break
		}
		rec.PasswordHash = newHash
		rec.UpdatedAt = updatedAt
		s.byEmail[email] = rec
		return nil
	}
	return oops.Code("IDENTITY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
}

// SweepExpiredSecrets implements auth.SecretSweeper.
func (s *Store) SweepExpiredSecrets(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	for email, rec := range s.byEmail {
		changed := false
		if rec.RecoveryCodeExpiresAt != nil && !rec.RecoveryCodeExpiresAt.After(now) {
			rec.RecoveryCodeHash, rec.RecoveryCodeExpiresAt = "", nil
			changed = true
		}
		if rec.RecoveryTokenExpiresAt != nil && !rec.RecoveryTokenExpiresAt.After(now) {
			rec.RecoveryTokenHash, rec.RecoveryTokenExpiresAt = "", nil
			changed = true
		}
		if changed {
			s.byEmail[email] = rec
			touched++
		}
	}
	return touched, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Len returns the number of stored identities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEmail)
}

// Get returns a copy of the raw stored record, recovery digests included.
func (s *Store) Get(email string) (auth.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byEmail[email]
	if !ok {
		return auth.Identity{}, false
	}
	return *clone(rec), true
}

func pending(stored, candidate string, expiresAt *time.Time, now time.Time) bool {
	if stored == "" || candidate == "" || expiresAt == nil || !expiresAt.After(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

func notFound(email string) error {
	return oops.Code("IDENTITY_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
}

func clone(rec auth.Identity) *auth.Identity {
	out := rec
	if rec.RecoveryCodeExpiresAt != nil {
		t := *rec.RecoveryCodeExpiresAt
		out.RecoveryCodeExpiresAt = &t
	}
	if rec.RecoveryTokenExpiresAt != nil {
		t := *rec.RecoveryTokenExpiresAt
		out.RecoveryTokenExpiresAt = &t
	}
	return &out
}

var (
	_ auth.CredentialStore = (*Store)(nil)
	_ auth.SecretSweeper   = (*Store)(nil)
)

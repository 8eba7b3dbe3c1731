// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements auth.CredentialStore on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// DB is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const identityColumns = `id, name, email, password_hash,
	       recovery_code_hash, recovery_code_expires_at,
	       recovery_token_hash, recovery_token_expires_at,
	       created_at, updated_at`

// IdentityStore implements auth.CredentialStore.
type IdentityStore struct {
	db DB
}

// NewIdentityStore creates an IdentityStore over db.
func NewIdentityStore(db DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// Ping checks connectivity for readiness probes.
func (s *IdentityStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return oops.Code("IDENTITY_STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// FindByEmail implements auth.CredentialStore.
func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE email = $1
	`, email)

	return s.scanOne(row, "FindByEmail", email)
}

// FindByEmailAndCode implements auth.CredentialStore.
func (s *IdentityStore) FindByEmailAndCode(ctx context.Context, email, codeHash string, now time.Time) (*auth.Identity, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE email = $1
		  AND recovery_code_hash = $2
		  AND recovery_code_expires_at > $3
	`, email, codeHash, now)

	return s.scanOne(row, "FindByEmailAndCode", email)
}

// FindByEmailAndToken implements auth.CredentialStore.
func (s *IdentityStore) FindByEmailAndToken(ctx context.Context, email, tokenHash string, now time.Time) (*auth.Identity, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE email = $1
		  AND recovery_token_hash = $2
		  AND recovery_token_expires_at > $3
	`, email, tokenHash, now)

	return s.scanOne(row, "FindByEmailAndToken", email)
}

// Create implements auth.CredentialStore.
func (s *IdentityStore) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO identities (
			id, name, email, password_hash,
			recovery_code_hash, recovery_code_expires_at,
			recovery_token_hash, recovery_token_expires_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		identity.ID.String(),
		identity.Name,
		identity.Email,
		identity.PasswordHash,
		nullable(identity.RecoveryCodeHash),
		identity.RecoveryCodeExpiresAt,
		nullable(identity.RecoveryTokenHash),
		identity.RecoveryTokenExpiresAt,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("IDENTITY_DUPLICATE_EMAIL").
				With("email", identity.Email).
				With("constraint", pgErr.ConstraintName).
				Wrap(auth.ErrDuplicateEmail)
		}
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("email", identity.Email).
			Wrap(err)
	}
	return nil
}

// Save implements auth.CredentialStore. Every mutable column is written by
// one UPDATE, so concurrent saves of the same identity resolve to one of
// the writers' full state.
func (s *IdentityStore) Save(ctx context.Context, identity *auth.Identity) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE identities SET
			name = $2,
			password_hash = $3,
			recovery_code_hash = $4,
			recovery_code_expires_at = $5,
			recovery_token_hash = $6,
			recovery_token_expires_at = $7,
			updated_at = $8
		WHERE id = $1
	`,
		identity.ID.String(),
		identity.Name,
		identity.PasswordHash,
		nullable(identity.RecoveryCodeHash),
		identity.RecoveryCodeExpiresAt,
		nullable(identity.RecoveryTokenHash),
		identity.RecoveryTokenExpiresAt,
		identity.UpdatedAt,
	)
	if err != nil {
		return oops.Code("IDENTITY_SAVE_FAILED").
			With("operation", "update identity").
			With("id", identity.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("id", identity.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePasswordHash implements auth.CredentialStore.
func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, updatedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE identities SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2
	`, id.String(), oldHash, newHash, updatedAt)
	if err != nil {
		return oops.Code("IDENTITY_SAVE_FAILED").
			With("operation", "update password hash").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SweepExpiredSecrets implements auth.SecretSweeper. The WHERE clause
// matches identities_recovery_expiry_idx.
func (s *IdentityStore) SweepExpiredSecrets(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE identities SET
			recovery_code_hash = CASE WHEN recovery_code_expires_at <= $1 THEN NULL ELSE recovery_code_hash END,
			recovery_code_expires_at = CASE WHEN recovery_code_expires_at <= $1 THEN NULL ELSE recovery_code_expires_at END,
			recovery_token_hash = CASE WHEN recovery_token_expires_at <= $1 THEN NULL ELSE recovery_token_hash END,
			recovery_token_expires_at = CASE WHEN recovery_token_expires_at <= $1 THEN NULL ELSE recovery_token_expires_at END
		WHERE (recovery_code_hash IS NOT NULL OR recovery_token_hash IS NOT NULL)
		  AND LEAST(recovery_code_expires_at, recovery_token_expires_at) <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("IDENTITY_SWEEP_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (s *IdentityStore) scanOne(row pgx.Row, operation, email string) (*auth.Identity, error) {
	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").
			With("operation", operation).
			With("email", email).
			Wrap(err)
	}
	return identity, nil
}

func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		identity  auth.Identity
		idStr     string
		codeHash  *string
		tokenHash *string
	)
	if err := row.Scan(
		&idStr,
		&identity.Name,
		&identity.Email,
		&identity.PasswordHash,
		&codeHash,
		&identity.RecoveryCodeExpiresAt,
		&tokenHash,
		&identity.RecoveryTokenExpiresAt,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt identity id %q: %w", idStr, err)
	}
	identity.ID = id
	if codeHash != nil {
		identity.RecoveryCodeHash = *codeHash
	}
	if tokenHash != nil {
		identity.RecoveryTokenHash = *tokenHash
	}
	return &identity, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ auth.CredentialStore = (*IdentityStore)(nil)
	_ auth.SecretSweeper   = (*IdentityStore)(nil)
)

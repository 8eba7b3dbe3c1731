// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session issues and parses signed bearer credentials.
package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// MinSecretLength is the shortest accepted HMAC secret, in bytes.
const MinSecretLength = 32

// Config configures a JWTIssuer.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
}

// Claims are the JWT claims carried by a bearer credential. The subject is
// the identity ID.
type Claims struct {
	jwt.RegisteredClaims
}

// IdentityID parses the subject claim.
func (c *Claims) IdentityID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("SESSION_INVALID_SUBJECT").Wrap(err)
	}
	return id, nil
}

// JWTIssuer signs HS256 JWTs.
type JWTIssuer struct {
	cfg Config
	now func() time.Time
}

// NewJWTIssuer validates cfg and creates an issuer.
func NewJWTIssuer(cfg Config) (*JWTIssuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, oops.Code("SESSION_INVALID_CONFIG").
			With("min_length", MinSecretLength).
			Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TTL <= 0 {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("session TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("session leeway must be between 0 and 2m")
	}
	return &JWTIssuer{cfg: cfg, now: time.Now}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (j *JWTIssuer) WithClock(now func() time.Time) *JWTIssuer {
	cp := *j
	cp.now = now
	return &cp
}

// Issue implements auth.SessionIssuer.
func (j *JWTIssuer) Issue(_ context.Context, identityID ulid.ULID) (auth.Credential, error) {
	if identityID.Compare(ulid.ULID{}) == 0 {
		return auth.Credential{}, oops.Code("SESSION_INVALID_SUBJECT").Errorf("identity ID cannot be zero")
	}

	now := j.now()
	expiresAt := now.Add(j.cfg.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID.String(),
			Issuer:    j.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        ulid.Make().String(),
		},
	}
	if j.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.cfg.Secret)
	if err != nil {
		return auth.Credential{}, oops.Code("SESSION_SIGN_FAILED").Wrap(err)
	}

	return auth.Credential{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	}, nil
}

// Parse verifies the signature and time claims of token.
func (j *JWTIssuer) Parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(j.now),
	}
	if j.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.cfg.Issuer))
	}
	if j.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(j.cfg.Audience))
	}
	if j.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(j.cfg.Leeway))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_TOKEN").Wrap(err)
	}
	return claims, nil
}

var _ auth.SessionIssuer = (*JWTIssuer)(nil)

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default recovery secret lifetimes.
const (
	DefaultCodeTTL  = 10 * time.Minute
	DefaultTokenTTL = 30 * time.Minute
)

// fallbackDummyHash stands in when the hasher cannot produce a dummy hash.
// It matches no password.
//
//nolint:gosec // G101: not a credential
const fallbackDummyHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

var tracer = otel.Tracer("github.com/holomush/authd/internal/auth")

// Service implements registration, login and the password recovery flow.
type Service struct {
	store     CredentialStore
	hasher    PasswordHasher
	issuer    SessionIssuer
	generator SecretGenerator
	notifier  Notifier
	limiter   AttemptLimiter
	logger    *slog.Logger
	now       func() time.Time
	codeTTL   time.Duration
	tokenTTL  time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithGenerator overrides the crypto/rand secret generator.
func WithGenerator(g SecretGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.generator = g
		}
	}
}

// WithNotifier sets the recovery code delivery channel.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLimiter sets the attempt limiter.
func WithLimiter(l AttemptLimiter) Option {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTTLs overrides the code and token lifetimes. Non-positive values keep
// the defaults.
func WithTTLs(code, token time.Duration) Option {
	return func(s *Service) {
		if code > 0 {
			s.codeTTL = code
		}
		if token > 0 {
			s.tokenTTL = token
		}
	}
}

// NewService creates a Service. The store, hasher and issuer are required.
func NewService(store CredentialStore, hasher PasswordHasher, issuer SessionIssuer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("credential store is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if issuer == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session issuer is required")
	}

	s := &Service{
		store:     store,
		hasher:    hasher,
		issuer:    issuer,
		generator: NewRandomGenerator(),
		notifier:  DiscardNotifier{},
		limiter:   NoopLimiter{},
		logger:    slog.Default(),
		now:       time.Now,
		codeTTL:   DefaultCodeTTL,
		tokenTTL:  DefaultTokenTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Credential Credential     `json:"credential"`
	Identity   PublicIdentity `json:"identity"`
}

// RecoveryTicket is returned by ForgotPassword. Code is the plaintext
// one-time code; the transport decides whether to expose it.
type RecoveryTicket struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// ResetGrant is returned by VerifyOTP.
type ResetGrant struct {
	Token     string
	ExpiresAt time.Time
	ValidFor  time.Duration
}

// Register creates a new identity.
func (s *Service) Register(ctx context.Context, name, email, password string) (_ PublicIdentity, err error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	if err := ValidateRegistration(name, email, password); err != nil {
		return PublicIdentity{}, err
	}
	email = NormalizeEmail(email)

	_, err = s.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return PublicIdentity{}, duplicateEmail(email)
	case !errors.Is(err, ErrNotFound):
		return PublicIdentity{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "FindByEmail").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return PublicIdentity{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "Hash").
			Wrap(err)
	}

	identity, err := NewIdentity(name, email, hash)
	if err != nil {
		return PublicIdentity{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "NewIdentity").
			Wrap(err)
	}
	now := s.now()
	identity.CreatedAt, identity.UpdatedAt = now, now

	if err := s.store.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return PublicIdentity{}, duplicateEmail(email)
		}
		return PublicIdentity{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "Create").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "identity registered", "identity_id", identity.ID.String())
	return identity.Public(), nil
}

// Login verifies an email and password and issues a bearer credential.
// An unknown email and a wrong password fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (_ LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	if err := ValidateLogin(email, password); err != nil {
		return LoginResult{}, err
	}
	email = NormalizeEmail(email)

	if err := s.allow(ctx, OpLogin, email); err != nil {
		return LoginResult{}, err
	}

	identity, lookupErr := s.store.FindByEmail(ctx, email)
	var targetHash string
	switch {
	case lookupErr == nil:
		targetHash = identity.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = s.dummy(ctx)
	default:
		return LoginResult{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "FindByEmail").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && identity != nil {
		return LoginResult{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "Verify").
			Wrap(verifyErr)
	}
	if identity == nil || !valid {
		return LoginResult{}, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(identity.PasswordHash) {
		s.upgradeHash(ctx, identity, password)
	}

	cred, err := s.issuer.Issue(ctx, identity.ID)
	if err != nil {
		return LoginResult{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "Issue").
			Wrap(err)
	}

	s.resetAttempts(ctx, OpLogin, email)
	return LoginResult{Credential: cred, Identity: identity.Public()}, nil
}

func (s *Service) upgradeHash(ctx context.Context, identity *Identity, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort hash upgrade failed",
			"operation", "rehash", "identity_id", identity.ID.String(), "error", err)
		return
	}
	err = s.store.UpdatePasswordHash(ctx, identity.ID, identity.PasswordHash, newHash, s.now())
	switch {
	case err == nil:
		identity.PasswordHash = newHash
	case errors.Is(err, ErrNotFound):
		s.logger.DebugContext(ctx, "hash upgrade skipped, password changed since login read it",
			"identity_id", identity.ID.String())
	default:
		s.logger.WarnContext(ctx, "best-effort hash upgrade failed",
			"operation", "update_password_hash", "identity_id", identity.ID.String(), "error", err)
	}
}

// dummy returns a hash made with the configured hasher, so verifying an
// unknown email costs the same as verifying a wrong password.
func (s *Service) dummy(ctx context.Context) string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(rand.Text())
		if err != nil {
			s.logger.WarnContext(ctx, "dummy hash generation failed", "error", err)
			h = fallbackDummyHash
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// ForgotPassword issues a fresh one-time code for email. Any pending code
// or reset token for the identity is discarded.
func (s *Service) ForgotPassword(ctx context.Context, email string) (_ RecoveryTicket, err error) {
	ctx, span := tracer.Start(ctx, "auth.ForgotPassword")
	defer func() { endSpan(span, err) }()

	if fields := validateEmail(email); len(fields) > 0 {
		return RecoveryTicket{}, validationResult(fields)
	}
	email = NormalizeEmail(email)

	if err := s.allow(ctx, OpForgotPassword, email); err != nil {
		return RecoveryTicket{}, err
	}

	identity, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RecoveryTicket{}, oops.Code(string(KindUserNotFound)).
				With("email", email).
				Wrap(ErrUserNotFound)
		}
		return RecoveryTicket{}, oops.Code("AUTH_FORGOT_PASSWORD_FAILED").
			With("operation", "FindByEmail").
			Wrap(err)
	}

	code, err := s.generator.GenerateCode()
	if err != nil {
		return RecoveryTicket{}, oops.Code("AUTH_FORGOT_PASSWORD_FAILED").
			With("operation", "GenerateCode").
			Wrap(err)
	}

	now := s.now()
	expiresAt := now.Add(s.codeTTL)
	previous := identity.RecoveryState()
	identity.IssueCode(HashSecret(code), expiresAt)
	identity.UpdatedAt = now

	if err := s.store.Save(ctx, identity); err != nil {
		return RecoveryTicket{}, oops.Code("AUTH_FORGOT_PASSWORD_FAILED").
			With("operation", "Save").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "recovery code issued",
		"identity_id", identity.ID.String(),
		"previous_state", previous.String(),
		"expires_at", expiresAt)

	if err := s.notifier.SendRecoveryCode(ctx, email, code, expiresAt); err != nil {
		s.logger.WarnContext(ctx, "best-effort recovery code delivery failed",
			"operation", "notify", "identity_id", identity.ID.String(), "error", err)
	}

	return RecoveryTicket{Email: email, Code: code, ExpiresAt: expiresAt}, nil
}

// VerifyOTP exchanges a valid, unexpired code for a reset token. The code
// is consumed.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (_ ResetGrant, err error) {
	ctx, span := tracer.Start(ctx, "auth.VerifyOTP")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" || code == "" {
		return ResetGrant{}, invalidOTP(email)
	}

	if err := s.allow(ctx, OpVerifyOTP, email); err != nil {
		return ResetGrant{}, err
	}

	now := s.now()
	identity, err := s.store.FindByEmailAndCode(ctx, email, HashSecret(code), now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ResetGrant{}, invalidOTP(email)
		}
		return ResetGrant{}, oops.Code("AUTH_VERIFY_OTP_FAILED").
			With("operation", "FindByEmailAndCode").
			Wrap(err)
	}

	token, err := s.generator.GenerateToken()
	if err != nil {
		return ResetGrant{}, oops.Code("AUTH_VERIFY_OTP_FAILED").
			With("operation", "GenerateToken").
			Wrap(err)
	}

	expiresAt := now.Add(s.tokenTTL)
	identity.IssueToken(HashSecret(token), expiresAt)
	identity.UpdatedAt = now

	if err := s.store.Save(ctx, identity); err != nil {
		return ResetGrant{}, oops.Code("AUTH_VERIFY_OTP_FAILED").
			With("operation", "Save").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "recovery code verified", "identity_id", identity.ID.String())
	return ResetGrant{Token: token, ExpiresAt: expiresAt, ValidFor: s.tokenTTL}, nil
}

// ResetPassword redeems a reset token and sets a new password. The token is
// consumed.
func (s *Service) ResetPassword(ctx context.Context, email, token, newPassword, confirmPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.ResetPassword")
	defer func() { endSpan(span, err) }()

	if newPassword != confirmPassword {
		return oops.Code(string(KindPasswordMismatch)).Wrap(ErrPasswordMismatch)
	}
	if len([]rune(newPassword)) < MinPasswordLength {
		return validationResult([]FieldError{{
			Field:   "new_password",
			Message: "Password must be at least 4 characters",
		}})
	}

	email = NormalizeEmail(email)
	if email == "" || token == "" {
		return invalidToken(email)
	}

	now := s.now()
	identity, err := s.store.FindByEmailAndToken(ctx, email, HashSecret(token), now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidToken(email)
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "FindByEmailAndToken").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "Hash").
			Wrap(err)
	}

	identity.CompleteReset(hash)
	identity.UpdatedAt = now

	if err := s.store.Save(ctx, identity); err != nil {
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "Save").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset", "identity_id", identity.ID.String())
	return nil
}

// allow consults the limiter. A failing limiter does not block the request.
func (s *Service) allow(ctx context.Context, op, email string) error {
	err := s.limiter.Allow(ctx, op, email)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) {
		return oops.Code(string(KindRateLimited)).
			With("operation", op).
			Wrap(ErrRateLimited)
	}
	s.logger.WarnContext(ctx, "best-effort attempt limiting unavailable", "operation", op, "error", err)
	return nil
}

// attemptResetter is implemented by limiters that can clear a budget early.
type attemptResetter interface {
	Reset(ctx context.Context, operation, email string) error
}

func (s *Service) resetAttempts(ctx context.Context, op, email string) {
	r, ok := s.limiter.(attemptResetter)
	if !ok {
		return
	}
	if err := r.Reset(ctx, op, email); err != nil {
		s.logger.WarnContext(ctx, "attempt budget reset failed", "operation", op, "error", err)
	}
}

func duplicateEmail(email string) error {
	return oops.Code(string(KindDuplicateEmail)).With("email", email).Wrap(ErrDuplicateEmail)
}

func invalidCredentials() error {
	return oops.Code(string(KindInvalidCredentials)).Wrap(ErrInvalidCredentials)
}

func invalidOTP(email string) error {
	return oops.Code(string(KindInvalidOrExpiredOTP)).With("email", email).Wrap(ErrInvalidOrExpiredOTP)
}

func invalidToken(email string) error {
	return oops.Code(string(KindInvalidOrExpiredToken)).With("email", email).Wrap(ErrInvalidOrExpiredToken)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_kind", string(KindOf(err))))
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

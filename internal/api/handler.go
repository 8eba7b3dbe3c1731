// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package api binds the auth service to HTTP under /api/auth.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/session"
	"github.com/holomush/authd/pkg/errutil"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes int64 = 64 << 10

// Operation labels used for metrics and logs.
const (
	opRegister       = "register"
	opLogin          = "login"
	opForgotPassword = "forgot_password"
	opVerifyOTP      = "verify_otp"
	opResetPassword  = "reset_password"
	opSession        = "session"
)

// AuthService is the subset of *auth.Service the handler calls.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (auth.PublicIdentity, error)
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) (auth.RecoveryTicket, error)
	VerifyOTP(ctx context.Context, email, code string) (auth.ResetGrant, error)
	ResetPassword(ctx context.Context, email, token, newPassword, confirmPassword string) error
}

// TokenVerifier parses bearer credentials issued on login.
type TokenVerifier interface {
	Parse(token string) (*session.Claims, error)
}

// Handler serves the auth endpoints.
type Handler struct {
	svc          AuthService
	verifier     TokenVerifier
	logger       *slog.Logger
	metrics      *observability.Metrics
	exposeCode   bool
	development  bool
	maxBodyBytes int64
}

// HandlerOption configures optional Handler behavior.
type HandlerOption func(*Handler)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records per-operation outcomes.
func WithMetrics(m *observability.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithExposeCode includes the plaintext recovery code in forgot-password
// responses.
func WithExposeCode(expose bool) HandlerOption {
	return func(h *Handler) { h.exposeCode = expose }
}

// WithDevelopment includes internal error text in 503 responses.
func WithDevelopment(dev bool) HandlerOption {
	return func(h *Handler) { h.development = dev }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithTokenVerifier enables GET /api/auth/session.
func WithTokenVerifier(v TokenVerifier) HandlerOption {
	return func(h *Handler) { h.verifier = v }
}

// NewHandler creates a Handler. The service is required.
func NewHandler(svc AuthService, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("API_INVALID_CONFIG").Errorf("auth service is required")
	}
	h := &Handler{
		svc:          svc,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if _, err := compiledSchemas(); err != nil {
		return nil, err
	}
	return h, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signup", h.handleRegister)
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("POST /api/auth/verify-otp", h.handleVerifyOTP)
	mux.HandleFunc("POST /api/auth/reset-password", h.handleResetPassword)
	if h.verifier != nil {
		mux.HandleFunc("GET /api/auth/session", h.handleSession)
	}
}

type loginResponse struct {
	Token     string              `json:"token"`
	TokenType string              `json:"token_type"`
	ExpiresAt time.Time           `json:"expires_at"`
	Identity  auth.PublicIdentity `json:"identity"`
}

type forgotPasswordResponse struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

type verifyOTPResponse struct {
	ResetToken      string    `json:"reset_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	ValidForSeconds int64     `json:"valid_for_seconds"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	IdentityID string    `json:"identity_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req signupRequest
	if err := h.decode(w, r, "signup", &req); err != nil {
		h.fail(w, r, opRegister, start, err)
		return
	}
	identity, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.fail(w, r, opRegister, start, err)
		return
	}
	h.observe(opRegister, nil, start)
	writeData(w, http.StatusCreated, identity)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req loginRequest
	if err := h.decode(w, r, "login", &req); err != nil {
		h.fail(w, r, opLogin, start, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, opLogin, start, err)
		return
	}
	h.observe(opLogin, nil, start)
	writeData(w, http.StatusOK, loginResponse{
		Token:     res.Credential.Token,
		TokenType: res.Credential.TokenType,
		ExpiresAt: res.Credential.ExpiresAt,
		Identity:  res.Identity,
	})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req forgotPasswordRequest
	if err := h.decode(w, r, "forgot-password", &req); err != nil {
		h.fail(w, r, opForgotPassword, start, err)
		return
	}
	ticket, err := h.svc.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		h.fail(w, r, opForgotPassword, start, err)
		return
	}
	h.observe(opForgotPassword, nil, start)

	resp := forgotPasswordResponse{Email: ticket.Email, ExpiresAt: ticket.ExpiresAt}
	if h.exposeCode {
		resp.Code = ticket.Code
	}
	writeData(w, http.StatusOK, resp)
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req verifyOTPRequest
	if err := h.decode(w, r, "verify-otp", &req); err != nil {
		h.fail(w, r, opVerifyOTP, start, err)
		return
	}
	grant, err := h.svc.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		h.fail(w, r, opVerifyOTP, start, err)
		return
	}
	h.observe(opVerifyOTP, nil, start)
	writeData(w, http.StatusOK, verifyOTPResponse{
		ResetToken:      grant.Token,
		ExpiresAt:       grant.ExpiresAt,
		ValidForSeconds: int64(grant.ValidFor / time.Second),
	})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req resetPasswordRequest
	if err := h.decode(w, r, "reset-password", &req); err != nil {
		h.fail(w, r, opResetPassword, start, err)
		return
	}
	err := h.svc.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		h.fail(w, r, opResetPassword, start, err)
		return
	}
	h.observe(opResetPassword, nil, start)
	writeData(w, http.StatusOK, messageResponse{Message: "Password has been reset"})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, apiError{Code: "INVALID_SESSION", Message: "Missing bearer token"})
		return
	}
	claims, err := h.verifier.Parse(token)
	if err != nil {
		h.logger.DebugContext(r.Context(), "session rejected", "operation", opSession, "error", err)
		writeError(w, http.StatusUnauthorized, apiError{Code: "INVALID_SESSION", Message: "Invalid or expired session"})
		return
	}
	id, err := claims.IdentityID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, apiError{Code: "INVALID_SESSION", Message: "Invalid or expired session"})
		return
	}
	resp := sessionResponse{IdentityID: id.String()}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeData(w, http.StatusOK, resp)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// decode reads the body, checks its shape against the named schema and
// unmarshals it into dst.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return validationFailed([]auth.FieldError{{Field: "body", Message: "Request body is too large"}})
		}
		return oops.Code("API_READ_FAILED").Wrap(err)
	}

	instance, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return validationFailed([]auth.FieldError{{Field: "body", Message: "Request body must be valid JSON"}})
	}
	fields, err := validateShape(schema, instance)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return validationFailed(fields)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return oops.Code("API_DECODE_FAILED").With("schema", schema).Wrap(err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, start time.Time, err error) {
	status, body := errorBody(err, h.development)
	if status >= http.StatusInternalServerError {
		errutil.LogError(h.logger.With("operation", op), "auth request failed", err)
	} else {
		h.logger.DebugContext(r.Context(), "auth request rejected",
			"operation", op,
			"kind", body.Code,
			"status", status)
	}
	h.observe(op, err, start)
	writeError(w, status, body)
}

func (h *Handler) observe(op string, err error, start time.Time) {
	outcome := observability.OutcomeOK
	if err != nil {
		outcome = strings.ToLower(string(auth.KindOf(err)))
	}
	h.metrics.ObserveOperation(op, outcome, time.Since(start))
}

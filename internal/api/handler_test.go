// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/authd/internal/api"
	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memory"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/session"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details []auth.FieldError `json:"details"`
	} `json:"error"`
}

type fixture struct {
	mux     *http.ServeMux
	issuer  *session.JWTIssuer
	metrics *observability.Metrics
}

func newFixture(t *testing.T, opts ...api.HandlerOption) *fixture {
	t.Helper()
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32,
	})
	require.NoError(t, err)
	issuer, err := session.NewJWTIssuer(session.Config{
		Secret: []byte(strings.Repeat("k", session.MinSecretLength)),
		Issuer: "authd-test",
		TTL:    time.Hour,
	})
	require.NoError(t, err)
	svc, err := auth.NewService(memory.NewStore(), hasher, issuer,
		auth.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	base := []api.HandlerOption{
		api.WithLogger(slog.New(slog.DiscardHandler)),
		api.WithMetrics(metrics),
		api.WithTokenVerifier(issuer),
	}
	h, err := api.NewHandler(svc, append(base, opts...)...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{mux: mux, issuer: issuer, metrics: metrics}
}

func serve(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (f *fixture) post(t *testing.T, path, body string) (int, envelope) {
	t.Helper()
	return serve(t, f.mux, http.MethodPost, path, body)
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHandler_RecoveryFlow(t *testing.T) {
	f := newFixture(t, api.WithExposeCode(true))

	status, env := f.post(t, "/api/auth/signup", `{"name":"Ann","email":"Ann@X.com ","password":"pw1234"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, env.Success)
	identity := decodeData[auth.PublicIdentity](t, env)
	assert.Equal(t, "ann@x.com", identity.Email)
	assert.NotContains(t, string(env.Data), "password")

	status, env = f.post(t, "/api/auth/login", `{"email":"ann@x.com","password":"pw1234"}`)
	require.Equal(t, http.StatusOK, status)
	login := decodeData[struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}](t, env)
	assert.Equal(t, "Bearer", login.TokenType)

	claims, err := f.issuer.Parse(login.Token)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, claims.Subject)

	status, env = f.post(t, "/api/auth/forgot-password", `{"email":"ann@x.com"}`)
	require.Equal(t, http.StatusOK, status)
	ticket := decodeData[struct {
		Code string `json:"code"`
	}](t, env)
	require.Len(t, ticket.Code, 4)

	status, env = f.post(t, "/api/auth/verify-otp", `{"email":"ann@x.com","code":"`+ticket.Code+`"}`)
	require.Equal(t, http.StatusOK, status)
	grant := decodeData[struct {
		ResetToken      string `json:"reset_token"`
		ValidForSeconds int64  `json:"valid_for_seconds"`
	}](t, env)
	assert.Len(t, grant.ResetToken, 40)
	assert.Equal(t, int64(auth.DefaultTokenTTL/time.Second), grant.ValidForSeconds)

	status, env = f.post(t, "/api/auth/verify-otp", `{"email":"ann@x.com","code":"`+ticket.Code+`"}`)
	assert.Equal(t, http.StatusBadRequest, status, "code is single use")
	assert.Equal(t, string(auth.KindInvalidOrExpiredOTP), env.Error.Code)

	status, env = f.post(t, "/api/auth/reset-password",
		`{"email":"ann@x.com","token":"`+grant.ResetToken+`","new_password":"newpw","confirm_password":"newpw"}`)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, _ = f.post(t, "/api/auth/login", `{"email":"ann@x.com","password":"pw1234"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = f.post(t, "/api/auth/login", `{"email":"ann@x.com","password":"newpw"}`)
	assert.Equal(t, http.StatusOK, status)

	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("login", observability.OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("login", "invalid_credentials")), 0)
}

func TestHandler_RegisterAlias(t *testing.T) {
	f := newFixture(t)
	status, _ := f.post(t, "/api/auth/register", `{"name":"Ann","email":"a@x.com","password":"pw1234"}`)
	assert.Equal(t, http.StatusCreated, status)

	status, env := f.post(t, "/api/auth/signup", `{"name":"Ann","email":"A@x.com","password":"pw1234"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "User already exists", env.Error.Message)
}

func TestHandler_ForgotPasswordHidesCodeByDefault(t *testing.T) {
	f := newFixture(t)
	_, _ = f.post(t, "/api/auth/signup", `{"name":"Ann","email":"a@x.com","password":"pw1234"}`)

	status, env := f.post(t, "/api/auth/forgot-password", `{"email":"a@x.com"}`)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(env.Data), `"code"`)
	assert.Contains(t, string(env.Data), `"expires_at"`)

	status, env = f.post(t, "/api/auth/forgot-password", `{"email":"nobody@x.com"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(auth.KindUserNotFound), env.Error.Code)
}

func TestHandler_RequestValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		path      string
		body      string
		wantField string
		wantMsg   string
	}{
		{"invalid json", "/api/auth/login", `{"email":`, "body", "valid JSON"},
		{"empty body", "/api/auth/login", ``, "body", "valid JSON"},
		{"array body", "/api/auth/login", `[]`, "body", "JSON object"},
		{"wrong type", "/api/auth/login", `{"email":42,"password":"x"}`, "email", "Must be a string"},
		{"unknown field", "/api/auth/forgot-password", `{"email":"a@x.com","admin":true}`, "admin", "Unknown field"},
		{"missing fields use domain messages", "/api/auth/signup", `{}`, "name", "Name is required"},
		{"bad email", "/api/auth/signup", `{"name":"Ann","email":"nope","password":"pw1234"}`, "email", "Please provide a valid email address"},
		{"short password", "/api/auth/signup", `{"name":"Ann","email":"a@x.com","password":"abc"}`, "password", "at least 4 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := f.post(t, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, status)
			assert.False(t, env.Success)
			assert.Equal(t, string(auth.KindValidationFailed), env.Error.Code)
			require.NotEmpty(t, env.Error.Details)

			var found bool
			for _, d := range env.Error.Details {
				if d.Field == tt.wantField && strings.Contains(d.Message, tt.wantMsg) {
					found = true
				}
			}
			assert.True(t, found, "details %+v", env.Error.Details)
		})
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	f := newFixture(t, api.WithMaxBodyBytes(16))
	status, env := f.post(t, "/api/auth/forgot-password", `{"email":"someone@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, env.Error.Details, 1)
	assert.Equal(t, "Request body is too large", env.Error.Details[0].Message)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Session(t *testing.T) {
	f := newFixture(t)
	_, _ = f.post(t, "/api/auth/signup", `{"name":"Ann","email":"a@x.com","password":"pw1234"}`)
	_, env := f.post(t, "/api/auth/login", `{"email":"a@x.com","password":"pw1234"}`)
	login := decodeData[struct {
		Token    string              `json:"token"`
		Identity auth.PublicIdentity `json:"identity"`
	}](t, env)

	get := func(header string) (int, envelope) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		var out envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return rec.Code, out
	}

	status, env := get("Bearer " + login.Token)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), login.Identity.ID)

	status, env = get("")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_SESSION", env.Error.Code)

	status, _ = get("Bearer " + login.Token + "x")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = get("Basic " + login.Token)
	assert.Equal(t, http.StatusUnauthorized, status)
}

// stubService returns err from every operation.
type stubService struct{ err error }

func (s stubService) Register(context.Context, string, string, string) (auth.PublicIdentity, error) {
	return auth.PublicIdentity{}, s.err
}

func (s stubService) Login(context.Context, string, string) (auth.LoginResult, error) {
	return auth.LoginResult{}, s.err
}

func (s stubService) ForgotPassword(context.Context, string) (auth.RecoveryTicket, error) {
	return auth.RecoveryTicket{}, s.err
}

func (s stubService) VerifyOTP(context.Context, string, string) (auth.ResetGrant, error) {
	return auth.ResetGrant{}, s.err
}

func (s stubService) ResetPassword(context.Context, string, string, string, string) error {
	return s.err
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   auth.Kind
	}{
		{oops.Code("X").Wrap(auth.ErrUserNotFound), http.StatusNotFound, auth.KindUserNotFound},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, auth.KindInvalidCredentials},
		{auth.ErrInvalidOrExpiredOTP, http.StatusBadRequest, auth.KindInvalidOrExpiredOTP},
		{auth.ErrInvalidOrExpiredToken, http.StatusBadRequest, auth.KindInvalidOrExpiredToken},
		{auth.ErrPasswordMismatch, http.StatusBadRequest, auth.KindPasswordMismatch},
		{auth.ErrDuplicateEmail, http.StatusConflict, auth.KindDuplicateEmail},
		{auth.ErrRateLimited, http.StatusTooManyRequests, auth.KindRateLimited},
		{errors.New("connection refused"), http.StatusServiceUnavailable, auth.KindServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.wantCode), func(t *testing.T) {
			h, err := api.NewHandler(stubService{err: tt.err}, api.WithLogger(slog.New(slog.DiscardHandler)))
			require.NoError(t, err)
			mux := http.NewServeMux()
			h.Register(mux)

			status, env := serve(t, mux, http.MethodPost, "/api/auth/reset-password",
				`{"email":"a@x.com","token":"t","new_password":"pw12","confirm_password":"pw12"}`)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, string(tt.wantCode), env.Error.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantStatus, api.StatusFor(tt.wantCode))
		})
	}
}

func TestHandler_ServiceUnavailableDetail(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	body := `{"email":"a@x.com","password":"pw"}`

	prod, err := api.NewHandler(stubService{err: boom}, api.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	mux := http.NewServeMux()
	prod.Register(mux)
	_, env := serve(t, mux, http.MethodPost, "/api/auth/login", body)
	assert.Empty(t, env.Error.Details, "production hides internal errors")
	assert.Equal(t, "Service temporarily unavailable", env.Error.Message)

	dev, err := api.NewHandler(stubService{err: boom},
		api.WithLogger(slog.New(slog.DiscardHandler)), api.WithDevelopment(true))
	require.NoError(t, err)
	mux = http.NewServeMux()
	dev.Register(mux)
	_, env = serve(t, mux, http.MethodPost, "/api/auth/login", body)
	require.Len(t, env.Error.Details, 1)
	assert.Contains(t, env.Error.Details[0].Message, "connection refused")
}

func TestNewHandler_RequiresService(t *testing.T) {
	_, err := api.NewHandler(nil)
	require.Error(t, err)
}

func TestHandler_OverRealServer(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	cors, err := api.NewCORS([]string{"*"})
	require.NoError(t, err)
	srv := httptest.NewServer(cors.Wrap(f.mux))
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/auth/signup",
		strings.NewReader(`{"name":"Ann","email":"a@x.com","password":"pw1234"}`))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

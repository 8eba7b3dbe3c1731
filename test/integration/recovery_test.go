// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/authd/internal/api"
	"github.com/holomush/authd/internal/auth"
	authpg "github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/notify"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/ratelimit"
	"github.com/holomush/authd/internal/session"
	"github.com/holomush/authd/internal/store"
)

type envelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ = Describe("password recovery over HTTP", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
		mr        *miniredis.Miniredis
		rdb       *redis.Client
		server    *httptest.Server
		client    *http.Client
		metrics   *observability.Metrics
	)

	post := func(path, body string) (int, envelope) {
		resp, err := client.Post(server.URL+"/api/auth"+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		var env envelope
		Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
		return resp.StatusCode, env
	}

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("authd_test"),
			postgres.WithUsername("authd"),
			postgres.WithPassword("authd"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		logger := slog.New(slog.DiscardHandler)
		pool, err = store.Open(ctx, store.PoolConfig{URL: connStr}, logger)
		Expect(err).NotTo(HaveOccurred())

		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})

		hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
			Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32,
		})
		Expect(err).NotTo(HaveOccurred())
		issuer, err := session.NewJWTIssuer(session.Config{
			Secret: []byte(strings.Repeat("i", session.MinSecretLength)),
			Issuer: "authd-integration",
			TTL:    time.Hour,
		})
		Expect(err).NotTo(HaveOccurred())

		metrics = observability.NewMetrics(prometheus.NewRegistry())
		limiter := ratelimit.New(rdb, ratelimit.Config{
			MaxAttempts:  50,
			PerOperation: map[string]int{auth.OpVerifyOTP: 3},
		})

		svc, err := auth.NewService(authpg.NewIdentityStore(pool), hasher, issuer,
			auth.WithLimiter(limiter),
			auth.WithNotifier(notify.NewCounting(notify.NewLogNotifier(logger), metrics)),
			auth.WithLogger(logger),
		)
		Expect(err).NotTo(HaveOccurred())

		h, err := api.NewHandler(svc,
			api.WithLogger(logger),
			api.WithMetrics(metrics),
			api.WithExposeCode(true),
			api.WithTokenVerifier(issuer),
		)
		Expect(err).NotTo(HaveOccurred())
		cors, err := api.NewCORS([]string{"*"})
		Expect(err).NotTo(HaveOccurred())

		mux := http.NewServeMux()
		h.Register(mux)
		server = httptest.NewServer(cors.Wrap(mux))
		client = &http.Client{Timeout: 10 * time.Second}
	})

	AfterAll(func() {
		if server != nil {
			server.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if mr != nil {
			mr.Close()
		}
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	var code, token string

	It("registers Ann", func() {
		status, env := post("/signup", `{"name":"Ann","email":"Ann@Example.com","password":"pw1234"}`)
		Expect(status).To(Equal(http.StatusCreated))
		Expect(env.Data["email"]).To(Equal("ann@example.com"))
	})

	It("rejects a duplicate registration", func() {
		status, env := post("/signup", `{"name":"Ann","email":"ann@example.com","password":"pw1234"}`)
		Expect(status).To(Equal(http.StatusConflict))
		Expect(env.Error.Code).To(Equal(string(auth.KindDuplicateEmail)))
	})

	It("logs Ann in", func() {
		status, env := post("/login", `{"email":"ann@example.com","password":"pw1234"}`)
		Expect(status).To(Equal(http.StatusOK))
		Expect(env.Data["token"]).NotTo(BeEmpty())
	})

	It("issues a recovery code, replacing an earlier one", func() {
		status, env := post("/forgot-password", `{"email":"ann@example.com"}`)
		Expect(status).To(Equal(http.StatusOK))
		first, _ := env.Data["code"].(string)
		Expect(first).To(HaveLen(4))

		status, env = post("/forgot-password", `{"email":"ann@example.com"}`)
		Expect(status).To(Equal(http.StatusOK))
		code, _ = env.Data["code"].(string)
		Expect(code).To(HaveLen(4))

		stale := first
		if stale == code {
			stale = "abcd"
		}
		status, _ = post("/verify-otp", `{"email":"ann@example.com","code":"`+stale+`"}`)
		Expect(status).To(Equal(http.StatusBadRequest))
	})

	It("exchanges the code for a reset token once", func() {
		status, env := post("/verify-otp", `{"email":"ann@example.com","code":"`+code+`"}`)
		Expect(status).To(Equal(http.StatusOK))
		token, _ = env.Data["reset_token"].(string)
		Expect(token).To(HaveLen(40))

		status, env = post("/verify-otp", `{"email":"ann@example.com","code":"`+code+`"}`)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(env.Error.Code).To(Equal(string(auth.KindInvalidOrExpiredOTP)))
	})

	It("rejects mismatched passwords without consuming the token", func() {
		status, env := post("/reset-password",
			`{"email":"ann@example.com","token":"`+token+`","new_password":"newpw","confirm_password":"other"}`)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(env.Error.Code).To(Equal(string(auth.KindPasswordMismatch)))
	})

	It("resets the password and consumes the token", func() {
		status, _ := post("/reset-password",
			`{"email":"ann@example.com","token":"`+token+`","new_password":"newpw","confirm_password":"newpw"}`)
		Expect(status).To(Equal(http.StatusOK))

		status, env := post("/reset-password",
			`{"email":"ann@example.com","token":"`+token+`","new_password":"again","confirm_password":"again"}`)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(env.Error.Code).To(Equal(string(auth.KindInvalidOrExpiredToken)))
	})

	It("accepts only the new password", func() {
		status, _ := post("/login", `{"email":"ann@example.com","password":"pw1234"}`)
		Expect(status).To(Equal(http.StatusUnauthorized))
		status, _ = post("/login", `{"email":"ann@example.com","password":"newpw"}`)
		Expect(status).To(Equal(http.StatusOK))
	})

	It("throttles repeated code guesses", func() {
		// The verify-otp budget is 3 per window and the specs above used all 3.
		status, env := post("/verify-otp", `{"email":"ann@example.com","code":"0000"}`)
		Expect(status).To(Equal(http.StatusTooManyRequests))
		Expect(env.Error.Code).To(Equal(string(auth.KindRateLimited)))

		mr.FastForward(ratelimit.DefaultWindow)
		status, _ = post("/verify-otp", `{"email":"ann@example.com","code":"0000"}`)
		Expect(status).To(Equal(http.StatusBadRequest))
	})

	It("counts outcomes", func() {
		Expect(testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues("register", observability.OutcomeOK))).To(BeNumerically("==", 1))
		Expect(testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues("verify_otp", "rate_limited"))).To(BeNumerically("==", 1))
	})
})

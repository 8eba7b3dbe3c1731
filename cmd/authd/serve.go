// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/api"
	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/notify"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/session"
)

const readHeaderTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the auth API under /api/auth together with the metrics and
health server. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the API until a signal arrives, ctx is cancelled
// or a server fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err //nolint:wrapcheck // already coded CONFIG_INVALID
	}

	logger, err := logging.SetDefault(logging.Options{
		Service: "authd",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return oops.Code("SERVE_LOGGING_FAILED").Wrap(err)
	}

	logger.Info("starting authd",
		"env", cfg.Env,
		"http_addr", cfg.HTTP.Addr,
		"store", cfg.Store.Driver,
		"rate_limiting", cfg.RateLimit.RedisAddr != "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ids, closeStore, err := deps.StoreFactory(ctx, cfg, logger)
	if err != nil {
		return oops.Code("SERVE_STORE_FAILED").Wrap(err)
	}
	defer closeStore()

	if cfg.Recovery.SweepInterval > 0 {
		sweeper := auth.NewSweepWorker(ids, cfg.Recovery.SweepInterval, logger)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	limiter, closeLimiter, err := deps.LimiterFactory(cfg)
	if err != nil {
		return oops.Code("SERVE_LIMITER_FAILED").Wrap(err)
	}
	defer func() {
		if err := closeLimiter(); err != nil {
			logger.Warn("error closing limiter", "error", err)
		}
	}()

	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, observability.AllReady(ids.Ping, limiter.Ping), logger)
		metrics = obsServer.Metrics()
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_OBSERVABILITY_FAILED").Wrap(err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer stopCancel()
			if err := obsServer.Stop(stopCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	handler, err := buildAPI(cfg, ids, limiter, metrics, logger)
	if err != nil {
		return err
	}

	ln, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cmd.Printf("authd listening on %s\n", ln.Addr())
	logger.Info("authd ready", "addr", ln.Addr().String())
	if deps.OnReady != nil {
		deps.OnReady(ln.Addr().String())
	}

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-errCh:
		if ok {
			serveErr = oops.Code("SERVE_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down API server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// buildAPI assembles the auth service and its HTTP binding.
func buildAPI(cfg *config.Config, ids IdentityStore, limiter Limiter, metrics *observability.Metrics, logger *slog.Logger) (http.Handler, error) {
	hasher, err := auth.NewArgon2idHasherWithParams(cfg.Argon2Params())
	if err != nil {
		return nil, oops.Code("SERVE_HASHER_FAILED").Wrap(err)
	}

	issuer, err := session.NewJWTIssuer(session.Config{
		Secret:   []byte(cfg.Session.Secret),
		Issuer:   cfg.Session.Issuer,
		Audience: cfg.Session.Audience,
		TTL:      cfg.Session.TTL,
	})
	if err != nil {
		return nil, oops.Code("SERVE_SESSION_FAILED").Wrap(err)
	}

	notifier := notify.NewCounting(notify.NewLogNotifier(logger), metrics)

	svc, err := auth.NewService(ids, hasher, issuer,
		auth.WithLimiter(limiter),
		auth.WithNotifier(notifier),
		auth.WithLogger(logger),
		auth.WithTTLs(cfg.Recovery.CodeTTL, cfg.Recovery.TokenTTL),
	)
	if err != nil {
		return nil, oops.Code("SERVE_SERVICE_FAILED").Wrap(err)
	}

	h, err := api.NewHandler(svc,
		api.WithLogger(logger),
		api.WithMetrics(metrics),
		api.WithExposeCode(cfg.ExposeRecoveryCode()),
		api.WithDevelopment(cfg.IsDevelopment()),
		api.WithTokenVerifier(issuer),
	)
	if err != nil {
		return nil, oops.Code("SERVE_HANDLER_FAILED").Wrap(err)
	}

	cors, err := api.NewCORS(cfg.HTTP.CORSOrigins)
	if err != nil {
		return nil, oops.Code("SERVE_HANDLER_FAILED").Wrap(err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return cors.Wrap(mux), nil
}

// monitorServerErrors cancels ctx when a background server fails. It exits
// when an error arrives, the channel closes or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired recovery secrets are cleared.
const DefaultSweepInterval = 10 * time.Minute

// SecretSweeper clears recovery codes and tokens whose expiry is at or
// before now, and reports how many identities it touched.
type SecretSweeper interface {
	SweepExpiredSecrets(ctx context.Context, now time.Time) (int64, error)
}

// SweepWorker periodically clears expired recovery secrets. Expired secrets
// never match a lookup, so sweeping only keeps dead digests out of storage.
type SweepWorker struct {
	sweeper  SecretSweeper
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweepWorker creates a worker that sweeps every interval.
func NewSweepWorker(sweeper SecretSweeper, interval time.Duration, logger *slog.Logger) *SweepWorker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		clock:    time.Now,
	}
}

// RunOnce executes a single sweep.
func (w *SweepWorker) RunOnce(ctx context.Context) (int64, error) {
	n, err := w.sweeper.SweepExpiredSecrets(ctx, w.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "cleared expired recovery secrets", "count", n)
	}
	return n, nil
}

// Start begins periodic sweeping until ctx is done or Stop is called.
func (w *SweepWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the worker and waits for the current sweep to finish.
func (w *SweepWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *SweepWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "recovery secret sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

// Package cleanup provides the scheduled sweep that reclaims expired
// credential rows.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/unirate/unirate/internal/auth"
)

// ErrAlreadyRunning is returned when a sweep is triggered while a prior run is
// still in progress. The trigger is skipped, not queued; the next scheduled
// tick catches any backlog.
var ErrAlreadyRunning = oops.Code("CLEANUP_ALREADY_RUNNING").Errorf("cleanup run already in progress")

// Config defines the sweep schedule.
type Config struct {
	Interval     time.Duration // How often to run the sweep
	StartupDelay time.Duration // Delay before the first run after start
}

// DefaultConfig returns the default cleanup configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Hour,
		StartupDelay: 10 * time.Second,
	}
}

// Result holds the counts from a single sweep.
type Result struct {
	ResetDeleted   int64
	RefreshDeleted int64
}

// Stats are cumulative in-memory statistics, retained for observability.
type Stats struct {
	RunsCompleted  uint64    `json:"runs_completed"`
	ResetDeleted   int64     `json:"reset_deleted"`
	RefreshDeleted int64     `json:"refresh_deleted"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorAt    time.Time `json:"last_error_at,omitzero"`
}

// Worker runs the periodic sweep. It never runs concurrently with itself:
// the running flag is a best-effort single-process guard, not a distributed
// lock, which is acceptable because exactly one process instance schedules
// cleanup.
type Worker struct {
	cfg     Config
	refresh auth.RefreshTokenRepository
	resets  auth.PasswordResetRepository
	metrics *Metrics
	logger  *slog.Logger
	clock   func() time.Time
	running atomic.Bool

	mu    sync.Mutex
	stats Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a cleanup Worker. metrics may be nil.
func NewWorker(cfg Config, refresh auth.RefreshTokenRepository, resets auth.PasswordResetRepository, metrics *Metrics) (*Worker, error) {
	if refresh == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if resets == nil {
		return nil, oops.Errorf("password reset repository is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Worker{
		cfg:     cfg,
		refresh: refresh,
		resets:  resets,
		metrics: metrics,
		logger:  slog.Default(),
		clock:   time.Now,
	}, nil
}

// RunOnce executes a single sweep: expired reset rows plus refresh rows older
// than the refresh TTL. Returns ErrAlreadyRunning, leaving statistics
// untouched, if a run is already in flight. A failed sweep is recorded in the
// stats but otherwise has no effect beyond its own error return.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Warn("cleanup run skipped, previous run still in progress")
		if w.metrics != nil {
			w.metrics.Runs.WithLabelValues("skipped").Inc()
		}
		return Result{}, ErrAlreadyRunning
	}
	defer w.running.Store(false)

	now := w.clock()
	var res Result

	resetDeleted, err := w.resets.DeleteExpired(ctx, now)
	if err != nil {
		w.recordError(err)
		return res, oops.Code("CLEANUP_SWEEP_FAILED").
			With("operation", "delete expired reset tokens").
			Wrap(err)
	}
	res.ResetDeleted = resetDeleted

	refreshDeleted, err := w.refresh.DeleteCreatedBefore(ctx, now.Add(-auth.RefreshTokenTTL))
	if err != nil {
		w.recordError(err)
		return res, oops.Code("CLEANUP_SWEEP_FAILED").
			With("operation", "delete expired refresh tokens").
			Wrap(err)
	}
	res.RefreshDeleted = refreshDeleted

	w.mu.Lock()
	w.stats.RunsCompleted++
	w.stats.ResetDeleted += res.ResetDeleted
	w.stats.RefreshDeleted += res.RefreshDeleted
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.Runs.WithLabelValues("completed").Inc()
		w.metrics.TokensDeleted.WithLabelValues("reset").Add(float64(res.ResetDeleted))
		w.metrics.TokensDeleted.WithLabelValues("refresh").Add(float64(res.RefreshDeleted))
	}

	if res.ResetDeleted > 0 || res.RefreshDeleted > 0 {
		w.logger.Info("cleanup sweep completed",
			"reset_deleted", res.ResetDeleted,
			"refresh_deleted", res.RefreshDeleted,
		)
	}

	return res, nil
}

// Stats returns a snapshot of the cumulative statistics.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Start begins periodic sweeps: one shortly after start, then every interval.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop cancels the schedule and waits for any in-flight sweep to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	startup := time.NewTimer(w.cfg.StartupDelay)
	defer startup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-startup.C:
		w.runLogged(ctx)
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runLogged(ctx)
		}
	}
}

func (w *Worker) runLogged(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("cleanup sweep failed", "error", err)
	}
}

func (w *Worker) recordError(err error) {
	w.mu.Lock()
	w.stats.LastError = err.Error()
	w.stats.LastErrorAt = w.clock()
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.Runs.WithLabelValues("failed").Inc()
	}
}

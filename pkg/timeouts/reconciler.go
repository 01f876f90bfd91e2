package timeouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultReconcileSchedule runs the sweep once a minute.
const DefaultReconcileSchedule = "@every 1m"

// Sweeper fires the deadlines that passed without an armed timer.
type Sweeper interface {
	ReconcileTimeouts(ctx context.Context) (int, error)
}

// Reconciler periodically asks a Sweeper to fire overdue deadlines, covering
// timers lost to a restart or to a timer that was never armed.
type Reconciler struct {
	sweeper  Sweeper
	schedule string
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReconciler validates schedule and creates a stopped reconciler.
func NewReconciler(sweeper Sweeper, schedule string, logger *slog.Logger) (*Reconciler, error) {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule '%s': %w", schedule, err)
	}

	return &Reconciler{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger.With("module", "timeout_reconciler"),
	}, nil
}

// Start registers the sweep job and starts the scheduler.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("reconciler already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entryID, err := r.cron.AddFunc(r.schedule, func() {
		_, _ = r.RunOnce(r.ctx)
	})
	if err != nil {
		r.cron = nil
		r.cancel()

		return fmt.Errorf("failed to add reconcile job: %w", err)
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Timeout reconciler started", "schedule", r.schedule, "entry_id", entryID)

	return nil
}

// RunOnce performs a single sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	fired, err := r.sweeper.ReconcileTimeouts(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to reconcile timeouts", "error", err)

		return fired, err
	}

	if fired > 0 {
		r.logger.InfoContext(ctx, "Fired overdue step timeouts", "count", fired)
	}

	return fired, nil
}

// Stop halts the scheduler and waits for a running sweep to return.
func (r *Reconciler) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return
	}

	r.cancel()

	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}

	r.cron = nil
	r.logger.InfoContext(ctx, "Timeout reconciler stopped")
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/timeouts"
	"go.opentelemetry.io/otel/attribute"
)

var _ timeouts.Sweeper = (*Engine)(nil)

func (e *Engine) schedule(key timeouts.Key, deadline time.Time) {
	e.timers.Schedule(key, deadline, func() {
		ctx := context.Background()

		if _, err := e.fireTimeout(ctx, key, deadline); err != nil {
			e.logger.ErrorContext(ctx, "Failed to apply step timeout",
				"instance_id", key.InstanceID, "step_id", key.StepID, "error", err)
		}
	})
}

// fireTimeout records a timeout on the step of key when the instance is still
// active on it and still waiting on the deadline the timer was armed for. A
// deadline that has already passed is honored whichever timer observes it.
// The step is not advanced. It reports whether a timeout was recorded.
func (e *Engine) fireTimeout(ctx context.Context, key timeouts.Key, deadline time.Time) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.timeout",
		attribute.String(otelhelper.InstanceIDKey, key.InstanceID),
		attribute.String(otelhelper.StepIDKey, key.StepID),
	)
	defer span.End()

	unlock := e.locks.Lock(key.InstanceID)
	defer unlock()

	instance, err := e.instances.GetByID(ctx, key.InstanceID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return false, nil
		}

		otelhelper.SetError(span, err)

		return false, fmt.Errorf("failed to load instance %s: %w", key.InstanceID, err)
	}

	if instance.Status != models.InstanceStatusActive || instance.CurrentStepID != key.StepID || !due(instance.TimeoutAt, deadline, e.clock.Now()) {
		e.logger.DebugContext(ctx, "Ignoring stale step timer",
			"instance_id", key.InstanceID, "step_id", key.StepID, "status", instance.Status,
			"current_step_id", instance.CurrentStepID, "armed_for", deadline)

		return false, nil
	}

	definition, step, err := e.currentStep(ctx, instance)
	if err != nil {
		otelhelper.SetError(span, err)

		return false, err
	}

	r := e.newRun(ctx, definition, instance.Clone())
	comment := "No action within " + formatHours(step.Config.TimeoutHours)

	r.instance.TimeoutAt = nil
	r.record(step, models.HistoryTimeout, SystemActor, comment)
	r.emit(events.WorkflowTimeout, step, SystemActor, comment)

	if err := e.commit(ctx, r); err != nil {
		otelhelper.SetError(span, err)

		return false, err
	}

	unlock()

	e.logger.InfoContext(ctx, "Step timed out", "instance_id", key.InstanceID, "step_id", key.StepID)

	result := e.dispatch(ctx, r)
	for _, warning := range result.Warnings {
		e.logger.WarnContext(ctx, "Timeout side effect failed",
			"instance_id", key.InstanceID, "kind", warning.Kind, "message", warning.Message)
	}

	return true, nil
}

// RestoreTimers re-arms the timers of active instances carrying a deadline.
// Deadlines already in the past fire immediately.
func (e *Engine) RestoreTimers(ctx context.Context) (int, error) {
	active, err := e.instances.List(ctx, persistence.InstanceFilter{Status: models.InstanceStatusActive})
	if err != nil {
		return 0, fmt.Errorf("failed to list active instances: %w", err)
	}

	restored := 0

	for _, instance := range active {
		if instance.TimeoutAt == nil {
			continue
		}

		e.schedule(timeouts.Key{InstanceID: instance.ID, StepID: instance.CurrentStepID}, *instance.TimeoutAt)

		restored++
	}

	e.logger.InfoContext(ctx, "Step timers restored", "count", restored)

	return restored, nil
}

// ReconcileTimeouts fires the passed deadlines of active instances that have no
// armed timer.
func (e *Engine) ReconcileTimeouts(ctx context.Context) (int, error) {
	active, err := e.instances.List(ctx, persistence.InstanceFilter{Status: models.InstanceStatusActive})
	if err != nil {
		return 0, fmt.Errorf("failed to list active instances: %w", err)
	}

	now := e.clock.Now()
	fired := 0

	var errs []error

	for _, instance := range active {
		if instance.TimeoutAt == nil || instance.TimeoutAt.After(now) {
			continue
		}

		key := timeouts.Key{InstanceID: instance.ID, StepID: instance.CurrentStepID}
		if _, armed := e.timers.Deadline(key); armed {
			continue
		}

		ok, err := e.fireTimeout(ctx, key, *instance.TimeoutAt)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if ok {
			fired++
		}
	}

	return fired, errors.Join(errs...)
}

// due reports whether the stored deadline is the one a timer was armed for, or
// has passed anyway. Stores may drop sub-millisecond precision.
func due(stored *time.Time, armed, now time.Time) bool {
	if stored == nil {
		return false
	}

	return stored.Sub(armed).Abs() < time.Millisecond || !stored.After(now)
}

func formatHours(hours float64) string {
	if hours == 1 {
		return "1 hour"
	}

	return strconv.FormatFloat(hours, 'f', -1, 64) + " hours"
}

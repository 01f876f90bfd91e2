package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/dukex/procflow/pkg/conditions"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/notifications"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/template"
	"github.com/dukex/procflow/pkg/timeouts"
	"go.opentelemetry.io/otel/attribute"
)

const (
	commentConditionsNotMet = "Conditions not met"
	commentAutoAdvanced     = "Auto-advanced"
	commentAutoApproved     = "Auto-approved"
)

type notification struct {
	userID    string
	template  string
	variables map[string]any
	meta      notifications.Meta
}

// outboxItem holds either an event or a notification.
type outboxItem struct {
	event        *events.Event
	notification *notification
}

type timerArm struct {
	key      timeouts.Key
	deadline time.Time
}

// run is one processing pass over a working copy of an instance. Nothing it
// does is visible until the engine commits it; side effects wait in the outbox.
type run struct {
	e          *Engine
	ctx        context.Context
	definition *models.WorkflowDefinition
	instance   *models.WorkflowInstance
	now        time.Time

	steps        int
	outbox       []outboxItem
	warnings     []Warning
	cancelTimers []timeouts.Key
	cancelAll    bool
	arm          *timerArm
}

func (e *Engine) newRun(ctx context.Context, definition *models.WorkflowDefinition, instance *models.WorkflowInstance) *run {
	return &run{
		e:          e,
		ctx:        ctx,
		definition: definition,
		instance:   instance,
		now:        e.clock.Now().UTC(),
	}
}

// act applies an actor's action to the current step and moves on.
func (r *run) act(step *models.WorkflowStep, action models.StepAction, by, comment string) error {
	r.record(step, action.HistoryAction(), by, comment)

	switch action {
	case models.ActionReject:
		r.emit(events.WorkflowStepRejected, step, by, comment)

		if next := step.OnReject(); next != "" {
			return r.advance(next)
		}

		r.finish(models.InstanceStatusCancelled, step, by, comment)

		return nil
	case models.ActionSkip:
		r.emit(events.WorkflowStepSkipped, step, by, comment)
	default:
		r.emit(events.WorkflowStepCompleted, step, by, comment)
	}

	return r.continueFrom(step)
}

func (r *run) continueFrom(step *models.WorkflowStep) error {
	if next := step.Next(); next != "" {
		return r.advance(next)
	}

	r.finish(models.InstanceStatusCompleted, step, SystemActor, "")

	return nil
}

// advance processes steps from stepID until one awaits input or the definition ends.
func (r *run) advance(stepID string) error {
	var last *models.WorkflowStep

	for stepID != "" {
		r.steps++
		if r.steps > r.e.config.MaxAutoAdvance {
			return fmt.Errorf("%w: more than %d steps processed in one call (at step %q)",
				services.ErrAutoAdvanceLimit, r.e.config.MaxAutoAdvance, stepID)
		}

		step, ok := r.definition.Step(stepID)
		if !ok {
			return fmt.Errorf("step %q not found in definition %s", stepID, r.definition.ID)
		}

		last = step
		r.instance.CurrentStepID = step.ID

		if step.Type != models.StepTypeCondition && !conditions.EvaluateAll(step.Conditions, r.instance.Data) {
			r.record(step, models.HistorySkipped, SystemActor, commentConditionsNotMet)
			r.emit(events.WorkflowStepSkipped, step, SystemActor, commentConditionsNotMet)

			stepID = step.Next()

			continue
		}

		switch step.Type {
		case models.StepTypeCondition:
			stepID = r.route(step)
		case models.StepTypeNotification:
			r.notifyStep(step)
			r.autoAdvanced(step, models.HistoryCompleted, commentAutoAdvanced)

			stepID = step.Next()
		case models.StepTypeAction:
			r.invoke(step)
			r.autoAdvanced(step, models.HistoryCompleted, commentAutoAdvanced)

			stepID = step.Next()
		case models.StepTypeApproval:
			if step.Config.AutoApprove {
				r.autoAdvanced(step, models.HistoryApproved, commentAutoApproved)

				stepID = step.Next()

				continue
			}

			r.suspend(step, notifications.KindApprovalRequested)

			return nil
		case models.StepTypeTask:
			r.suspend(step, notifications.KindTaskAssigned)

			return nil
		default:
			return fmt.Errorf("step %q has unknown type %q", step.ID, step.Type)
		}
	}

	r.finish(models.InstanceStatusCompleted, last, SystemActor, "")

	return nil
}

// route evaluates a condition step and returns the branch to follow.
func (r *run) route(step *models.WorkflowStep) string {
	if conditions.EvaluateAll(step.Conditions, r.instance.Data) {
		r.autoAdvanced(step, models.HistoryCompleted, "Conditions met")

		return step.Next()
	}

	if next := step.OnReject(); next != "" {
		r.autoAdvanced(step, models.HistoryCompleted, "Conditions not met, taking reject branch")

		return next
	}

	r.autoAdvanced(step, models.HistoryCompleted, commentConditionsNotMet)

	return step.Next()
}

func (r *run) autoAdvanced(step *models.WorkflowStep, action models.HistoryAction, comment string) {
	r.record(step, action, SystemActor, comment)
	r.emit(events.WorkflowStepCompleted, step, SystemActor, comment)
}

// suspend parks the instance on an approval or task step.
func (r *run) suspend(step *models.WorkflowStep, kind notifications.Kind) {
	users, err := r.e.resolver.Resolve(step.Config, r.instance.Data)
	if err != nil {
		r.warn(WarningAssignee, step, fmt.Sprintf("failed to resolve assignee: %v", err))
	} else if len(users) == 0 && step.Config.HasAssignee() {
		r.warn(WarningAssignee, step, "no user resolved for the step assignee")
	}

	for _, userID := range users {
		r.notify(userID, step, kind)
	}

	if step.Config.TimeoutHours > 0 {
		r.armTimer(step, r.now.Add(time.Duration(step.Config.TimeoutHours*float64(time.Hour))))
	} else {
		r.instance.TimeoutAt = nil
	}
}

// notifyStep sends a notification step to its assignees, or to the instance starter.
func (r *run) notifyStep(step *models.WorkflowStep) {
	users, err := r.e.resolver.Resolve(step.Config, r.instance.Data)
	if err != nil {
		r.warn(WarningAssignee, step, fmt.Sprintf("failed to resolve recipients: %v", err))
	}

	if len(users) == 0 && r.instance.StartedBy != "" {
		users = []string{r.instance.StartedBy}
	}

	for _, userID := range users {
		r.notify(userID, step, notifications.KindNotification)
	}
}

func (r *run) notify(userID string, step *models.WorkflowStep, kind notifications.Kind) {
	r.outbox = append(r.outbox, outboxItem{notification: &notification{
		userID:    userID,
		template:  step.Config.NotificationTemplate,
		variables: template.InstanceData(r.instance),
		meta: notifications.Meta{
			Kind:         kind,
			InstanceID:   r.instance.ID,
			DefinitionID: r.instance.DefinitionID,
			StepID:       step.ID,
			StepName:     step.Name,
		},
	}})
}

// invoke runs the action handler of step and merges its output into the data.
// Failures become warnings.
func (r *run) invoke(step *models.WorkflowStep) {
	actionType := step.Config.ActionType

	handler, ok := r.e.actions.Get(actionType)
	if !ok {
		r.e.logger.WarnContext(r.ctx, "No handler registered for action type",
			"instance_id", r.instance.ID, "step_id", step.ID, "action_type", actionType)
		r.warn(WarningAction, step, fmt.Sprintf("no handler registered for action type %q", actionType))

		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.e.config.ActionTimeout)
	defer cancel()

	ctx, span := otelhelper.StartSpan(ctx, r.e.tracer, "workflow.action",
		attribute.String(otelhelper.InstanceIDKey, r.instance.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.ActionTypeKey, actionType),
	)
	defer span.End()

	output, err := callHandler(ctx, handler, r.instance.Clone(), step.Clone(), maps.Clone(step.Config.ActionPayload))
	if err != nil {
		otelhelper.SetError(span, err)
		r.e.logger.WarnContext(ctx, "Action handler failed",
			"instance_id", r.instance.ID, "step_id", step.ID, "action_type", actionType, "error", err)
		r.warn(WarningAction, step, fmt.Sprintf("action %q failed: %v", actionType, err))

		return
	}

	r.instance.MergeData(output)
}

func callHandler(ctx context.Context, handler registry.Handler, instance *models.WorkflowInstance, step *models.WorkflowStep, payload map[string]any) (output map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	return handler(ctx, instance, step, payload)
}

// leave disarms the timer of the step being exited.
func (r *run) leave(step *models.WorkflowStep) {
	r.cancelTimers = append(r.cancelTimers, timeouts.Key{InstanceID: r.instance.ID, StepID: step.ID})
	r.instance.TimeoutAt = nil
}

func (r *run) armTimer(step *models.WorkflowStep, deadline time.Time) {
	r.instance.TimeoutAt = &deadline
	r.arm = &timerArm{
		key:      timeouts.Key{InstanceID: r.instance.ID, StepID: step.ID},
		deadline: deadline,
	}
}

// finish moves the instance to a terminal status.
func (r *run) finish(status models.InstanceStatus, step *models.WorkflowStep, by, comment string) {
	completedAt := r.now

	r.instance.Status = status
	r.instance.CompletedAt = &completedAt
	r.instance.TimeoutAt = nil
	r.arm = nil

	eventType := events.WorkflowCompleted
	if status == models.InstanceStatusCancelled {
		eventType = events.WorkflowCancelled
	}

	r.emit(eventType, step, by, comment)
}

func (r *run) record(step *models.WorkflowStep, action models.HistoryAction, by, comment string) {
	r.instance.AppendHistory(&models.WorkflowHistoryEntry{
		StepID:      step.ID,
		StepName:    step.Name,
		Action:      action,
		PerformedBy: by,
		Comment:     comment,
		Timestamp:   r.now,
	})
}

func (r *run) emit(eventType events.EventType, step *models.WorkflowStep, by, comment string) {
	event := events.New(eventType, r.instance, r.now).ForStep(step, by, comment)
	r.outbox = append(r.outbox, outboxItem{event: &event})
}

func (r *run) warn(kind WarningKind, step *models.WorkflowStep, message string) {
	r.warnings = append(r.warnings, Warning{Kind: kind, StepID: step.ID, Message: message})
}

// wrap turns processing failures into service errors.
func (r *run) wrap(op string, err error) error {
	if errors.Is(err, services.ErrAutoAdvanceLimit) {
		return services.NewValidationError(op, "auto_advance_limit", err.Error(), err)
	}

	return err
}

// Package workflow drives workflow instances through their definitions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/assignees"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/notifications"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/timeouts"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxAutoAdvance = 100
	DefaultActionTimeout  = 30 * time.Second

	// SystemActor performs the entries the engine records on its own.
	SystemActor = "system"
)

// DefinitionSource looks up workflow definitions. *services.Definitions implements it.
type DefinitionSource interface {
	Get(ctx context.Context, id string) (*models.WorkflowDefinition, error)
}

// Dependencies are the collaborators of an Engine. Definitions and Instances
// are required; the others default to in-process implementations.
type Dependencies struct {
	Definitions DefinitionSource
	Instances   persistence.InstanceRepository
	Actions     *registry.Registry
	Notifier    notifications.Sender
	Resolver    assignees.Resolver
	Bus         *eventbus.Bus
	Clock       clockwork.Clock
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	// MaxAutoAdvance bounds the steps a single call may process.
	MaxAutoAdvance int
	// ActionTimeout bounds each action handler invocation.
	ActionTimeout time.Duration
}

// Engine owns instance state. Operations on one instance are serialized;
// operations on different instances run in parallel.
type Engine struct {
	definitions DefinitionSource
	instances   persistence.InstanceRepository
	actions     *registry.Registry
	notifier    notifications.Sender
	resolver    assignees.Resolver
	bus         *eventbus.Bus
	timers      *timeouts.Manager
	clock       clockwork.Clock
	tracer      trace.Tracer
	logger      *slog.Logger
	validate    *validator.Validate
	locks       *locker
	config      Config
}

func NewEngine(deps Dependencies, config Config) (*Engine, error) {
	if deps.Definitions == nil {
		return nil, errors.New("definition source is required")
	}

	if deps.Instances == nil {
		return nil, errors.New("instance repository is required")
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	logger := deps.Logger.With("module", "workflow_engine")

	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	if deps.Actions == nil {
		deps.Actions = registry.NewRegistry(deps.Logger)
	}

	if deps.Notifier == nil {
		deps.Notifier = notifications.NewLogSender(deps.Logger)
	}

	if deps.Resolver == nil {
		deps.Resolver = assignees.NewResolver(nil)
	}

	if deps.Bus == nil {
		deps.Bus = eventbus.NewBus(deps.Logger)
	}

	if deps.Tracer == nil {
		deps.Tracer = otelhelper.NoopTracer()
	}

	if config.MaxAutoAdvance <= 0 {
		config.MaxAutoAdvance = DefaultMaxAutoAdvance
	}

	if config.ActionTimeout <= 0 {
		config.ActionTimeout = DefaultActionTimeout
	}

	return &Engine{
		definitions: deps.Definitions,
		instances:   deps.Instances,
		actions:     deps.Actions,
		notifier:    deps.Notifier,
		resolver:    deps.Resolver,
		bus:         deps.Bus,
		timers:      timeouts.NewManager(deps.Clock, logger.With("component", "timers")),
		clock:       deps.Clock,
		tracer:      deps.Tracer,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		locks:       newLocker(),
		config:      config,
	}, nil
}

// Subscribe registers handler for every lifecycle event.
func (e *Engine) Subscribe(handler eventbus.Handler) eventbus.Unsubscribe {
	return e.bus.Subscribe(handler)
}

// RegisterActionHandler binds an action type used by action steps.
func (e *Engine) RegisterActionHandler(actionType string, handler registry.Handler) {
	e.actions.Register(actionType, handler)
}

// PendingTimers returns the number of armed step timers.
func (e *Engine) PendingTimers() int {
	return e.timers.Pending()
}

// Close disarms every timer. Stored deadlines survive for RestoreTimers.
func (e *Engine) Close() {
	e.timers.Stop()
}

// StartWorkflow creates an instance and processes it up to the first step awaiting input.
func (e *Engine) StartWorkflow(ctx context.Context, req StartRequest) (*Result, error) {
	const op = "StartWorkflow"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.start",
		attribute.String(otelhelper.DefinitionIDKey, req.DefinitionID),
		attribute.String(otelhelper.EntityTypeKey, req.EntityType),
		attribute.String(otelhelper.EntityIDKey, req.EntityID),
		attribute.String(otelhelper.UserIDKey, req.StartedBy),
	)
	defer span.End()

	if err := e.validate.Struct(req); err != nil {
		err = services.NewValidationError(op, "invalid_request", services.DescribeValidation(err), err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	definition, err := e.definitions.Get(ctx, req.DefinitionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !definition.IsActive {
		err := &services.ServiceError{
			Op:      op,
			Code:    "definition_inactive",
			Message: fmt.Sprintf("workflow definition %s is inactive", definition.ID),
			Err:     services.ErrInactiveDefinition,
		}
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := services.ValidateData(definition, req.Data); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	entry := definition.EntryStep()
	now := e.clock.Now().UTC()

	instance := &models.WorkflowInstance{
		ID:            uuid.NewString(),
		DefinitionID:  definition.ID,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Status:        models.InstanceStatusActive,
		CurrentStepID: entry.ID,
		Data:          cloneData(req.Data),
		History:       []*models.WorkflowHistoryEntry{},
		StartedBy:     req.StartedBy,
		StartedAt:     now,
		UpdatedAt:     now,
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	unlock := e.locks.Lock(instance.ID)

	r := e.newRun(ctx, definition, instance)
	r.record(entry, models.HistoryStarted, req.StartedBy, "")
	r.emit(events.WorkflowStarted, entry, req.StartedBy, "")

	if err := r.advance(entry.ID); err != nil {
		unlock()
		otelhelper.SetError(span, err)

		return nil, r.wrap(op, err)
	}

	if err := e.commit(ctx, r); err != nil {
		unlock()
		otelhelper.SetError(span, err)

		return nil, err
	}

	unlock()

	e.logger.InfoContext(ctx, "Workflow started",
		"instance_id", instance.ID,
		"definition_id", definition.ID,
		"current_step_id", r.instance.CurrentStepID,
		"status", r.instance.Status,
	)

	return e.dispatch(ctx, r), nil
}

// PerformStepAction applies an actor's action to the current step and processes
// the instance up to the next step awaiting input.
func (e *Engine) PerformStepAction(ctx context.Context, req StepActionRequest) (*Result, error) {
	const op = "PerformStepAction"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step_action",
		attribute.String(otelhelper.InstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.StepIDKey, req.StepID),
		attribute.String(otelhelper.StepActionKey, string(req.Action)),
		attribute.String(otelhelper.UserIDKey, req.PerformedBy),
	)
	defer span.End()

	result, err := e.performStepAction(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return result, err
}

func (e *Engine) performStepAction(ctx context.Context, op string, req StepActionRequest) (*Result, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, services.NewValidationError(op, "invalid_request", services.DescribeValidation(err), err)
	}

	unlock := e.locks.Lock(req.InstanceID)
	defer unlock()

	instance, err := e.load(ctx, op, req.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status != models.InstanceStatusActive {
		return nil, &services.InvalidStateError{InstanceID: instance.ID, Current: instance.Status, Attempted: string(req.Action)}
	}

	if req.StepID != instance.CurrentStepID {
		return nil, &services.StepMismatchError{InstanceID: instance.ID, Expected: instance.CurrentStepID, Got: req.StepID}
	}

	if !req.Action.Valid() {
		return nil, services.NewValidationError(op, "unknown_action",
			fmt.Sprintf("unknown step action %q; expected approve, reject, complete or skip", req.Action), services.ErrUnknownAction)
	}

	definition, step, err := e.currentStep(ctx, instance)
	if err != nil {
		return nil, err
	}

	r := e.newRun(ctx, definition, instance.Clone())
	r.instance.MergeData(req.Data)
	r.leave(step)

	if err := r.act(step, req.Action, req.PerformedBy, req.Comment); err != nil {
		return nil, r.wrap(op, err)
	}

	if err := e.commit(ctx, r); err != nil {
		return nil, err
	}

	unlock()

	e.logger.InfoContext(ctx, "Step action performed",
		"instance_id", instance.ID,
		"step_id", step.ID,
		"action", req.Action,
		"performed_by", req.PerformedBy,
		"status", r.instance.Status,
	)

	return e.dispatch(ctx, r), nil
}

// CancelWorkflow terminates a non-terminal instance.
func (e *Engine) CancelWorkflow(ctx context.Context, instanceID, by, reason string) (*Result, error) {
	return e.transition(ctx, "CancelWorkflow", "cancel", instanceID, func(r *run, step *models.WorkflowStep) error {
		if r.instance.Status.IsTerminal() {
			return &services.InvalidStateError{InstanceID: r.instance.ID, Current: r.instance.Status, Attempted: "cancel"}
		}

		r.leave(step)
		r.cancelAll = true
		r.record(step, models.HistoryCancelled, by, reason)
		r.finish(models.InstanceStatusCancelled, step, by, reason)

		return nil
	})
}

// HoldWorkflow suspends an active instance. The armed timer is disarmed; its
// deadline is kept so ResumeWorkflow can re-arm the remaining time.
func (e *Engine) HoldWorkflow(ctx context.Context, instanceID, by, reason string) (*Result, error) {
	return e.transition(ctx, "HoldWorkflow", "hold", instanceID, func(r *run, step *models.WorkflowStep) error {
		if r.instance.Status != models.InstanceStatusActive {
			return &services.InvalidStateError{InstanceID: r.instance.ID, Current: r.instance.Status, Attempted: "hold"}
		}

		r.cancelTimers = append(r.cancelTimers, timeouts.Key{InstanceID: r.instance.ID, StepID: step.ID})
		r.instance.Status = models.InstanceStatusOnHold
		r.record(step, models.HistoryOnHold, by, reason)
		r.emit(events.WorkflowOnHold, step, by, reason)

		return nil
	})
}

// ResumeWorkflow reactivates an instance on hold.
func (e *Engine) ResumeWorkflow(ctx context.Context, instanceID, by string) (*Result, error) {
	return e.transition(ctx, "ResumeWorkflow", "resume", instanceID, func(r *run, step *models.WorkflowStep) error {
		if r.instance.Status != models.InstanceStatusOnHold {
			return &services.InvalidStateError{InstanceID: r.instance.ID, Current: r.instance.Status, Attempted: "resume"}
		}

		if r.instance.TimeoutAt != nil {
			remaining := r.instance.TimeoutAt.Sub(heldSince(r.instance, r.now))
			r.armTimer(step, r.now.Add(remaining))
		}

		r.instance.Status = models.InstanceStatusActive
		r.record(step, models.HistoryResumed, by, "")
		r.emit(events.WorkflowResumed, step, by, "")

		return nil
	})
}

// transition runs an administrative state change under the instance lock.
func (e *Engine) transition(ctx context.Context, op, verb, instanceID string, apply func(r *run, step *models.WorkflowStep) error) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow."+verb,
		attribute.String(otelhelper.InstanceIDKey, instanceID),
	)
	defer span.End()

	unlock := e.locks.Lock(instanceID)
	defer unlock()

	instance, err := e.load(ctx, op, instanceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	definition, step, err := e.currentStep(ctx, instance)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	r := e.newRun(ctx, definition, instance.Clone())

	if err := apply(r, step); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := e.commit(ctx, r); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	unlock()

	e.logger.InfoContext(ctx, "Workflow "+verb+" applied", "instance_id", instanceID, "status", r.instance.Status)

	return e.dispatch(ctx, r), nil
}

// GetInstance returns a stored instance.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	return e.load(ctx, "GetInstance", instanceID)
}

// ListInstances returns the instances matching filter ordered by start time.
func (e *Engine) ListInstances(ctx context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	instances, err := e.instances.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return instances, nil
}

// GetPendingApprovalsForUser lists active instances waiting on an approval step
// assigned to userID directly, to role, or through a dynamic field holding userID.
func (e *Engine) GetPendingApprovalsForUser(ctx context.Context, userID, role string) ([]*models.WorkflowInstance, error) {
	if userID == "" && role == "" {
		return nil, services.NewValidationError("GetPendingApprovalsForUser", "assignee_required",
			"user id or role is required", nil)
	}

	active, err := e.instances.List(ctx, persistence.InstanceFilter{Status: models.InstanceStatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list active instances: %w", err)
	}

	definitions := make(map[string]*models.WorkflowDefinition)
	pending := make([]*models.WorkflowInstance, 0)

	for _, instance := range active {
		definition, ok := definitions[instance.DefinitionID]
		if !ok {
			definition, err = e.definitions.Get(ctx, instance.DefinitionID)
			if err != nil {
				e.logger.WarnContext(ctx, "Skipping instance with unreadable definition",
					"instance_id", instance.ID, "definition_id", instance.DefinitionID, "error", err)

				continue
			}

			definitions[instance.DefinitionID] = definition
		}

		step, ok := definition.Step(instance.CurrentStepID)
		if !ok || step.Type != models.StepTypeApproval {
			continue
		}

		if assignees.IsAssigned(step.Config, instance.Data, userID, role) {
			pending = append(pending, instance)
		}
	}

	return pending, nil
}

func (e *Engine) load(ctx context.Context, op, instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, services.NewNotFoundError(op, "instance", instanceID, err)
		}

		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}

	return instance, nil
}

func (e *Engine) currentStep(ctx context.Context, instance *models.WorkflowInstance) (*models.WorkflowDefinition, *models.WorkflowStep, error) {
	definition, err := e.definitions.Get(ctx, instance.DefinitionID)
	if err != nil {
		return nil, nil, err
	}

	step, ok := definition.Step(instance.CurrentStepID)
	if !ok {
		return nil, nil, fmt.Errorf("instance %s is on step %q missing from definition %s",
			instance.ID, instance.CurrentStepID, definition.ID)
	}

	return definition, step, nil
}

// commit stores the processed instance and applies its timer changes. Must hold the instance lock.
func (e *Engine) commit(ctx context.Context, r *run) error {
	r.instance.UpdatedAt = r.now

	if err := e.instances.Save(ctx, r.instance); err != nil {
		return fmt.Errorf("failed to save instance %s: %w", r.instance.ID, err)
	}

	for _, key := range r.cancelTimers {
		e.timers.Cancel(key)
	}

	if r.cancelAll {
		e.timers.CancelInstance(r.instance.ID)
	}

	if r.arm != nil {
		e.schedule(r.arm.key, r.arm.deadline)
	}

	return nil
}

// dispatch delivers the outbox of a committed run. Must not hold the instance lock.
func (e *Engine) dispatch(ctx context.Context, r *run) *Result {
	warnings := r.warnings

	for _, item := range r.outbox {
		if item.event != nil {
			for _, failure := range e.bus.Publish(ctx, *item.event) {
				warnings = append(warnings, Warning{
					Kind:    WarningSubscriber,
					StepID:  item.event.StepID,
					Message: failure.Error(),
				})
			}

			continue
		}

		n := item.notification
		if err := e.notifier.Send(ctx, n.userID, n.template, n.variables, n.meta); err != nil {
			e.logger.WarnContext(ctx, "Notification failed",
				"instance_id", n.meta.InstanceID, "step_id", n.meta.StepID, "recipient", n.userID, "error", err)

			warnings = append(warnings, Warning{
				Kind:    WarningNotification,
				StepID:  n.meta.StepID,
				Message: fmt.Sprintf("failed to notify %s: %v", n.userID, err),
			})
		}
	}

	return &Result{Instance: r.instance.Clone(), Warnings: warnings}
}

// heldSince returns when the instance was put on hold, falling back to now.
func heldSince(instance *models.WorkflowInstance, now time.Time) time.Time {
	for i := len(instance.History) - 1; i >= 0; i-- {
		if instance.History[i].Action == models.HistoryOnHold {
			return instance.History[i].Timestamp
		}
	}

	return now
}

func cloneData(data map[string]any) map[string]any {
	clone := make(map[string]any, len(data))
	for k, v := range data {
		clone[k] = v
	}

	return clone
}

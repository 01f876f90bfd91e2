package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	definitions *services.Definitions
	engine      *workflow.Engine
	store       HealthChecker
	registry    *registry.Registry
	validator   *validator.Validate
}

func NewAPIHandlers(
	definitions *services.Definitions,
	engine *workflow.Engine,
	store HealthChecker,
	registry *registry.Registry,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		engine:      engine,
		store:       store,
		registry:    registry,
		validator:   validator,
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	d := app.Group("/definitions")
	d.Get("/", h.ListDefinitions)
	d.Post("/", h.CreateDefinition)
	d.Get("/:id", h.GetDefinition)
	d.Patch("/:id", h.UpdateDefinition)
	d.Delete("/:id", h.DeleteDefinition)

	i := app.Group("/instances")
	i.Get("/", h.ListInstances)
	i.Post("/", h.StartInstance)
	i.Get("/:id", h.GetInstance)
	i.Post("/:id/steps/:stepId/actions", h.PerformStepAction)
	i.Post("/:id/cancel", h.CancelInstance)
	i.Post("/:id/hold", h.HoldInstance)
	i.Post("/:id/resume", h.ResumeInstance)

	app.Get("/approvals/pending", h.PendingApprovals)
	app.Get("/actions", h.ListActions)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) ListDefinitions(c fiber.Ctx) error {
	filter := services.DefinitionFilter{ModuleID: c.Query("module_id")}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: active must be a boolean")
		}

		filter.Active = &active
	}

	definitions, err := h.definitions.List(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListDefinitionsResponse{Definitions: definitions, TotalCount: len(definitions)})
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var definition models.WorkflowDefinition
	if err := c.Bind().JSON(&definition); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.definitions.Register(c.Context(), &definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	definition, err := h.definitions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	var patch models.DefinitionPatch
	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.definitions.Update(c.Context(), c.Params("id"), patch)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	if err := h.definitions.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	var req StartInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, services.DescribeValidation(err))
	}

	result, err := h.engine.StartWorkflow(c.Context(), req.toEngine())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	filter := persistence.InstanceFilter{
		DefinitionID: c.Query("definition_id"),
		Status:       models.InstanceStatus(c.Query("status")),
		EntityType:   c.Query("entity_type"),
		EntityID:     c.Query("entity_id"),
	}

	instances, err := h.engine.ListInstances(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListInstancesResponse{Instances: instances, TotalCount: len(instances)})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.engine.GetInstance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) PerformStepAction(c fiber.Ctx) error {
	var req StepActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, services.DescribeValidation(err))
	}

	result, err := h.engine.PerformStepAction(c.Context(), req.toEngine(c.Params("id"), c.Params("stepId")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

type lifecycleFunc func(ctx context.Context, id string, req LifecycleRequest) (*workflow.Result, error)

func (h *APIHandlers) lifecycle(c fiber.Ctx, apply lifecycleFunc) error {
	var req LifecycleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, services.DescribeValidation(err))
	}

	result, err := apply(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	return h.lifecycle(c, func(ctx context.Context, id string, req LifecycleRequest) (*workflow.Result, error) {
		return h.engine.CancelWorkflow(ctx, id, req.PerformedBy, req.Reason)
	})
}

func (h *APIHandlers) HoldInstance(c fiber.Ctx) error {
	return h.lifecycle(c, func(ctx context.Context, id string, req LifecycleRequest) (*workflow.Result, error) {
		return h.engine.HoldWorkflow(ctx, id, req.PerformedBy, req.Reason)
	})
}

func (h *APIHandlers) ResumeInstance(c fiber.Ctx) error {
	return h.lifecycle(c, func(ctx context.Context, id string, req LifecycleRequest) (*workflow.Result, error) {
		return h.engine.ResumeWorkflow(ctx, id, req.PerformedBy)
	})
}

func (h *APIHandlers) PendingApprovals(c fiber.Ctx) error {
	instances, err := h.engine.GetPendingApprovalsForUser(c.Context(), c.Query("user_id"), c.Query("role"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListInstancesResponse{Instances: instances, TotalCount: len(instances)})
}

func (h *APIHandlers) ListActions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"actions": h.registry.Components(),
		"types":   h.registry.Types(),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "procflow API is healthy"
	httpStatus := http.StatusOK
	storeCheck := "ok"

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "procflow API is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		storeCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": storeCheck,
			"actions":     len(h.registry.Types()),
			"timers":      h.engine.PendingTimers(),
		},
		"timestamp": time.Now().UTC(),
	})
}

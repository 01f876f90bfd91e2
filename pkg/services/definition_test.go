package services

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDefinitions(t *testing.T) (*Definitions, *file.Persistence, *clockwork.FakeClock) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewDefinitions(p, clock, logger), p, clock
}

func TestDefinitions_Register(t *testing.T) {
	definitions, _, clock := newTestDefinitions(t)

	definition := testutil.CreateTestDefinition(testutil.WithID("leave-request"))

	created, err := definitions.Register(t.Context(), definition)
	require.NoError(t, err)
	assert.Equal(t, "leave-request", created.ID)
	assert.Equal(t, clock.Now().UTC(), created.CreatedAt)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := definitions.Get(t.Context(), "leave-request")
	require.NoError(t, err)
	assert.Equal(t, definition.Name, got.Name)

	_, err = definitions.Register(t.Context(), definition)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.ErrorIs(t, err, ErrDefinitionExists)
}

func TestDefinitions_RegisterValidation(t *testing.T) {
	tests := []struct {
		name       string
		definition *models.WorkflowDefinition
		contains   string
	}{
		{
			name:       "nil definition",
			definition: nil,
			contains:   "required",
		},
		{
			name:       "missing id",
			definition: testutil.CreateTestDefinition(testutil.WithID("")),
			contains:   "ID",
		},
		{
			name: "missing name",
			definition: testutil.CreateTestDefinition(func(d *models.WorkflowDefinition) {
				d.Name = ""
			}),
			contains: "Name",
		},
		{
			name:       "no steps",
			definition: testutil.CreateTestDefinition(testutil.WithSteps()),
			contains:   "Steps",
		},
		{
			name: "duplicate step ids",
			definition: testutil.CreateTestDefinition(testutil.WithSteps(
				testutil.CreateTestStep("a", models.StepTypeTask),
				testutil.CreateTestStep("a", models.StepTypeTask),
			)),
			contains: "more than once",
		},
		{
			name: "unknown step type",
			definition: testutil.CreateTestDefinition(testutil.WithSteps(
				testutil.CreateTestStep("a", models.StepType("script")),
			)),
			contains: "Type",
		},
		{
			name: "unknown assignee type",
			definition: testutil.CreateTestDefinition(testutil.WithSteps(
				testutil.CreateTestStep("a", models.StepTypeTask, testutil.WithAssignee(models.AssigneeType("group"), "g")),
			)),
			contains: "AssigneeType",
		},
		{
			name: "unknown condition operator",
			definition: testutil.CreateTestDefinition(testutil.WithSteps(
				testutil.CreateTestStep("a", models.StepTypeTask, testutil.WithCondition("x", models.ConditionOperator("like"), "y")),
			)),
			contains: "Operator",
		},
		{
			name: "dangling next step",
			definition: testutil.CreateTestDefinition(testutil.WithSteps(
				testutil.CreateTestStep("a", models.StepTypeTask, testutil.WithNext("missing")),
			)),
			contains: `unknown step "missing"`,
		},
		{
			name: "dangling reject step",
			definition: testutil.CreateTestDefinition(testutil.WithSteps(
				testutil.CreateTestStep("a", models.StepTypeApproval, testutil.WithOnReject("missing")),
			)),
			contains: "on_reject_step_id",
		},
		{
			name: "auto-advance cycle",
			definition: testutil.CreateTestDefinition(testutil.WithSteps(
				testutil.CreateTestStep("start", models.StepTypeTask, testutil.WithNext("n1")),
				testutil.CreateTestStep("n1", models.StepTypeNotification, testutil.WithNext("a1")),
				testutil.CreateTestStep("a1", models.StepTypeAction, testutil.WithNext("n1")),
			)),
			contains: "n1 -> a1 -> n1",
		},
		{
			name: "invalid data schema",
			definition: testutil.CreateTestDefinition(testutil.WithDataSchema(map[string]any{
				"type": "no-such-type",
			})),
			contains: "data_schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			definitions, _, _ := newTestDefinitions(t)

			_, err := definitions.Register(t.Context(), tt.definition)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestDefinitions_ConditionalCycleIsAllowed(t *testing.T) {
	definitions, _, _ := newTestDefinitions(t)

	definition := testutil.CreateTestDefinition(testutil.WithSteps(
		testutil.CreateTestStep("review", models.StepTypeApproval, testutil.WithNext("notify"), testutil.WithOnReject("rework")),
		testutil.CreateTestStep("rework", models.StepTypeTask, testutil.WithNext("review")),
		testutil.CreateTestStep("notify", models.StepTypeNotification,
			testutil.WithCondition("notify", models.OperatorEq, true), testutil.WithNext("log")),
		testutil.CreateTestStep("log", models.StepTypeAction, testutil.WithNext("notify")),
	))

	_, err := definitions.Register(t.Context(), definition)
	assert.NoError(t, err)
}

func TestDefinitions_Update(t *testing.T) {
	definitions, _, clock := newTestDefinitions(t)

	_, err := definitions.Register(t.Context(), testutil.CreateTestDefinition(testutil.WithID("expense")))
	require.NoError(t, err)

	clock.Advance(time.Hour)

	name := "Expense claim"
	inactive := false

	updated, err := definitions.Update(t.Context(), "expense", models.DefinitionPatch{Name: &name, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Expense claim", updated.Name)
	assert.False(t, updated.IsActive)
	assert.Equal(t, clock.Now().UTC(), updated.UpdatedAt)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	assert.Len(t, updated.Steps, 1, "steps are kept when the patch omits them")

	// a patch that breaks referential integrity is rejected and nothing is stored
	_, err = definitions.Update(t.Context(), "expense", models.DefinitionPatch{Steps: []*models.WorkflowStep{
		testutil.CreateTestStep("a", models.StepTypeTask, testutil.WithNext("ghost")),
	}})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	stored, err := definitions.Get(t.Context(), "expense")
	require.NoError(t, err)
	assert.Equal(t, "approve", stored.Steps[0].ID)

	_, err = definitions.Update(t.Context(), "unknown", models.DefinitionPatch{Name: &name})
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestDefinitions_UpdateKeepsCurrentSteps(t *testing.T) {
	definitions, p, _ := newTestDefinitions(t)
	ctx := t.Context()

	_, err := definitions.Register(ctx, testutil.CreateTestDefinition(testutil.WithID("expense")))
	require.NoError(t, err)

	require.NoError(t, p.InstanceRepository().Save(ctx, &models.WorkflowInstance{
		ID: "i-1", DefinitionID: "expense", Status: models.InstanceStatusActive, CurrentStepID: "approve",
	}))
	require.NoError(t, p.InstanceRepository().Save(ctx, &models.WorkflowInstance{
		ID: "i-2", DefinitionID: "expense", Status: models.InstanceStatusCompleted, CurrentStepID: "retired",
	}))

	onlyReview := []*models.WorkflowStep{
		testutil.CreateTestStep("review", models.StepTypeTask),
	}

	_, err = definitions.Update(ctx, "expense", models.DefinitionPatch{Steps: onlyReview})
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.ErrorIs(t, err, ErrStepInUse)

	stored, err := definitions.Get(ctx, "expense")
	require.NoError(t, err)
	require.Len(t, stored.Steps, 1)
	assert.Equal(t, "approve", stored.Steps[0].ID)

	updated, err := definitions.Update(ctx, "expense", models.DefinitionPatch{Steps: []*models.WorkflowStep{
		testutil.CreateTestStep("approve", models.StepTypeApproval,
			testutil.WithAssignee(models.AssigneeTypeUser, "manager-1"), testutil.WithNext("review")),
		testutil.CreateTestStep("review", models.StepTypeTask),
	}})
	require.NoError(t, err, "steps may change while the current ones are kept")
	assert.Len(t, updated.Steps, 2)

	require.NoError(t, p.InstanceRepository().Save(ctx, &models.WorkflowInstance{
		ID: "i-1", DefinitionID: "expense", Status: models.InstanceStatusCancelled, CurrentStepID: "approve",
	}))

	updated, err = definitions.Update(ctx, "expense", models.DefinitionPatch{Steps: onlyReview})
	require.NoError(t, err)
	assert.Equal(t, "review", updated.Steps[0].ID)
}

func TestDefinitions_Delete(t *testing.T) {
	definitions, p, _ := newTestDefinitions(t)
	ctx := t.Context()

	_, err := definitions.Register(ctx, testutil.CreateTestDefinition(testutil.WithID("leave")))
	require.NoError(t, err)

	require.NoError(t, p.InstanceRepository().Save(ctx, &models.WorkflowInstance{
		ID: "i-1", DefinitionID: "leave", Status: models.InstanceStatusOnHold,
	}))
	require.NoError(t, p.InstanceRepository().Save(ctx, &models.WorkflowInstance{
		ID: "i-2", DefinitionID: "leave", Status: models.InstanceStatusCompleted,
	}))

	err = definitions.Delete(ctx, "leave")
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.ErrorIs(t, err, ErrDefinitionInUse)

	require.NoError(t, p.InstanceRepository().Save(ctx, &models.WorkflowInstance{
		ID: "i-1", DefinitionID: "leave", Status: models.InstanceStatusCancelled,
	}))

	require.NoError(t, definitions.Delete(ctx, "leave"))

	_, err = definitions.Get(ctx, "leave")
	assert.True(t, IsNotFoundError(err))

	err = definitions.Delete(ctx, "leave")
	assert.True(t, IsNotFoundError(err))
}

func TestDefinitions_List(t *testing.T) {
	definitions, _, clock := newTestDefinitions(t)
	ctx := t.Context()

	for _, definition := range []*models.WorkflowDefinition{
		testutil.CreateTestDefinition(testutil.WithID("a"), testutil.WithModule("hr")),
		testutil.CreateTestDefinition(testutil.WithID("b"), testutil.WithModule("hr"), testutil.WithInactive()),
		testutil.CreateTestDefinition(testutil.WithID("c"), testutil.WithModule("finance")),
	} {
		_, err := definitions.Register(ctx, definition)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	all, err := definitions.List(ctx, DefinitionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hr, err := definitions.List(ctx, DefinitionFilter{ModuleID: "hr"})
	require.NoError(t, err)
	assert.Len(t, hr, 2)

	active := true

	activeHR, err := definitions.List(ctx, DefinitionFilter{ModuleID: "hr", Active: &active})
	require.NoError(t, err)
	require.Len(t, activeHR, 1)
	assert.Equal(t, "a", activeHR[0].ID)
}

func TestDefinitions_ConcurrentRegisterSameID(t *testing.T) {
	definitions, _, _ := newTestDefinitions(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := definitions.Register(t.Context(), testutil.CreateTestDefinition(testutil.WithID("race")))

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				succeeded++
			} else if IsConflictError(err) {
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, conflicts)
}

func TestValidateData(t *testing.T) {
	definition := testutil.CreateTestDefinition(testutil.WithDataSchema(map[string]any{
		"type":     "object",
		"required": []any{"days"},
		"properties": map[string]any{
			"days": map[string]any{"type": "number", "minimum": 1},
		},
	}))

	require.NoError(t, ValidateData(definition, map[string]any{"days": 3}))

	err := ValidateData(definition, map[string]any{"days": 0})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	err = ValidateData(definition, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "days")

	assert.NoError(t, ValidateData(testutil.CreateTestDefinition(), nil), "no schema accepts anything")
}

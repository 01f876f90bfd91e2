package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestStepAction_HistoryAction(t *testing.T) {
	tests := []struct {
		action StepAction
		want   HistoryAction
		valid  bool
	}{
		{ActionApprove, HistoryApproved, true},
		{ActionReject, HistoryRejected, true},
		{ActionComplete, HistoryCompleted, true},
		{ActionSkip, HistorySkipped, true},
		{"escalate", HistoryCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.action.HistoryAction())
			assert.Equal(t, tt.valid, tt.action.Valid())
		})
	}
}

func TestInstanceStatus_IsTerminal(t *testing.T) {
	assert.False(t, InstanceStatusActive.IsTerminal())
	assert.False(t, InstanceStatusOnHold.IsTerminal())
	assert.True(t, InstanceStatusCompleted.IsTerminal())
	assert.True(t, InstanceStatusCancelled.IsTerminal())
}

func TestWorkflowInstance_CloneIsIndependent(t *testing.T) {
	deadline := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	original := &WorkflowInstance{
		ID:        "i-1",
		Data:      map[string]any{"amount": 120},
		History:   []*WorkflowHistoryEntry{{StepID: "a", Action: HistoryStarted}},
		TimeoutAt: &deadline,
	}

	clone := original.Clone()
	clone.Data["amount"] = 500
	clone.AppendHistory(&WorkflowHistoryEntry{StepID: "a", Action: HistoryApproved})
	*clone.TimeoutAt = deadline.Add(time.Hour)

	assert.Equal(t, 120, original.Data["amount"])
	assert.Len(t, original.History, 1)
	assert.Equal(t, deadline, *original.TimeoutAt)

	assert.Nil(t, (*WorkflowInstance)(nil).Clone())
	assert.NotNil(t, (&WorkflowInstance{}).Clone().Data)
}

func TestWorkflowInstance_MergeData(t *testing.T) {
	instance := &WorkflowInstance{}
	instance.MergeData(nil)
	assert.Nil(t, instance.Data)

	instance.MergeData(map[string]any{"a": 1, "b": 2})
	instance.MergeData(map[string]any{"b": 3})

	assert.Equal(t, map[string]any{"a": 1, "b": 3}, instance.Data)
}

func TestWorkflowDefinition_EntryStep(t *testing.T) {
	definition := &WorkflowDefinition{Steps: []*WorkflowStep{
		{ID: "second", Order: 2},
		{ID: "first", Order: 1},
	}}
	assert.Equal(t, "first", definition.EntryStep().ID)

	unordered := &WorkflowDefinition{Steps: []*WorkflowStep{{ID: "x"}, {ID: "y"}}}
	assert.Equal(t, "x", unordered.EntryStep().ID)

	assert.Nil(t, (&WorkflowDefinition{}).EntryStep())

	step, ok := definition.Step("second")
	require.True(t, ok)
	assert.Equal(t, 2, step.Order)

	_, ok = definition.Step("missing")
	assert.False(t, ok)
}

func TestDefinitionPatch_Apply(t *testing.T) {
	original := &WorkflowDefinition{
		ID:       "expense",
		Name:     "Expense",
		ModuleID: "finance",
		IsActive: true,
		Steps: []*WorkflowStep{{
			ID: "review", Name: "Review", Type: StepTypeApproval, NextStepID: ptr("pay"),
			Config: StepConfig{ActionPayload: map[string]any{"k": "v"}},
		}},
	}

	merged := DefinitionPatch{Name: ptr("Expense claim"), IsActive: ptr(false)}.Apply(original)

	assert.Equal(t, "Expense claim", merged.Name)
	assert.False(t, merged.IsActive)
	assert.Equal(t, "finance", merged.ModuleID)
	require.Len(t, merged.Steps, 1)

	merged.Steps[0].Config.ActionPayload["k"] = "changed"
	*merged.Steps[0].NextStepID = "other"

	assert.Equal(t, "Expense", original.Name)
	assert.True(t, original.IsActive)
	assert.Equal(t, "v", original.Steps[0].Config.ActionPayload["k"])
	assert.Equal(t, "pay", original.Steps[0].Next())
}

func TestStepConfig_HasAssignee(t *testing.T) {
	assert.True(t, StepConfig{AssigneeType: AssigneeTypeUser, AssigneeID: "u-1"}.HasAssignee())
	assert.True(t, StepConfig{AssigneeType: AssigneeTypeRole, AssigneeID: "finance"}.HasAssignee())
	assert.True(t, StepConfig{AssigneeType: AssigneeTypeDynamic, AssigneeField: "manager_id"}.HasAssignee())
	assert.False(t, StepConfig{AssigneeType: AssigneeTypeDynamic}.HasAssignee())
	assert.False(t, StepConfig{}.HasAssignee())
}

func TestWorkflowStep_Edges(t *testing.T) {
	var step WorkflowStep
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","name":"A","type":"approval","on_reject_step_id":"z"}`), &step))

	assert.Empty(t, step.Next())
	assert.Equal(t, "z", step.OnReject())
	assert.True(t, step.Type.Suspends())
	assert.False(t, StepTypeNotification.Suspends())
}

package assignees

import (
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultResolver_Resolve(t *testing.T) {
	directory := NewStaticDirectory(map[string][]string{
		"hr": {"u-hr-1", "u-hr-2"},
	})
	resolver := NewResolver(directory)

	data := map[string]any{
		"manager":   "u-42",
		"reviewers": []any{"u-1", "u-2"},
		"employee":  map[string]any{"manager": map[string]any{"id": "u-7"}},
		"count":     3,
	}

	tests := []struct {
		name     string
		config   models.StepConfig
		expected []string
		wantErr  bool
	}{
		{"no assignee", models.StepConfig{}, nil, false},
		{"user", models.StepConfig{AssigneeType: models.AssigneeTypeUser, AssigneeID: "u-1"}, []string{"u-1"}, false},
		{"role", models.StepConfig{AssigneeType: models.AssigneeTypeRole, AssigneeID: "hr"}, []string{"u-hr-1", "u-hr-2"}, false},
		{"unknown role", models.StepConfig{AssigneeType: models.AssigneeTypeRole, AssigneeID: "legal"}, nil, false},
		{"dynamic string", models.StepConfig{AssigneeType: models.AssigneeTypeDynamic, AssigneeField: "manager"}, []string{"u-42"}, false},
		{"dynamic nested", models.StepConfig{AssigneeType: models.AssigneeTypeDynamic, AssigneeField: "employee.manager.id"}, []string{"u-7"}, false},
		{"dynamic list", models.StepConfig{AssigneeType: models.AssigneeTypeDynamic, AssigneeField: "reviewers"}, []string{"u-1", "u-2"}, false},
		{"dynamic missing", models.StepConfig{AssigneeType: models.AssigneeTypeDynamic, AssigneeField: "approver"}, nil, true},
		{"dynamic wrong type", models.StepConfig{AssigneeType: models.AssigneeTypeDynamic, AssigneeField: "count"}, nil, true},
		{"unknown type", models.StepConfig{AssigneeType: "group", AssigneeID: "x"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := resolver.Resolve(tt.config, data)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, users)
		})
	}
}

func TestStaticDirectory_IsolatesCallers(t *testing.T) {
	members := []string{"a"}
	directory := NewStaticDirectory(map[string][]string{"ops": members})

	members[0] = "changed"
	assert.Equal(t, []string{"a"}, directory.Members("ops"))

	got := directory.Members("ops")
	got[0] = "changed"
	assert.Equal(t, []string{"a"}, directory.Members("ops"))

	directory.SetMembers("ops", []string{"b", "c"})
	assert.Equal(t, []string{"b", "c"}, directory.Members("ops"))
}

func TestNewResolver_NilDirectory(t *testing.T) {
	users, err := NewResolver(nil).Resolve(models.StepConfig{AssigneeType: models.AssigneeTypeRole, AssigneeID: "hr"}, nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestIsAssigned(t *testing.T) {
	data := map[string]any{"approver": "u-9", "panel": []any{"u-1", "u-2"}}

	user := models.StepConfig{AssigneeType: models.AssigneeTypeUser, AssigneeID: "u-1"}
	role := models.StepConfig{AssigneeType: models.AssigneeTypeRole, AssigneeID: "finance"}
	dynamic := models.StepConfig{AssigneeType: models.AssigneeTypeDynamic, AssigneeField: "approver"}
	panel := models.StepConfig{AssigneeType: models.AssigneeTypeDynamic, AssigneeField: "panel"}

	assert.True(t, IsAssigned(user, data, "u-1", ""))
	assert.False(t, IsAssigned(user, data, "u-2", "finance"))
	assert.True(t, IsAssigned(role, data, "anyone", "finance"))
	assert.False(t, IsAssigned(role, data, "u-1", ""))
	assert.True(t, IsAssigned(dynamic, data, "u-9", ""))
	assert.False(t, IsAssigned(dynamic, data, "u-1", ""))
	assert.True(t, IsAssigned(panel, data, "u-2", ""))
	assert.False(t, IsAssigned(models.StepConfig{}, data, "u-1", "finance"))
}

// Package assignees resolves the actor responsible for a suspended step.
package assignees

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dukex/procflow/pkg/conditions"
	"github.com/dukex/procflow/pkg/models"
)

// Resolver maps a step configuration to concrete user ids.
type Resolver interface {
	Resolve(config models.StepConfig, data map[string]any) ([]string, error)
}

// RoleDirectory lists the members of a role. Lookups must not block.
type RoleDirectory interface {
	Members(role string) []string
}

// StaticDirectory is an in-memory role directory.
type StaticDirectory struct {
	mu    sync.RWMutex
	roles map[string][]string
}

func NewStaticDirectory(roles map[string][]string) *StaticDirectory {
	directory := &StaticDirectory{roles: make(map[string][]string, len(roles))}
	for role, members := range roles {
		directory.roles[role] = slices.Clone(members)
	}

	return directory
}

func (d *StaticDirectory) Members(role string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return slices.Clone(d.roles[role])
}

// SetMembers replaces the members of role.
func (d *StaticDirectory) SetMembers(role string, members []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roles[role] = slices.Clone(members)
}

// DefaultResolver resolves user assignees to themselves, roles through a
// directory and dynamic assignees from a dot-path of the instance data.
type DefaultResolver struct {
	directory RoleDirectory
}

// NewResolver creates a resolver. A nil directory resolves every role to no users.
func NewResolver(directory RoleDirectory) *DefaultResolver {
	if directory == nil {
		directory = NewStaticDirectory(nil)
	}

	return &DefaultResolver{directory: directory}
}

// Resolve returns the users assigned to the step. A config without an assignee yields none.
func (r *DefaultResolver) Resolve(config models.StepConfig, data map[string]any) ([]string, error) {
	switch config.AssigneeType {
	case "":
		return nil, nil
	case models.AssigneeTypeUser:
		if config.AssigneeID == "" {
			return nil, nil
		}

		return []string{config.AssigneeID}, nil
	case models.AssigneeTypeRole:
		return r.directory.Members(config.AssigneeID), nil
	case models.AssigneeTypeDynamic:
		value, ok := conditions.Resolve(data, config.AssigneeField)
		if !ok {
			return nil, fmt.Errorf("assignee field %q is not set", config.AssigneeField)
		}

		return dynamicUsers(config.AssigneeField, value)
	default:
		return nil, fmt.Errorf("unknown assignee type %q", config.AssigneeType)
	}
}

func dynamicUsers(field string, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("assignee field %q is empty", field)
		}

		return []string{v}, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		users := make([]string, 0, len(v))

		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("assignee field %q holds a non-string value", field)
			}

			users = append(users, s)
		}

		return users, nil
	default:
		return nil, fmt.Errorf("assignee field %q holds a %T, want a user id", field, value)
	}
}

// IsAssigned reports whether userID (or role) is an assignee of the step.
// Roles match by name so pending approvals can be listed without a directory lookup.
func IsAssigned(config models.StepConfig, data map[string]any, userID, role string) bool {
	switch config.AssigneeType {
	case models.AssigneeTypeUser:
		return userID != "" && config.AssigneeID == userID
	case models.AssigneeTypeRole:
		return role != "" && config.AssigneeID == role
	case models.AssigneeTypeDynamic:
		value, ok := conditions.Resolve(data, config.AssigneeField)
		if !ok || userID == "" {
			return false
		}

		users, err := dynamicUsers(config.AssigneeField, value)

		return err == nil && slices.Contains(users, userID)
	default:
		return false
	}
}

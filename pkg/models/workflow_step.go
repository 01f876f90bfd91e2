package models

import "maps"

// StepType identifies the semantics of a workflow step.
type StepType string

const (
	StepTypeApproval     StepType = "approval"     // Suspends until approved or rejected
	StepTypeTask         StepType = "task"         // Suspends until completed
	StepTypeNotification StepType = "notification" // Fires a notification and auto-advances
	StepTypeAction       StepType = "action"       // Invokes a registered handler and auto-advances
	StepTypeCondition    StepType = "condition"    // Routes on instance data without waiting
)

// Suspends reports whether the step waits for an external actor.
func (t StepType) Suspends() bool {
	return t == StepTypeApproval || t == StepTypeTask
}

// AssigneeType describes how the actor of a step is resolved.
type AssigneeType string

const (
	AssigneeTypeUser    AssigneeType = "user"
	AssigneeTypeRole    AssigneeType = "role"
	AssigneeTypeDynamic AssigneeType = "dynamic" // Read from a field of the instance data
)

// WorkflowStep is a typed unit of work or decision within a definition.
type WorkflowStep struct {
	ID             string               `json:"id"                          validate:"required"`
	Name           string               `json:"name"                        validate:"required"`
	Order          int                  `json:"order"                       validate:"min=0"`
	Type           StepType             `json:"type"                        validate:"required,oneof=approval task notification action condition"`
	Config         StepConfig           `json:"config"`
	Conditions     []*WorkflowCondition `json:"conditions,omitempty"        validate:"dive,required"`
	NextStepID     *string              `json:"next_step_id,omitempty"`
	OnRejectStepID *string              `json:"on_reject_step_id,omitempty"`
}

// StepConfig holds the type specific configuration of a step.
type StepConfig struct {
	AssigneeType         AssigneeType   `json:"assignee_type,omitempty"         validate:"omitempty,oneof=user role dynamic"`
	AssigneeID           string         `json:"assignee_id,omitempty"`
	AssigneeField        string         `json:"assignee_field,omitempty"`
	AutoApprove          bool           `json:"auto_approve,omitempty"`
	TimeoutHours         float64        `json:"timeout_hours,omitempty"         validate:"min=0"`
	NotificationTemplate string         `json:"notification_template,omitempty"`
	ActionType           string         `json:"action_type,omitempty"`
	ActionPayload        map[string]any `json:"action_payload,omitempty"`
}

// HasAssignee reports whether the config names an assignee.
func (c StepConfig) HasAssignee() bool {
	switch c.AssigneeType {
	case AssigneeTypeUser, AssigneeTypeRole:
		return c.AssigneeID != ""
	case AssigneeTypeDynamic:
		return c.AssigneeField != ""
	default:
		return false
	}
}

// Clone copies the step including its condition list and payload.
func (s *WorkflowStep) Clone() *WorkflowStep {
	if s == nil {
		return nil
	}

	clone := *s

	if s.Conditions != nil {
		clone.Conditions = make([]*WorkflowCondition, 0, len(s.Conditions))
		for _, c := range s.Conditions {
			cc := *c
			clone.Conditions = append(clone.Conditions, &cc)
		}
	}

	if s.Config.ActionPayload != nil {
		clone.Config.ActionPayload = maps.Clone(s.Config.ActionPayload)
	}

	if s.NextStepID != nil {
		next := *s.NextStepID
		clone.NextStepID = &next
	}

	if s.OnRejectStepID != nil {
		onReject := *s.OnRejectStepID
		clone.OnRejectStepID = &onReject
	}

	return &clone
}

// Next returns the forward edge or an empty string.
func (s *WorkflowStep) Next() string {
	if s.NextStepID == nil {
		return ""
	}

	return *s.NextStepID
}

// OnReject returns the reject edge or an empty string.
func (s *WorkflowStep) OnReject() string {
	if s.OnRejectStepID == nil {
		return ""
	}

	return *s.OnRejectStepID
}

package models

import (
	"maps"
	"time"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusOnHold    InstanceStatus = "on_hold"
	InstanceStatusCompleted InstanceStatus = "completed" // Terminal
	InstanceStatusCancelled InstanceStatus = "cancelled" // Terminal
)

// IsTerminal reports whether no further transitions are accepted.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled
}

// HistoryAction is the verb recorded by a history entry.
type HistoryAction string

const (
	HistoryStarted   HistoryAction = "started"
	HistoryApproved  HistoryAction = "approved"
	HistoryRejected  HistoryAction = "rejected"
	HistorySkipped   HistoryAction = "skipped"
	HistoryCompleted HistoryAction = "completed"
	HistoryTimeout   HistoryAction = "timeout"
	HistoryCancelled HistoryAction = "cancelled"
	HistoryOnHold    HistoryAction = "on_hold"
	HistoryResumed   HistoryAction = "resumed"
)

// StepAction is an action an external actor performs on a suspended step.
type StepAction string

const (
	ActionApprove  StepAction = "approve"
	ActionReject   StepAction = "reject"
	ActionComplete StepAction = "complete"
	ActionSkip     StepAction = "skip"
)

// HistoryAction maps a step action to the verb stored in the history.
func (a StepAction) HistoryAction() HistoryAction {
	switch a {
	case ActionApprove:
		return HistoryApproved
	case ActionReject:
		return HistoryRejected
	case ActionSkip:
		return HistorySkipped
	default:
		return HistoryCompleted
	}
}

// Valid reports whether the action is one of the known step actions.
func (a StepAction) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionComplete, ActionSkip:
		return true
	default:
		return false
	}
}

// WorkflowHistoryEntry is an immutable record of one action taken against one step.
type WorkflowHistoryEntry struct {
	StepID      string        `json:"step_id"`
	StepName    string        `json:"step_name"`
	Action      HistoryAction `json:"action"`
	PerformedBy string        `json:"performed_by"`
	Comment     string        `json:"comment,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// WorkflowInstance is one running execution of a definition bound to a business entity.
type WorkflowInstance struct {
	ID            string                  `json:"id"`
	DefinitionID  string                  `json:"definition_id"`
	EntityType    string                  `json:"entity_type"`
	EntityID      string                  `json:"entity_id"`
	Status        InstanceStatus          `json:"status"`
	CurrentStepID string                  `json:"current_step_id"`
	Data          map[string]any          `json:"data"`
	History       []*WorkflowHistoryEntry `json:"history"`
	StartedBy     string                  `json:"started_by"`
	StartedAt     time.Time               `json:"started_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	TimeoutAt     *time.Time              `json:"timeout_at,omitempty"` // Deadline of the current step timer
}

// AppendHistory adds an entry at the end of the history.
func (i *WorkflowInstance) AppendHistory(entry *WorkflowHistoryEntry) {
	i.History = append(i.History, entry)
}

// MergeData shallow-merges values into the data bag; later writes win.
func (i *WorkflowInstance) MergeData(values map[string]any) {
	if len(values) == 0 {
		return
	}

	if i.Data == nil {
		i.Data = make(map[string]any, len(values))
	}

	maps.Copy(i.Data, values)
}

// Clone returns a copy whose data bag and history can be mutated independently.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}

	clone := *i
	clone.Data = maps.Clone(i.Data)

	if clone.Data == nil {
		clone.Data = make(map[string]any)
	}

	clone.History = make([]*WorkflowHistoryEntry, len(i.History))
	copy(clone.History, i.History)

	if i.CompletedAt != nil {
		completedAt := *i.CompletedAt
		clone.CompletedAt = &completedAt
	}

	if i.TimeoutAt != nil {
		timeoutAt := *i.TimeoutAt
		clone.TimeoutAt = &timeoutAt
	}

	return &clone
}

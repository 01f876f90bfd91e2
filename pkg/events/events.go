// Package events defines the lifecycle events published by the workflow engine.
package events

import (
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the watermill topic lifecycle events are relayed to.
const Topic = "procflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowStarted       EventType = "workflow.started"
	WorkflowStepCompleted EventType = "workflow.step_completed"
	WorkflowStepRejected  EventType = "workflow.step_rejected"
	WorkflowStepSkipped   EventType = "workflow.step_skipped"
	WorkflowCompleted     EventType = "workflow.completed"
	WorkflowCancelled     EventType = "workflow.cancelled"
	WorkflowOnHold        EventType = "workflow.on_hold"
	WorkflowResumed       EventType = "workflow.resumed"
	WorkflowTimeout       EventType = "workflow.timeout"
)

var types = []EventType{
	WorkflowStarted,
	WorkflowStepCompleted,
	WorkflowStepRejected,
	WorkflowStepSkipped,
	WorkflowCompleted,
	WorkflowCancelled,
	WorkflowOnHold,
	WorkflowResumed,
	WorkflowTimeout,
}

// Types lists every event type in lifecycle order.
func Types() []EventType {
	return append([]EventType(nil), types...)
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range types {
		if known == t {
			return true
		}
	}

	return false
}

// Event is a snapshot of an instance taken right after a lifecycle transition
// (right before, for workflow.started).
type Event struct {
	ID           string                `json:"id"`
	Type         EventType             `json:"type"`
	Timestamp    time.Time             `json:"timestamp"`
	InstanceID   string                `json:"instance_id"`
	DefinitionID string                `json:"definition_id"`
	EntityType   string                `json:"entity_type"`
	EntityID     string                `json:"entity_id"`
	Status       models.InstanceStatus `json:"status"`
	StepID       string                `json:"step_id,omitempty"`
	StepName     string                `json:"step_name,omitempty"`
	PerformedBy  string                `json:"performed_by,omitempty"`
	Comment      string                `json:"comment,omitempty"`
	Metadata     map[string]any        `json:"metadata,omitempty"`
}

func (e Event) GetType() EventType {
	return e.Type
}

// Key partitions relayed events so every event of an instance keeps its order.
func (e Event) Key() string {
	return e.InstanceID
}

// New builds an event of eventType describing instance at time at.
func New(eventType EventType, instance *models.WorkflowInstance, at time.Time) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    at,
		InstanceID:   instance.ID,
		DefinitionID: instance.DefinitionID,
		EntityType:   instance.EntityType,
		EntityID:     instance.EntityID,
		Status:       instance.Status,
	}
}

// ForStep fills the step and actor fields.
func (e Event) ForStep(step *models.WorkflowStep, performedBy, comment string) Event {
	if step != nil {
		e.StepID = step.ID
		e.StepName = step.Name
	}

	e.PerformedBy = performedBy
	e.Comment = comment

	return e
}

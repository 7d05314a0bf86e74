// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the watermill topic every engine event is published on.
const Topic = "weave.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Definition lifecycle events.
	WorkflowCreatedEvent     EventType = "workflow:created"
	WorkflowUpdatedEvent     EventType = "workflow:updated"
	WorkflowDeletedEvent     EventType = "workflow:deleted"
	WorkflowActivatedEvent   EventType = "workflow:activated"
	WorkflowDeactivatedEvent EventType = "workflow:deactivated"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution:started"
	ExecutionCompletedEvent EventType = "execution:completed"
	ExecutionFailedEvent    EventType = "execution:failed"
	ExecutionCancelledEvent EventType = "execution:cancelled"
	ExecutionPausedEvent    EventType = "execution:paused"
	ExecutionResumedEvent   EventType = "execution:resumed"

	// Node lifecycle events.
	NodeStartedEvent   EventType = "node:started"
	NodeCompletedEvent EventType = "node:completed"
	NodeFailedEvent    EventType = "node:failed"
	NodeSkippedEvent   EventType = "node:skipped"
	NodeRetryEvent     EventType = "node:retry"

	TriggerFiredEvent  EventType = "trigger:fired"
	WorkflowErrorEvent EventType = "workflow:error"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (b BaseEvent) GetType() EventType {
	return b.Type
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// WorkflowChanged is emitted for every definition lifecycle event.
type WorkflowChanged struct {
	BaseEvent

	Name    string `json:"name"`
	Version string `json:"version"`
}

// ExecutionChanged is emitted for every execution lifecycle event.
type ExecutionChanged struct {
	BaseEvent

	ExecutionID   string        `json:"execution_id"`
	Status        string        `json:"status"`
	TriggeredBy   string        `json:"triggered_by,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	NodesExecuted int           `json:"nodes_executed"`
}

// NodeChanged is emitted for every node lifecycle event.
type NodeChanged struct {
	BaseEvent

	ExecutionID     string        `json:"execution_id"`
	NodeID          string        `json:"node_id"`
	NodeType        string        `json:"node_type"`
	NodeExecutionID string        `json:"node_execution_id,omitempty"`
	Attempt         int           `json:"attempt,omitempty"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
}

type TriggerFired struct {
	BaseEvent

	TriggerID   string `json:"trigger_id"`
	TriggerType string `json:"trigger_type"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// WorkflowError reports a fault that has no caller to return to, such as a failed
// scheduled submit or a panic recovered during dispatch.
type WorkflowError struct {
	BaseEvent

	ExecutionID string `json:"execution_id,omitempty"`
	Source      string `json:"source"`
	Error       string `json:"error"`
}

func NewWorkflowChanged(eventType EventType, workflowID, name, version string) WorkflowChanged {
	return WorkflowChanged{
		BaseEvent: NewBaseEvent(eventType, workflowID),
		Name:      name,
		Version:   version,
	}
}

func NewWorkflowError(workflowID, executionID, source string, err error) WorkflowError {
	return WorkflowError{
		BaseEvent:   NewBaseEvent(WorkflowErrorEvent, workflowID),
		ExecutionID: executionID,
		Source:      source,
		Error:       err.Error(),
	}
}

// New returns an empty value of the concrete event struct carried by eventType, ready
// to be unmarshalled into. It returns nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case WorkflowCreatedEvent, WorkflowUpdatedEvent, WorkflowDeletedEvent,
		WorkflowActivatedEvent, WorkflowDeactivatedEvent:
		return &WorkflowChanged{}
	case ExecutionStartedEvent, ExecutionCompletedEvent, ExecutionFailedEvent,
		ExecutionCancelledEvent, ExecutionPausedEvent, ExecutionResumedEvent:
		return &ExecutionChanged{}
	case NodeStartedEvent, NodeCompletedEvent, NodeFailedEvent, NodeSkippedEvent, NodeRetryEvent:
		return &NodeChanged{}
	case TriggerFiredEvent:
		return &TriggerFired{}
	case WorkflowErrorEvent:
		return &WorkflowError{}
	default:
		return nil
	}
}

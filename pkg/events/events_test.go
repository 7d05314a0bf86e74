package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	event := NewBaseEvent(WorkflowCreatedEvent, "wf-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, WorkflowCreatedEvent, event.GetType())
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotNil(t, event.Metadata)
}

func TestEmbeddedGetType(t *testing.T) {
	changed := NewWorkflowChanged(WorkflowActivatedEvent, "wf-1", "billing", "1.0.1")
	assert.Equal(t, WorkflowActivatedEvent, changed.GetType())

	failure := NewWorkflowError("wf-1", "exec-1", "scheduler", errors.New("boom"))
	assert.Equal(t, WorkflowErrorEvent, failure.GetType())
	assert.Equal(t, "boom", failure.Error)
}

func TestNew(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      any
	}{
		{WorkflowDeletedEvent, &WorkflowChanged{}},
		{ExecutionPausedEvent, &ExecutionChanged{}},
		{NodeRetryEvent, &NodeChanged{}},
		{TriggerFiredEvent, &TriggerFired{}},
		{WorkflowErrorEvent, &WorkflowError{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			got := New(tt.eventType)
			require.NotNil(t, got)
			assert.IsType(t, tt.want, got)
		})
	}

	assert.Nil(t, New("unknown"))
}

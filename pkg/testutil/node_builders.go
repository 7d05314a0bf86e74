// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/weave/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:   uuid.New().String(),
		Type: models.NodeTypeTask,
		Name: "Test Node",
		Config: models.NodeConfig{
			Params: map[string]any{"message": "test"},
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node id.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Name = name
	}
}

// WithType sets the node type.
func WithType(nodeType models.NodeType) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
	}
}

// WithCondition sets the condition evaluated by decision nodes.
func WithCondition(condition string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config.Condition = condition
	}
}

// WithDelay sets the duration a delay node waits.
func WithDelay(d time.Duration) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config.DelayDuration = d
	}
}

// WithParams sets the task parameters.
func WithParams(params map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config.Params = params
	}
}

// WithRetry configures node-level retries.
func WithRetry(count int, delay time.Duration) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config.RetryCount = count
		n.Config.RetryDelay = delay
	}
}

// WithOutputs sets the ordered outgoing connection ids.
func WithOutputs(ids ...string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Outputs = ids
	}
}

// Connect creates a connection between two nodes.
func Connect(id, source, target string) *models.WorkflowConnection {
	return &models.WorkflowConnection{ID: id, SourceNodeID: source, TargetNodeID: target}
}

// Package models defines core node models for graph execution
package models

import (
	"slices"
	"time"
)

// NodeType is the tag used to dispatch a node to its handler.
type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeEnd          NodeType = "end"
	NodeTypeTask         NodeType = "task"
	NodeTypeDecision     NodeType = "decision"
	NodeTypeParallel     NodeType = "parallel"
	NodeTypeMerge        NodeType = "merge"
	NodeTypeDelay        NodeType = "delay"
	NodeTypeWebhook      NodeType = "webhook"
	NodeTypeScript       NodeType = "script"
	NodeTypeApproval     NodeType = "approval"
	NodeTypeNotification NodeType = "notification"
	NodeTypeCondition    NodeType = "condition"
)

// NodeTypes lists every declared node type. Handler tables are checked against it.
var NodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeTask,
	NodeTypeDecision,
	NodeTypeParallel,
	NodeTypeMerge,
	NodeTypeDelay,
	NodeTypeWebhook,
	NodeTypeScript,
	NodeTypeApproval,
	NodeTypeNotification,
	NodeTypeCondition,
}

// Valid reports whether the node type is one of the declared types.
func (t NodeType) Valid() bool {
	return slices.Contains(NodeTypes, t)
}

// WorkflowNode represents a typed unit of work within a definition.
type WorkflowNode struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"              validate:"required,min=1"`
	Type    NodeType   `json:"type"              validate:"required"`
	Config  NodeConfig `json:"config"`
	Inputs  []string   `json:"inputs,omitempty"`  // Connection IDs entering the node
	Outputs []string   `json:"outputs,omitempty"` // Connection IDs leaving the node, in branch order
}

// Clone returns a deep copy of the node.
func (n *WorkflowNode) Clone() *WorkflowNode {
	if n == nil {
		return nil
	}

	clone := *n
	clone.Inputs = slices.Clone(n.Inputs)
	clone.Outputs = slices.Clone(n.Outputs)
	clone.Config.Approvers = slices.Clone(n.Config.Approvers)
	clone.Config.Params = cloneMap(n.Config.Params)

	return &clone
}

// NodeConfig carries the type-specific configuration of a node.
type NodeConfig struct {
	Timeout       time.Duration  `json:"timeout,omitempty"        validate:"min=0"`
	RetryCount    int            `json:"retry_count,omitempty"    validate:"min=0"`
	RetryDelay    time.Duration  `json:"retry_delay,omitempty"    validate:"min=0"`
	Condition     string         `json:"condition,omitempty"`
	Script        string         `json:"script,omitempty"`
	WebhookURL    string         `json:"webhook_url,omitempty"    validate:"omitempty,url"`
	Approvers     []string       `json:"approvers,omitempty"`
	DelayDuration time.Duration  `json:"delay_duration,omitempty" validate:"min=0"`
	MergeStrategy string         `json:"merge_strategy,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
}

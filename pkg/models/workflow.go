// Package models defines the core domain models for graph-based workflow execution
package models

import "time"

// InitialVersion is the version assigned to a newly created workflow definition.
const InitialVersion = "1.0.0"

// WorkflowDefinition represents a versioned, named directed graph of nodes and connections.
type WorkflowDefinition struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"                  validate:"required,min=1"`
	Description string                `json:"description,omitempty"`
	Version     string                `json:"version"`
	Nodes       []*WorkflowNode       `json:"nodes"                 validate:"dive,required"`
	Connections []*WorkflowConnection `json:"connections"           validate:"dive,required"`
	Variables   map[string]any        `json:"variables,omitempty"`
	Triggers    []*WorkflowTrigger    `json:"triggers,omitempty"    validate:"dive,required"`
	Settings    WorkflowSettings      `json:"settings"`
	IsActive    bool                  `json:"is_active"`
	CreatedBy   string                `json:"created_by,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// NodeByID returns the node with the given id.
func (w *WorkflowDefinition) NodeByID(id string) (*WorkflowNode, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// ConnectionByID returns the connection with the given id.
func (w *WorkflowDefinition) ConnectionByID(id string) (*WorkflowConnection, bool) {
	for _, conn := range w.Connections {
		if conn.ID == id {
			return conn, true
		}
	}

	return nil, false
}

// StartNode returns the single start node, if the definition has exactly one.
func (w *WorkflowDefinition) StartNode() (*WorkflowNode, bool) {
	var start *WorkflowNode

	for _, node := range w.Nodes {
		if node.Type != NodeTypeStart {
			continue
		}

		if start != nil {
			return nil, false
		}

		start = node
	}

	return start, start != nil
}

// OutgoingConnections returns the connections leaving the node in declaration order.
// When the node lists its outputs explicitly that order wins, otherwise the order of
// the definition's connection list is used.
func (w *WorkflowDefinition) OutgoingConnections(node *WorkflowNode) []*WorkflowConnection {
	if len(node.Outputs) > 0 {
		conns := make([]*WorkflowConnection, 0, len(node.Outputs))

		for _, connID := range node.Outputs {
			if conn, ok := w.ConnectionByID(connID); ok && conn.SourceNodeID == node.ID {
				conns = append(conns, conn)
			}
		}

		return conns
	}

	var conns []*WorkflowConnection

	for _, conn := range w.Connections {
		if conn.SourceNodeID == node.ID {
			conns = append(conns, conn)
		}
	}

	return conns
}

// HasNodeType reports whether any node of the definition has the given type.
func (w *WorkflowDefinition) HasNodeType(nodeType NodeType) bool {
	for _, node := range w.Nodes {
		if node.Type == nodeType {
			return true
		}
	}

	return false
}

// HasTriggerType reports whether any trigger of the definition has the given type.
func (w *WorkflowDefinition) HasTriggerType(triggerType TriggerType) bool {
	for _, trigger := range w.Triggers {
		if trigger.Type == triggerType {
			return true
		}
	}

	return false
}

// Clone returns a deep copy of the definition, so executions can pin the exact graph
// they started with. Nil entries stay nil.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	if w == nil {
		return nil
	}

	clone := *w
	clone.Variables = cloneMap(w.Variables)

	clone.Nodes = make([]*WorkflowNode, len(w.Nodes))
	for i, node := range w.Nodes {
		clone.Nodes[i] = node.Clone()
	}

	clone.Connections = make([]*WorkflowConnection, len(w.Connections))
	for i, conn := range w.Connections {
		if conn == nil {
			continue
		}

		c := *conn
		clone.Connections[i] = &c
	}

	clone.Triggers = make([]*WorkflowTrigger, len(w.Triggers))
	for i, trigger := range w.Triggers {
		if trigger == nil {
			continue
		}

		t := *trigger
		t.Config = cloneMap(trigger.Config)
		clone.Triggers[i] = &t
	}

	return &clone
}

// WorkflowConnection is a directed, optionally guarded edge between two nodes.
type WorkflowConnection struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"source_node_id"      validate:"required"`
	TargetNodeID string `json:"target_node_id"      validate:"required"`
	Condition    string `json:"condition,omitempty"`
	Label        string `json:"label,omitempty"`
}

// TriggerType enumerates the ways an execution may be started.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeEvent    TriggerType = "event"
)

// WorkflowTrigger declares a way an execution of the workflow may start.
type WorkflowTrigger struct {
	ID      string         `json:"id"`
	Type    TriggerType    `json:"type"             validate:"required,oneof=manual schedule webhook event"`
	Config  map[string]any `json:"config,omitempty"`
	Enabled bool           `json:"enabled"`
}

// CronExpression returns the cron expression configured on a schedule trigger.
func (t *WorkflowTrigger) CronExpression() string {
	expr, _ := t.Config["cron"].(string)

	return expr
}

// OnErrorPolicy tells the executor what to do when a node fails.
type OnErrorPolicy string

const (
	OnErrorStop     OnErrorPolicy = "stop"
	OnErrorContinue OnErrorPolicy = "continue"
)

// WorkflowSettings holds per-workflow execution settings.
type WorkflowSettings struct {
	MaxConcurrentExecutions int                  `json:"max_concurrent_executions" validate:"min=0"`
	ExecutionTimeout        time.Duration        `json:"execution_timeout"         validate:"min=0"`
	RetryPolicy             RetryPolicy          `json:"retry_policy"`
	ErrorHandling           ErrorHandlingSetting `json:"error_handling"`
	Logging                 LoggingSetting       `json:"logging"`
}

type RetryPolicy struct {
	Enabled    bool          `json:"enabled"`
	MaxRetries int           `json:"max_retries" validate:"min=0"`
	RetryDelay time.Duration `json:"retry_delay" validate:"min=0"`
}

type ErrorHandlingSetting struct {
	OnError       OnErrorPolicy `json:"on_error"        validate:"omitempty,oneof=stop continue"`
	NotifyOnError bool          `json:"notify_on_error"`
}

type LoggingSetting struct {
	Enabled          bool     `json:"enabled"`
	Level            LogLevel `json:"level"             validate:"omitempty,oneof=debug info warn error"`
	IncludeVariables bool     `json:"include_variables"`
}

// DefaultSettings returns the settings merged under user overrides on creation.
func DefaultSettings() WorkflowSettings {
	return WorkflowSettings{
		MaxConcurrentExecutions: 5,
		RetryPolicy: RetryPolicy{
			Enabled:    false,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		ErrorHandling: ErrorHandlingSetting{
			OnError:       OnErrorStop,
			NotifyOnError: true,
		},
		Logging: LoggingSetting{
			Enabled: true,
			Level:   LogLevelInfo,
		},
	}
}

// MergeSettings overlays the non-zero fields of override onto base.
func MergeSettings(base, override WorkflowSettings) WorkflowSettings {
	merged := base

	if override.MaxConcurrentExecutions > 0 {
		merged.MaxConcurrentExecutions = override.MaxConcurrentExecutions
	}

	if override.ExecutionTimeout > 0 {
		merged.ExecutionTimeout = override.ExecutionTimeout
	}

	if override.RetryPolicy != (RetryPolicy{}) {
		merged.RetryPolicy = override.RetryPolicy
	}

	if override.ErrorHandling.OnError != "" {
		merged.ErrorHandling.OnError = override.ErrorHandling.OnError
	}

	if override.ErrorHandling != (ErrorHandlingSetting{}) {
		merged.ErrorHandling.NotifyOnError = override.ErrorHandling.NotifyOnError
	}

	if override.Logging != (LoggingSetting{}) {
		merged.Logging.Enabled = override.Logging.Enabled
		merged.Logging.IncludeVariables = override.Logging.IncludeVariables

		if override.Logging.Level != "" {
			merged.Logging.Level = override.Logging.Level
		}
	}

	return merged
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

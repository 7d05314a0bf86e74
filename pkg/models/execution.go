package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusCancelled},
	ExecutionStatusRunning: {
		ExecutionStatusCompleted,
		ExecutionStatusFailed,
		ExecutionStatusCancelled,
		ExecutionStatusPaused,
	},
	ExecutionStatusPaused: {ExecutionStatusRunning, ExecutionStatusCancelled},
}

// IsTerminal reports whether the status can never change again.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// CanTransitionTo reports whether the execution state machine allows s -> next.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// NodeExecutionStatus is the lifecycle state of a node execution.
type NodeExecutionStatus string

const (
	NodeExecutionStatusPending   NodeExecutionStatus = "pending"
	NodeExecutionStatusRunning   NodeExecutionStatus = "running"
	NodeExecutionStatusCompleted NodeExecutionStatus = "completed"
	NodeExecutionStatusFailed    NodeExecutionStatus = "failed"
	NodeExecutionStatusSkipped   NodeExecutionStatus = "skipped"
	NodeExecutionStatusCancelled NodeExecutionStatus = "cancelled"
	// NodeExecutionStatusWaiting is reserved for nodes waiting on external input.
	// Nothing produces it yet.
	NodeExecutionStatusWaiting NodeExecutionStatus = "waiting"
)

// IsTerminal reports whether the node execution is closed.
func (s NodeExecutionStatus) IsTerminal() bool {
	switch s {
	case NodeExecutionStatusCompleted, NodeExecutionStatusFailed,
		NodeExecutionStatusSkipped, NodeExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// WorkItem is a pending step of a graph walk: the node to enter and the ancestor
// path that led to it.
type WorkItem struct {
	NodeID string   `json:"node_id"`
	Path   []string `json:"path,omitempty"`
	Input  any      `json:"input,omitempty"`
}

// WorkflowExecution is one run instance of a definition.
type WorkflowExecution struct {
	ID              string                   `json:"id"`
	WorkflowID      string                   `json:"workflow_id"`
	WorkflowVersion string                   `json:"workflow_version"`
	Definition      *WorkflowDefinition      `json:"definition,omitempty"`
	Status          ExecutionStatus          `json:"status"`
	CreatedAt       time.Time                `json:"created_at"`
	StartedAt       *time.Time               `json:"started_at,omitempty"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
	Duration        time.Duration            `json:"duration,omitempty"`
	TriggeredBy     string                   `json:"triggered_by,omitempty"`
	TriggerData     map[string]any           `json:"trigger_data,omitempty"`
	Variables       map[string]any           `json:"variables,omitempty"`
	NodeExecutions  []*WorkflowNodeExecution `json:"node_executions"`
	Error           string                   `json:"error,omitempty"`
	Result          map[string]any           `json:"result,omitempty"`
	Continuation    []WorkItem               `json:"continuation,omitempty"`

	// ResumeRequested marks a paused execution queued to run again once a walker slot
	// is free.
	ResumeRequested bool `json:"resume_requested,omitempty"`
	// WalkEnded marks a paused execution whose walk already finished, with Error set
	// when it failed. Resuming settles it without walking again.
	WalkEnded bool `json:"walk_ended,omitempty"`
}

// NodeExecution returns the node execution with the given id.
func (e *WorkflowExecution) NodeExecution(id string) (*WorkflowNodeExecution, bool) {
	for _, ne := range e.NodeExecutions {
		if ne.ID == id {
			return ne, true
		}
	}

	return nil, false
}

// Clone returns a copy of the execution that shares no mutable slices with the original.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}

	clone := *e
	clone.TriggerData = cloneMap(e.TriggerData)
	clone.Variables = cloneMap(e.Variables)
	clone.Result = cloneMap(e.Result)
	clone.Continuation = append([]WorkItem(nil), e.Continuation...)

	clone.NodeExecutions = make([]*WorkflowNodeExecution, len(e.NodeExecutions))
	for i, ne := range e.NodeExecutions {
		n := *ne
		n.Logs = append([]*WorkflowExecutionLog(nil), ne.Logs...)
		clone.NodeExecutions[i] = &n
	}

	return &clone
}

// WorkflowNodeExecution records one node being entered and processed during an execution.
type WorkflowNodeExecution struct {
	ID          string                  `json:"id"`
	NodeID      string                  `json:"node_id"`
	NodeType    NodeType                `json:"node_type"`
	ExecutionID string                  `json:"execution_id"`
	Status      NodeExecutionStatus     `json:"status"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Duration    time.Duration           `json:"duration,omitempty"`
	Attempts    int                     `json:"attempts"`
	Input       any                     `json:"input,omitempty"`
	Output      any                     `json:"output,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Logs        []*WorkflowExecutionLog `json:"logs,omitempty"`
}

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// Enabled reports whether an entry at level l passes a threshold of min.
func (l LogLevel) Enabled(min LogLevel) bool {
	if min == "" {
		return true
	}

	return logLevelRank[l] >= logLevelRank[min]
}

// WorkflowExecutionLog is one entry of an execution's append-only log stream.
type WorkflowExecutionLog struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

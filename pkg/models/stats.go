package models

import "time"

// WorkflowStats is a derived rollup over stored definitions and executions.
type WorkflowStats struct {
	TotalWorkflows       int                     `json:"total_workflows"`
	ActiveWorkflows      int                     `json:"active_workflows"`
	TotalExecutions      int                     `json:"total_executions"`
	ExecutionsByStatus   map[ExecutionStatus]int `json:"executions_by_status"`
	AverageDuration      time.Duration           `json:"average_duration"`
	SuccessRate          float64                 `json:"success_rate"`
	ExecutionsByWorkflow map[string]int          `json:"executions_by_workflow"`
	ExecutionsByDay      map[string]int          `json:"executions_by_day"`
	TopFailureReasons    []FailureReason         `json:"top_failure_reasons"`
	NodeTypeUsage        map[NodeType]int        `json:"node_type_usage"`
	TriggerTypeUsage     map[TriggerType]int     `json:"trigger_type_usage"`
	ComputedAt           time.Time               `json:"computed_at"`
}

// FailureReason groups failed executions by exact error message.
type FailureReason struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

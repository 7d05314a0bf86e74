package models

import "time"

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// SortOrder is the direction of a query sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// WorkflowQuery holds the filters, sorting and pagination of a definition query.
type WorkflowQuery struct {
	Name          string      `json:"name,omitempty"`
	IsActive      *bool       `json:"is_active,omitempty"`
	CreatedBy     string      `json:"created_by,omitempty"`
	NodeType      NodeType    `json:"node_type,omitempty"`
	TriggerType   TriggerType `json:"trigger_type,omitempty"`
	CreatedAfter  *time.Time  `json:"created_after,omitempty"`
	CreatedBefore *time.Time  `json:"created_before,omitempty"`
	UpdatedAfter  *time.Time  `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time  `json:"updated_before,omitempty"`

	SortBy    string    `json:"sort_by,omitempty"    validate:"omitempty,oneof=name createdAt updatedAt"`
	SortOrder SortOrder `json:"sort_order,omitempty" validate:"omitempty,oneof=asc desc"`

	Offset int `json:"offset,omitempty" validate:"min=0"`
	Limit  int `json:"limit,omitempty"  validate:"min=0"`
}

// ExecutionQuery holds the filters, sorting and pagination of an execution query.
type ExecutionQuery struct {
	WorkflowID    string          `json:"workflow_id,omitempty"`
	Status        ExecutionStatus `json:"status,omitempty"`
	TriggeredBy   string          `json:"triggered_by,omitempty"`
	StartedAfter  *time.Time      `json:"started_after,omitempty"`
	StartedBefore *time.Time      `json:"started_before,omitempty"`

	SortBy    string    `json:"sort_by,omitempty"    validate:"omitempty,oneof=createdAt startedAt"`
	SortOrder SortOrder `json:"sort_order,omitempty" validate:"omitempty,oneof=asc desc"`

	Offset int `json:"offset,omitempty" validate:"min=0"`
	Limit  int `json:"limit,omitempty"  validate:"min=0"`
}

// Page is one page of a query result.
type Page[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"total_count"`
	HasNext    bool  `json:"has_next_page"`
}

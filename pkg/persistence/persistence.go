// Package persistence provides the storage abstraction for workflow definitions, executions and logs.
package persistence

import (
	"context"

	"github.com/dukex/weave/pkg/models"
)

// Persistence is the store collaborator the engine is built on. Backends (memory, file,
// postgresql) are substitutable without touching the engine.
type Persistence interface {
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error

	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	LogRepository() LogRepository
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, query models.WorkflowQuery) (*models.Page[*models.WorkflowDefinition], error)
}

// ExecutionRepository stores executions together with their ordered node executions.
type ExecutionRepository interface {
	GetAll(ctx context.Context) ([]*models.WorkflowExecution, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	DeleteByWorkflow(ctx context.Context, workflowID string) error
	Query(ctx context.Context, query models.ExecutionQuery) (*models.Page[*models.WorkflowExecution], error)
}

// LogRepository stores the append-only execution log stream.
type LogRepository interface {
	Append(ctx context.Context, entry *models.WorkflowExecutionLog) error
	GetByExecution(ctx context.Context, executionID string) ([]*models.WorkflowExecutionLog, error)
	DeleteByExecution(ctx context.Context, executionID string) error
}

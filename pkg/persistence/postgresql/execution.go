package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) GetAll(ctx context.Context) ([]*models.WorkflowExecution, error) {
	return r.list(ctx, `SELECT document FROM workflow_executions ORDER BY created_at ASC, id ASC`)
}

func (r *ExecutionRepository) list(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return r.list(ctx,
		`SELECT document FROM workflow_executions WHERE workflow_id = $1 ORDER BY created_at ASC, id ASC`,
		workflowID,
	)
}

// Save upserts an execution document.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	document, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, status, document, created_at, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			started_at = EXCLUDED.started_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		string(execution.Status),
		document,
		execution.CreatedAt,
		execution.StartedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// DeleteByWorkflow removes the workflow's executions and their logs in one transaction.
func (r *ExecutionRepository) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM workflow_execution_logs
		WHERE execution_id IN (SELECT id FROM workflow_executions WHERE workflow_id = $1)
	`, workflowID)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to delete execution logs: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM workflow_executions WHERE workflow_id = $1`, workflowID)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to delete executions: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Query narrows by workflow and status in SQL and sorts and pages in memory.
func (r *ExecutionRepository) Query(ctx context.Context, query models.ExecutionQuery) (*models.Page[*models.WorkflowExecution], error) {
	var (
		executions []*models.WorkflowExecution
		err        error
	)

	switch {
	case query.WorkflowID != "" && query.Status != "":
		executions, err = r.list(ctx,
			`SELECT document FROM workflow_executions WHERE workflow_id = $1 AND status = $2 ORDER BY created_at ASC, id ASC`,
			query.WorkflowID, string(query.Status),
		)
	case query.WorkflowID != "":
		executions, err = r.GetByWorkflow(ctx, query.WorkflowID)
	case query.Status != "":
		executions, err = r.list(ctx,
			`SELECT document FROM workflow_executions WHERE status = $1 ORDER BY created_at ASC, id ASC`,
			string(query.Status),
		)
	default:
		executions, err = r.GetAll(ctx)
	}

	if err != nil {
		return nil, err
	}

	return persistence.QueryExecutions(executions, query)
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var document []byte

	err := row.Scan(&document)
	if err != nil {
		return nil, err
	}

	var execution models.WorkflowExecution

	err = json.Unmarshal(document, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return &execution, nil
}

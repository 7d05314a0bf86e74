package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	p   *Persistence
	dir string
}

// GetAll returns every stored execution ordered by creation time.
func (er *ExecutionRepository) GetAll(_ context.Context) ([]*models.WorkflowExecution, error) {
	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	return er.loadAll()
}

func (er *ExecutionRepository) loadAll() ([]*models.WorkflowExecution, error) {
	ids, err := listIDs(er.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		var execution models.WorkflowExecution

		err := readJSON(er.dir, id, &execution)
		if err != nil {
			// Skip invalid files
			continue
		}

		executions = append(executions, &execution)
	}

	slices.SortStableFunc(executions, func(a, b *models.WorkflowExecution) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return executions, nil
}

// GetByID retrieves an execution by its ID from the file system.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	var execution models.WorkflowExecution

	err := readJSON(er.dir, id, &execution)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

// GetByWorkflow retrieves all executions for a specific workflow.
func (er *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	all, err := er.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var executions []*models.WorkflowExecution

	for _, execution := range all {
		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}

// Save writes the execution document, overwriting any previous state.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	err := writeJSON(er.dir, execution.ID, execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// DeleteByWorkflow removes every execution of the workflow and its log file.
func (er *ExecutionRepository) DeleteByWorkflow(_ context.Context, workflowID string) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	executions, err := er.loadAll()
	if err != nil {
		return err
	}

	for _, execution := range executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		err := os.Remove(filepath.Join(er.dir, execution.ID+".json"))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return persistence.NewExecutionError("DeleteByWorkflow", execution.ID, err)
		}

		err = os.Remove(filepath.Join(er.p.logRepo.dir, execution.ID+".jsonl"))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return persistence.NewExecutionError("DeleteByWorkflow", execution.ID, err)
		}
	}

	return nil
}

// Query returns paginated and filtered executions with in-memory operations.
func (er *ExecutionRepository) Query(ctx context.Context, query models.ExecutionQuery) (*models.Page[*models.WorkflowExecution], error) {
	all, err := er.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.QueryExecutions(all, query)
}

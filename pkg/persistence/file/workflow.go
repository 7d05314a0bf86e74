package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	p   *Persistence
	dir string
}

// GetAll returns every stored workflow ordered by creation time.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	return wr.loadAll()
}

func (wr *WorkflowRepository) loadAll() ([]*models.WorkflowDefinition, error) {
	ids, err := listIDs(wr.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		var workflow models.WorkflowDefinition

		err := readJSON(wr.dir, id, &workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		workflows = append(workflows, &workflow)
	}

	slices.SortStableFunc(workflows, func(a, b *models.WorkflowDefinition) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	var workflow models.WorkflowDefinition

	err := readJSON(wr.dir, id, &workflow)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &workflow, nil
}

// Save writes the workflow document, overwriting any previous version.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	err := writeJSON(wr.dir, workflow.ID, workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes the workflow document.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	if err := validateID(id); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	err := os.Remove(wr.dir + "/" + id + ".json")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

// Query returns paginated and filtered workflows with in-memory operations.
func (wr *WorkflowRepository) Query(ctx context.Context, query models.WorkflowQuery) (*models.Page[*models.WorkflowDefinition], error) {
	all, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.QueryWorkflows(all, query)
}

// Package memory provides an in-memory persistence implementation guarded by a mutex.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
)

var (
	_ persistence.Persistence         = (*Persistence)(nil)
	_ persistence.WorkflowRepository  = (*workflowRepository)(nil)
	_ persistence.ExecutionRepository = (*executionRepository)(nil)
	_ persistence.LogRepository       = (*logRepository)(nil)
)

// Persistence keeps every collection in maps. Safe for concurrent use; values are
// copied on the way in and out so callers never share memory with the store.
type Persistence struct {
	mu sync.RWMutex

	workflows     map[string]*models.WorkflowDefinition
	executions    map[string]*models.WorkflowExecution
	executionSeq  []string // insertion order
	logs          map[string][]*models.WorkflowExecutionLog
	workflowOrder []string
}

// NewPersistence returns an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  make(map[string]*models.WorkflowDefinition),
		executions: make(map[string]*models.WorkflowExecution),
		logs:       make(map[string][]*models.WorkflowExecutionLog),
	}
}

// HealthCheck always succeeds for the memory store.
func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (p *Persistence) Close(_ context.Context) error { return nil }

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{p: p}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{p: p}
}

func (p *Persistence) LogRepository() persistence.LogRepository {
	return &logRepository{p: p}
}

type workflowRepository struct {
	p *Persistence
}

func (r *workflowRepository) GetAll(_ context.Context) ([]*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	out := make([]*models.WorkflowDefinition, 0, len(r.p.workflowOrder))
	for _, id := range r.p.workflowOrder {
		out = append(out, r.p.workflows[id].Clone())
	}

	return out, nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	w, ok := r.p.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return w.Clone(), nil
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, exists := r.p.workflows[workflow.ID]; !exists {
		r.p.workflowOrder = append(r.p.workflowOrder, workflow.ID)
	}

	r.p.workflows[workflow.ID] = workflow.Clone()

	return nil
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.workflows[id]; !ok {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.p.workflows, id)
	r.p.workflowOrder = slices.DeleteFunc(r.p.workflowOrder, func(s string) bool { return s == id })

	return nil
}

func (r *workflowRepository) Query(ctx context.Context, query models.WorkflowQuery) (*models.Page[*models.WorkflowDefinition], error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.QueryWorkflows(all, query)
}

type executionRepository struct {
	p *Persistence
}

func (r *executionRepository) GetAll(_ context.Context) ([]*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	out := make([]*models.WorkflowExecution, 0, len(r.p.executionSeq))
	for _, id := range r.p.executionSeq {
		out = append(out, r.p.executions[id].Clone())
	}

	return out, nil
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	e, ok := r.p.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return e.Clone(), nil
}

func (r *executionRepository) GetByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var out []*models.WorkflowExecution

	for _, id := range r.p.executionSeq {
		if e := r.p.executions[id]; e.WorkflowID == workflowID {
			out = append(out, e.Clone())
		}
	}

	return out, nil
}

func (r *executionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, exists := r.p.executions[execution.ID]; !exists {
		r.p.executionSeq = append(r.p.executionSeq, execution.ID)
	}

	r.p.executions[execution.ID] = execution.Clone()

	return nil
}

func (r *executionRepository) DeleteByWorkflow(_ context.Context, workflowID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.executionSeq = slices.DeleteFunc(r.p.executionSeq, func(id string) bool {
		e := r.p.executions[id]
		if e.WorkflowID != workflowID {
			return false
		}

		delete(r.p.executions, id)
		delete(r.p.logs, id)

		return true
	})

	return nil
}

func (r *executionRepository) Query(ctx context.Context, query models.ExecutionQuery) (*models.Page[*models.WorkflowExecution], error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.QueryExecutions(all, query)
}

type logRepository struct {
	p *Persistence
}

func (r *logRepository) Append(_ context.Context, entry *models.WorkflowExecutionLog) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	e := *entry
	r.p.logs[entry.ExecutionID] = append(r.p.logs[entry.ExecutionID], &e)

	return nil
}

func (r *logRepository) GetByExecution(_ context.Context, executionID string) ([]*models.WorkflowExecutionLog, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	entries := r.p.logs[executionID]
	out := make([]*models.WorkflowExecutionLog, len(entries))

	for i, entry := range entries {
		e := *entry
		out[i] = &e
	}

	return out, nil
}

func (r *logRepository) DeleteByExecution(_ context.Context, executionID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	delete(r.p.logs, executionID)

	return nil
}

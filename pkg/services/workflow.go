package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// WorkflowPatch is a partial update. Nil fields are left untouched; a non-nil slice
// replaces the whole collection.
type WorkflowPatch struct {
	Name        *string                      `json:"name,omitempty"`
	Description *string                      `json:"description,omitempty"`
	Nodes       []*models.WorkflowNode       `json:"nodes,omitempty"`
	Connections []*models.WorkflowConnection `json:"connections,omitempty"`
	Variables   map[string]any               `json:"variables,omitempty"`
	Triggers    []*models.WorkflowTrigger    `json:"triggers,omitempty"`
	Settings    *models.WorkflowSettings     `json:"settings,omitempty"`
}

// Workflow is the definition store: CRUD and validation of workflow graphs.
type Workflow struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger

	// mu serialises writes so the active-name uniqueness check cannot race.
	mu sync.Mutex
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Workflow {
	if publisher == nil {
		publisher = eventbus.Noop{}
	}

	return &Workflow{
		persistence: p,
		publisher:   publisher,
		validate:    NewValidator(),
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create validates and stores a new definition. Ids are generated for the definition
// and for every node, connection and trigger that lacks one.
func (w *Workflow) Create(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def == nil {
		return nil, NewServiceError("Create", CodeValidationFailed, "workflow cannot be nil", ErrWorkflowNil)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	workflow := def.Clone()
	now := time.Now().UTC()

	workflow.ID = uuid.New().String()
	workflow.Version = models.InitialVersion
	workflow.Settings = models.MergeSettings(models.DefaultSettings(), def.Settings)
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	assignIDs(workflow)

	err := w.check(ctx, "Create", workflow)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "name", workflow.Name)
	w.publish(ctx, events.WorkflowCreatedEvent, workflow)

	return workflow, nil
}

// Update merges the patch into the stored definition, re-validates the result and
// bumps the patch version. Supplied ids are kept.
func (w *Workflow) Update(ctx context.Context, id string, patch WorkflowPatch) (*models.WorkflowDefinition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	workflow, err := w.get(ctx, "Update", id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		workflow.Name = *patch.Name
	}

	if patch.Description != nil {
		workflow.Description = *patch.Description
	}

	if patch.Nodes != nil {
		workflow.Nodes = patch.Nodes
	}

	if patch.Connections != nil {
		workflow.Connections = patch.Connections
	}

	if patch.Variables != nil {
		workflow.Variables = patch.Variables
	}

	if patch.Triggers != nil {
		workflow.Triggers = patch.Triggers
	}

	if patch.Settings != nil {
		workflow.Settings = models.MergeSettings(workflow.Settings, *patch.Settings)
	}

	workflow = workflow.Clone()
	assignIDs(workflow)

	err = w.check(ctx, "Update", workflow)
	if err != nil {
		return nil, err
	}

	workflow.Version = bumpPatch(workflow.Version)
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow updated", "workflow_id", workflow.ID, "version", workflow.Version)
	w.publish(ctx, events.WorkflowUpdatedEvent, workflow)

	return workflow, nil
}

// Delete removes a definition together with its executions and logs. It refuses while
// any execution still owns a walk (running or paused).
func (w *Workflow) Delete(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	workflow, err := w.get(ctx, "Delete", id)
	if err != nil {
		return err
	}

	executions, err := w.persistence.ExecutionRepository().GetByWorkflow(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load executions of workflow %s: %w", id, err)
	}

	for _, execution := range executions {
		if execution.Status == models.ExecutionStatusRunning || execution.Status == models.ExecutionStatusPaused {
			return NewServiceError("Delete", CodeHasRunningExecutions,
				fmt.Sprintf("workflow %s has running execution %s", id, execution.ID), ErrHasRunningExecutions)
		}
	}

	err = w.persistence.ExecutionRepository().DeleteByWorkflow(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete executions of workflow %s: %w", id, err)
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", id)
	w.publish(ctx, events.WorkflowDeletedEvent, workflow)

	return nil
}

// Activate marks the definition active. The name must not clash with another active one.
func (w *Workflow) Activate(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return w.setActive(ctx, "Activate", id, true)
}

// Deactivate marks the definition inactive; new executions are refused.
func (w *Workflow) Deactivate(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return w.setActive(ctx, "Deactivate", id, false)
}

func (w *Workflow) setActive(ctx context.Context, op, id string, active bool) (*models.WorkflowDefinition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	workflow, err := w.get(ctx, op, id)
	if err != nil {
		return nil, err
	}

	if workflow.IsActive == active {
		return workflow, nil
	}

	if active {
		names, err := w.activeNames(ctx, id)
		if err != nil {
			return nil, err
		}

		if names[workflow.Name] {
			return nil, NewValidationError(op, []FieldError{{
				Field:   "name",
				Message: fmt.Sprintf("an active workflow named %q already exists", workflow.Name),
			}})
		}
	}

	workflow.IsActive = active
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	eventType := events.WorkflowDeactivatedEvent
	if active {
		eventType = events.WorkflowActivatedEvent
	}

	w.logger.InfoContext(ctx, "Workflow activity changed", "workflow_id", id, "active", active)
	w.publish(ctx, eventType, workflow)

	return workflow, nil
}

// Get retrieves a workflow by its ID.
func (w *Workflow) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return w.get(ctx, "Get", id)
}

// Query retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) Query(ctx context.Context, query models.WorkflowQuery) (*models.Page[*models.WorkflowDefinition], error) {
	page, err := w.persistence.WorkflowRepository().Query(ctx, query)
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, NewServiceError("Query", CodeInvalidSortField,
				fmt.Sprintf("invalid sort field '%s', allowed: name, createdAt, updatedAt", query.SortBy), ErrInvalidSortField)
		}

		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	return page, nil
}

// Validate runs every check Create would run without storing anything.
func (w *Workflow) Validate(ctx context.Context, def *models.WorkflowDefinition) error {
	workflow := def.Clone()
	workflow.Settings = models.MergeSettings(models.DefaultSettings(), def.Settings)
	assignIDs(workflow)

	return w.check(ctx, "Validate", workflow)
}

func (w *Workflow) get(ctx context.Context, op, id string) (*models.WorkflowDefinition, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, NotFound(op, "workflow", id)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}

	return workflow, nil
}

func (w *Workflow) check(ctx context.Context, op string, workflow *models.WorkflowDefinition) error {
	names, err := w.activeNames(ctx, workflow.ID)
	if err != nil {
		return err
	}

	fields := ValidateDefinition(w.validate, workflow, names)
	if len(fields) > 0 {
		return NewValidationError(op, fields)
	}

	return nil
}

// activeNames returns the names of every active definition except the one with exceptID.
func (w *Workflow) activeNames(ctx context.Context, exceptID string) (map[string]bool, error) {
	all, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	names := make(map[string]bool)

	for _, other := range all {
		if other.IsActive && other.ID != exceptID {
			names[other.Name] = true
		}
	}

	return names, nil
}

func (w *Workflow) publish(ctx context.Context, eventType events.EventType, workflow *models.WorkflowDefinition) {
	event := events.NewWorkflowChanged(eventType, workflow.ID, workflow.Name, workflow.Version)

	err := w.publisher.Publish(ctx, workflow.ID, event)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to publish workflow event", "event_type", eventType, "error", err)
	}
}

func assignIDs(workflow *models.WorkflowDefinition) {
	for _, node := range workflow.Nodes {
		if node != nil && node.ID == "" {
			node.ID = uuid.New().String()
		}
	}

	for _, conn := range workflow.Connections {
		if conn != nil && conn.ID == "" {
			conn.ID = uuid.New().String()
		}
	}

	for _, trigger := range workflow.Triggers {
		if trigger != nil && trigger.ID == "" {
			trigger.ID = uuid.New().String()
		}
	}
}

// bumpPatch increments the patch component of a MAJOR.MINOR.PATCH version.
func bumpPatch(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return models.InitialVersion
	}

	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return models.InitialVersion
	}

	parts[2] = strconv.Itoa(patch + 1)

	return strings.Join(parts, ".")
}

package testutil

import (
	"time"

	"github.com/dukex/weave/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates a valid start -> task -> end workflow that can be overridden.
// Node ids are "start", "task" and "end"; connection ids are "c1" and "c2".
func CreateTestWorkflow(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	now := time.Now().UTC()

	workflow := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        "Test Workflow " + uuid.New().String()[:8],
		Description: "Test workflow description",
		Version:     models.InitialVersion,
		Nodes: []*models.WorkflowNode{
			CreateTestNode(WithID("start"), WithName("Start"), WithType(models.NodeTypeStart)),
			CreateTestNode(WithID("task"), WithName("Task")),
			CreateTestNode(WithID("end"), WithName("End"), WithType(models.NodeTypeEnd)),
		},
		Connections: []*models.WorkflowConnection{
			Connect("c1", "start", "task"),
			Connect("c2", "task", "end"),
		},
		Triggers: []*models.WorkflowTrigger{
			{ID: "manual", Type: models.TriggerTypeManual, Enabled: true},
		},
		Settings:  models.DefaultSettings(),
		CreatedBy: "tester",
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithWorkflowID sets the workflow id.
func WithWorkflowID(id string) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.ID = id
	}
}

// WithWorkflowName sets the workflow name.
func WithWorkflowName(name string) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Name = name
	}
}

// WithActive sets the workflow activity flag.
func WithActive(active bool) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.IsActive = active
	}
}

// WithGraph replaces the nodes and connections of the workflow.
func WithGraph(nodes []*models.WorkflowNode, connections []*models.WorkflowConnection) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Nodes = nodes
		w.Connections = connections
	}
}

// WithMaxConcurrent sets the per-workflow concurrency limit.
func WithMaxConcurrent(limit int) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Settings.MaxConcurrentExecutions = limit
	}
}

// WithCreatedAt sets both creation and update timestamps.
func WithCreatedAt(t time.Time) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.CreatedAt = t
		w.UpdatedAt = t
	}
}

// CreateTestExecution creates an execution of the workflow in the given status.
func CreateTestExecution(workflow *models.WorkflowDefinition, status models.ExecutionStatus) *models.WorkflowExecution {
	now := time.Now().UTC()

	execution := &models.WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		Definition:      workflow.Clone(),
		Status:          status,
		CreatedAt:       now,
		TriggeredBy:     "tester",
		NodeExecutions:  []*models.WorkflowNodeExecution{},
	}

	if status != models.ExecutionStatusPending {
		execution.StartedAt = &now
	}

	if status.IsTerminal() {
		execution.CompletedAt = &now
	}

	return execution
}

// Package schedule fires executions of active workflows from their cron triggers.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/robfig/cron/v3"
)

const TriggeredBy = "schedule"

var _ eventbus.EventPublisher = (*Manager)(nil)

// Engine is the part of the engine the manager drives.
type Engine interface {
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	QueryWorkflows(ctx context.Context, query models.WorkflowQuery) (*models.Page[*models.WorkflowDefinition], error)
	ExecuteWorkflow(ctx context.Context, workflowID string, triggerData map[string]any, triggeredBy string) (string, error)
}

// Manager keeps one cron entry per enabled schedule trigger of every active workflow.
// It is also an EventPublisher: plug it into the engine's publisher to follow
// definition changes.
type Manager struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	cron      *cron.Cron

	mu      sync.Mutex
	engine  Engine
	ctx     context.Context
	entries map[string][]cron.EntryID
}

// NewManager creates a stopped manager. Fired triggers and failures are reported to
// publisher.
func NewManager(publisher eventbus.EventPublisher, logger *slog.Logger) *Manager {
	if publisher == nil {
		publisher = eventbus.Noop{}
	}

	return &Manager{
		publisher: publisher,
		logger:    logger.With("module", "schedule_trigger"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		entries: make(map[string][]cron.EntryID),
	}
}

// Start registers the schedule triggers of every active workflow and starts the clock.
func (m *Manager) Start(ctx context.Context, engine Engine) error {
	m.mu.Lock()
	m.engine = engine
	m.ctx = context.WithoutCancel(ctx)
	m.mu.Unlock()

	active := true
	query := models.WorkflowQuery{
		IsActive:    &active,
		TriggerType: models.TriggerTypeSchedule,
		Limit:       models.MaxQueryLimit,
	}

	for {
		page, err := engine.QueryWorkflows(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to list scheduled workflows: %w", err)
		}

		for _, def := range page.Items {
			m.register(def)
		}

		if !page.HasNext {
			break
		}

		query.Offset += len(page.Items)
	}

	m.cron.Start()
	m.logger.InfoContext(ctx, "Schedule triggers started", "entries", len(m.cron.Entries()))

	return nil
}

// Stop stops the clock and waits for fired triggers to return or ctx to end.
func (m *Manager) Stop(ctx context.Context) error {
	done := m.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish follows definition lifecycle events. Other events are ignored.
func (m *Manager) Publish(ctx context.Context, _ string, event eventbus.Event) error {
	changed, ok := event.(events.WorkflowChanged)
	if !ok {
		return nil
	}

	if changed.Type == events.WorkflowDeletedEvent {
		m.remove(changed.WorkflowID)

		return nil
	}

	return m.Sync(ctx, changed.WorkflowID)
}

// Sync replaces the entries of one workflow with its current schedule triggers.
func (m *Manager) Sync(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	engine := m.engine
	m.mu.Unlock()

	if engine == nil {
		return nil
	}

	def, err := engine.GetWorkflow(ctx, workflowID)
	if err != nil {
		m.remove(workflowID)

		return nil
	}

	m.register(def)

	return nil
}

// Entries returns how many cron entries are registered for the workflow.
func (m *Manager) Entries(workflowID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries[workflowID])
}

func (m *Manager) register(def *models.WorkflowDefinition) {
	m.remove(def.ID)

	if !def.IsActive {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, trigger := range def.Triggers {
		if trigger.Type != models.TriggerTypeSchedule || !trigger.Enabled {
			continue
		}

		id, err := m.cron.AddJob(trigger.CronExpression(), m.job(def.ID, trigger.ID))
		if err != nil {
			m.logger.Warn("Skipping invalid schedule trigger",
				"workflow_id", def.ID, "trigger_id", trigger.ID, "error", err)

			continue
		}

		m.entries[def.ID] = append(m.entries[def.ID], id)
	}

	if n := len(m.entries[def.ID]); n > 0 {
		m.logger.Info("Registered schedule triggers", "workflow_id", def.ID, "entries", n)
	}
}

func (m *Manager) remove(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.entries[workflowID] {
		m.cron.Remove(id)
	}

	delete(m.entries, workflowID)
}

func (m *Manager) job(workflowID, triggerID string) cron.Job {
	return cron.FuncJob(func() {
		m.fire(workflowID, triggerID)
	})
}

func (m *Manager) fire(workflowID, triggerID string) {
	m.mu.Lock()
	engine, ctx := m.engine, m.ctx
	m.mu.Unlock()

	if engine == nil {
		return
	}

	triggerData := map[string]any{
		"trigger_id": triggerID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	executionID, err := engine.ExecuteWorkflow(ctx, workflowID, triggerData, TriggeredBy)
	if err != nil {
		m.logger.ErrorContext(ctx, "Scheduled execution rejected",
			"workflow_id", workflowID, "trigger_id", triggerID, "error", err)
		m.publish(ctx, workflowID, events.NewWorkflowError(workflowID, "", "schedule", err))

		return
	}

	m.logger.InfoContext(ctx, "Schedule trigger fired",
		"workflow_id", workflowID, "trigger_id", triggerID, "execution_id", executionID)
	m.publish(ctx, workflowID, events.TriggerFired{
		BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, workflowID),
		TriggerID:   triggerID,
		TriggerType: string(models.TriggerTypeSchedule),
		ExecutionID: executionID,
	})
}

func (m *Manager) publish(ctx context.Context, key string, event eventbus.Event) {
	err := m.publisher.Publish(ctx, key, event)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish trigger event", "error", err)
	}
}

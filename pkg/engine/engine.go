// Package engine exposes the public operations of the workflow engine over one store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
	"github.com/dukex/weave/pkg/services"
	"github.com/dukex/weave/pkg/stats"
	"github.com/dukex/weave/pkg/workflow"
)

const defaultTriggeredBy = "manual"

// Engine wires the definition store, scheduler, executor, tracker and stats aggregator
// together. Every method is safe for concurrent use.
type Engine struct {
	persistence persistence.Persistence
	workflows   *services.Workflow
	tracker     *workflow.Tracker
	scheduler   *workflow.Scheduler
	stats       *stats.Aggregator
	logger      *slog.Logger
}

func New(p persistence.Persistence, opts ...Option) *Engine {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	if cfg.publisher == nil {
		cfg.publisher = eventbus.Noop{}
	}

	handlers := workflow.NewHandlerTable(workflow.HandlerConfig{
		Evaluator:    cfg.evaluator,
		TaskRunner:   cfg.taskRunner,
		ScriptRunner: cfg.scriptRunner,
	})

	for nodeType, h := range cfg.handlers {
		handlers = handlers.With(nodeType, h)
	}

	aggregator := stats.NewAggregator(p, cfg.logger)
	tracker := workflow.NewTracker(p, settledPublisher{EventPublisher: cfg.publisher, stats: aggregator}, cfg.logger)
	executor := workflow.NewExecutor(tracker, handlers, cfg.evaluator, cfg.tracer, cfg.logger)

	return &Engine{
		persistence: p,
		workflows:   services.NewWorkflow(p, cfg.publisher, cfg.logger),
		tracker:     tracker,
		scheduler: workflow.NewScheduler(workflow.SchedulerConfig{
			Persistence:             p,
			Tracker:                 tracker,
			Executor:                executor,
			Queue:                   cfg.queue,
			Publisher:               cfg.publisher,
			Logger:                  cfg.logger,
			MaxConcurrentExecutions: cfg.maxConcurrent,
			TickInterval:            cfg.tickInterval,
		}),
		stats:  aggregator,
		logger: cfg.logger.With("module", "engine"),
	}
}

// Start begins dispatching queued executions.
func (e *Engine) Start(ctx context.Context) error {
	err := e.scheduler.Start(ctx)
	if err != nil {
		return err
	}

	e.stats.Refresh(ctx)

	return nil
}

// Stop stops dispatching and waits for running walks until ctx expires.
func (e *Engine) Stop(ctx context.Context) error {
	return e.scheduler.Stop(ctx)
}

func (e *Engine) HealthCheck(ctx context.Context) (string, bool) {
	return e.workflows.HealthCheck(ctx)
}

func (e *Engine) CreateWorkflow(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	return refreshed(ctx, e, e.workflows.Create)(def)
}

func (e *Engine) UpdateWorkflow(ctx context.Context, id string, patch services.WorkflowPatch) (*models.WorkflowDefinition, error) {
	def, err := e.workflows.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	e.stats.Refresh(ctx)

	return def, nil
}

// DeleteWorkflow removes a workflow and its executions. No pending execution of it can
// start while the running check and the cascade are under way.
func (e *Engine) DeleteWorkflow(ctx context.Context, id string) error {
	err := e.scheduler.Exclusive(func() error {
		return e.workflows.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	e.stats.Refresh(ctx)

	return nil
}

func (e *Engine) ActivateWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return refreshed(ctx, e, e.workflows.Activate)(id)
}

func (e *Engine) DeactivateWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return refreshed(ctx, e, e.workflows.Deactivate)(id)
}

// ValidateWorkflow runs the checks of CreateWorkflow without storing anything.
func (e *Engine) ValidateWorkflow(ctx context.Context, def *models.WorkflowDefinition) error {
	return e.workflows.Validate(ctx, def)
}

func (e *Engine) GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return e.workflows.Get(ctx, id)
}

func (e *Engine) QueryWorkflows(ctx context.Context, query models.WorkflowQuery) (*models.Page[*models.WorkflowDefinition], error) {
	return e.workflows.Query(ctx, query)
}

// ExecuteWorkflow queues an execution of an active workflow and returns its id. The
// execution runs asynchronously once the engine is started.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, triggerData map[string]any, triggeredBy string) (string, error) {
	if triggeredBy == "" {
		triggeredBy = defaultTriggeredBy
	}

	execution, err := e.scheduler.Submit(ctx, workflowID, triggerData, triggeredBy)
	if err != nil {
		return "", err
	}

	e.stats.Refresh(ctx)

	return execution.ID, nil
}

func (e *Engine) CancelExecution(ctx context.Context, id string) error {
	return e.executionCommand(ctx, id, e.scheduler.Cancel)
}

func (e *Engine) PauseExecution(ctx context.Context, id string) error {
	return e.executionCommand(ctx, id, e.scheduler.Pause)
}

func (e *Engine) ResumeExecution(ctx context.Context, id string) error {
	return e.executionCommand(ctx, id, e.scheduler.Resume)
}

func (e *Engine) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := e.tracker.Get(ctx, id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, services.NotFound("GetExecution", "execution", id)
		}

		return nil, err
	}

	return execution, nil
}

func (e *Engine) QueryExecutions(ctx context.Context, query models.ExecutionQuery) (*models.Page[*models.WorkflowExecution], error) {
	page, err := e.persistence.ExecutionRepository().Query(ctx, query)
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, services.NewServiceError("QueryExecutions", services.CodeInvalidSortField,
				fmt.Sprintf("invalid sort field '%s', allowed: createdAt, startedAt", query.SortBy),
				services.ErrInvalidSortField)
		}

		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	return page, nil
}

func (e *Engine) GetExecutionLogs(ctx context.Context, id string) ([]*models.WorkflowExecutionLog, error) {
	logs, err := e.tracker.Logs(ctx, id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, services.NotFound("GetExecutionLogs", "execution", id)
		}

		return nil, err
	}

	return logs, nil
}

// GetStats recomputes the stats from the store.
func (e *Engine) GetStats(ctx context.Context) (*models.WorkflowStats, error) {
	return e.stats.Compute(ctx)
}

// LastStats returns the stats computed by the last mutating call or the last execution
// reaching a terminal status, or nil before either.
func (e *Engine) LastStats() *models.WorkflowStats {
	return e.stats.Snapshot()
}

// WaitForExecution polls until the execution reaches a terminal status or ctx ends.
func (e *Engine) WaitForExecution(ctx context.Context, id string, interval time.Duration) (*models.WorkflowExecution, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		execution, err := e.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}

		if execution.Status.IsTerminal() {
			return execution, nil
		}

		select {
		case <-ctx.Done():
			return execution, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) executionCommand(
	ctx context.Context,
	id string,
	command func(context.Context, string) (*models.WorkflowExecution, error),
) error {
	_, err := command(ctx, id)
	if err != nil {
		return err
	}

	e.stats.Refresh(ctx)

	return nil
}

// refreshed wraps a mutating call so the stats snapshot follows its success.
func refreshed[In any](
	ctx context.Context,
	e *Engine,
	call func(context.Context, In) (*models.WorkflowDefinition, error),
) func(In) (*models.WorkflowDefinition, error) {
	return func(in In) (*models.WorkflowDefinition, error) {
		def, err := call(ctx, in)
		if err != nil {
			return nil, err
		}

		e.stats.Refresh(ctx)

		return def, nil
	}
}

// settledPublisher refreshes the stats snapshot whenever an execution reaches a terminal
// status, since walks finish outside of any API call.
type settledPublisher struct {
	eventbus.EventPublisher

	stats *stats.Aggregator
}

func (p settledPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	err := p.EventPublisher.Publish(ctx, key, event)

	switch event.GetType() {
	case events.ExecutionCompletedEvent, events.ExecutionFailedEvent, events.ExecutionCancelledEvent:
		p.stats.Refresh(ctx)
	}

	return err
}

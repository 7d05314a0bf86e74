package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/weave/pkg/expression"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor walks the graph of one execution with an explicit work stack. Each work item
// carries its ancestor path, which is how cycles are detected.
type Executor struct {
	tracker   *Tracker
	handlers  HandlerTable
	evaluator expression.Evaluator
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewExecutor(
	tracker *Tracker,
	handlers HandlerTable,
	evaluator expression.Evaluator,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Executor {
	if evaluator == nil {
		evaluator = expression.TemplateEvaluator{}
	}

	if handlers == nil {
		handlers = NewHandlerTable(HandlerConfig{Evaluator: evaluator})
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Executor{
		tracker:   tracker,
		handlers:  handlers,
		evaluator: evaluator,
		tracer:    tracer,
		logger:    logger.With("module", "workflow_executor"),
	}
}

// Run walks a running execution. work is the continuation of a suspended walk, or nil to
// start at the start node. Failures of the workflow itself are recorded on the execution;
// the returned error only reports a walk that could not be carried out or was interrupted.
func (e *Executor) Run(ctx context.Context, executionID string, work []models.WorkItem) error {
	// Store writes must land even after the walk's context is cancelled.
	storeCtx := context.WithoutCancel(ctx)

	execution, err := e.tracker.Get(storeCtx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.WorkflowVersionKey, execution.WorkflowVersion),
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	logger := e.logger.With("execution_id", executionID, "workflow_id", execution.WorkflowID)

	def := execution.Definition
	if def == nil {
		return e.fail(storeCtx, span, executionID, ErrDefinitionNotPresent)
	}

	if work == nil {
		start, ok := def.StartNode()
		if !ok {
			return e.fail(storeCtx, span, executionID, ErrStartNodeNotFound)
		}

		work = []models.WorkItem{{NodeID: start.ID}}
	}

	if timeout := def.Settings.ExecutionTimeout; timeout > 0 && execution.StartedAt != nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithDeadlineCause(ctx, execution.StartedAt.Add(timeout), ErrExecutionTimedOut)
		defer cancel()
	}

	logger.InfoContext(ctx, "Walking workflow graph", "pending_nodes", len(work))

	stack := slices.Clone(work)

	for len(stack) > 0 {
		current, err := e.tracker.Get(storeCtx, executionID)
		if err != nil {
			return fmt.Errorf("failed to reload execution %s: %w", executionID, err)
		}

		switch current.Status {
		case models.ExecutionStatusRunning:
		case models.ExecutionStatusPaused:
			suspended, err := e.tracker.Suspend(storeCtx, executionID, stack)
			if err != nil {
				return err
			}

			if suspended {
				logger.InfoContext(ctx, "Walk suspended", "remaining", len(stack))

				return nil
			}

			continue
		default:
			logger.InfoContext(ctx, "Walk stopped", "status", current.Status)

			return nil
		}

		if ctx.Err() != nil {
			return e.interrupted(ctx, storeCtx, span, executionID, stack)
		}

		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, ok := def.NodeByID(item.NodeID)
		if !ok {
			return e.fail(storeCtx, span, executionID, fmt.Errorf("%w: %s", ErrNodeNotFound, item.NodeID))
		}

		if slices.Contains(item.Path, node.ID) {
			return e.fail(storeCtx, span, executionID, fmt.Errorf("%w at node %s", ErrConnectionCycle, node.ID))
		}

		next, err := e.step(ctx, storeCtx, current, node, item)
		if err == nil {
			for i := len(next) - 1; i >= 0; i-- {
				stack = append(stack, next[i])
			}

			continue
		}

		if ctx.Err() != nil {
			if context.Cause(ctx) == ErrExecutionTimedOut {
				return e.fail(storeCtx, span, executionID, ErrExecutionTimedOut)
			}

			stack = append(stack, item)

			continue
		}

		if def.Settings.ErrorHandling.OnError == models.OnErrorContinue {
			logger.WarnContext(ctx, "Node failed, continuing", "node_id", node.ID, "error", err)

			_ = e.tracker.AddExecutionLog(storeCtx, executionID, node.ID, models.LogLevelWarn,
				"Node "+node.ID+" failed, branch ended", map[string]any{"error": err.Error()})

			continue
		}

		return e.fail(storeCtx, span, executionID, err)
	}

	return e.finish(ctx, storeCtx, executionID, logger)
}

// finish completes a walk whose work ran out. An execution paused meanwhile keeps its
// status; the completion is held until it is resumed.
func (e *Executor) finish(ctx, storeCtx context.Context, executionID string, logger *slog.Logger) error {
	for {
		final, err := e.tracker.Get(storeCtx, executionID)
		if err != nil {
			return err
		}

		switch final.Status {
		case models.ExecutionStatusRunning:
			_, err = e.tracker.Complete(storeCtx, executionID, endOutputs(final))
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}

			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Workflow execution completed")

			return nil
		case models.ExecutionStatusPaused:
			held, err := e.tracker.Hold(storeCtx, executionID, "")
			if err != nil {
				return err
			}

			if held {
				logger.InfoContext(ctx, "Walk ended while paused, completion held until resume")

				return nil
			}
		default:
			logger.InfoContext(ctx, "Walk stopped", "status", final.Status)

			return nil
		}
	}
}

// step runs one node: opens its node execution, performs its own work with retries, and
// returns the work items of the connections to follow.
func (e *Executor) step(
	ctx, storeCtx context.Context,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	item models.WorkItem,
) ([]models.WorkItem, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "node."+string(node.Type),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	ne, err := e.tracker.OpenNode(storeCtx, execution.ID, node, item.Input)
	if err != nil {
		return nil, err
	}

	nc := &NodeContext{
		Execution:  execution,
		Definition: execution.Definition,
		Node:       node,
		Input:      item.Input,
	}

	outcome, err := e.attempt(ctx, storeCtx, nc, ne.ID)

	var (
		next    []models.WorkItem
		skipped []*models.WorkflowNode
	)

	if err == nil {
		next, skipped, err = e.route(ctx, nc, outcome, item)
	}

	if err != nil {
		status := models.NodeExecutionStatusFailed
		if ctx.Err() != nil && context.Cause(ctx) != ErrExecutionTimedOut {
			status = models.NodeExecutionStatusCancelled
		}

		otelhelper.SetError(span, err, attribute.String(otelhelper.NodeIDKey, node.ID))

		closeErr := e.tracker.CloseNode(storeCtx, execution.ID, ne.ID, status, nil, err)
		if closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}

		return nil, err
	}

	err = e.tracker.CloseNode(storeCtx, execution.ID, ne.ID, models.NodeExecutionStatusCompleted, outcome.Output, nil)
	if err != nil {
		return nil, err
	}

	for _, target := range skipped {
		err = e.tracker.SkipNode(storeCtx, execution.ID, target, "connection condition evaluated to false")
		if err != nil {
			return nil, err
		}
	}

	return next, nil
}

// attempt runs the node handler, retrying failures up to the node's retry count, or the
// workflow retry policy when the node sets none.
func (e *Executor) attempt(ctx, storeCtx context.Context, nc *NodeContext, nodeExecutionID string) (Outcome, error) {
	handler, ok := e.handlers[nc.Node.Type]
	if !ok {
		handler = unsupported
	}

	retries, delay := nc.Node.Config.RetryCount, nc.Node.Config.RetryDelay
	if policy := nc.Definition.Settings.RetryPolicy; retries == 0 && policy.Enabled {
		retries = policy.MaxRetries

		if delay == 0 {
			delay = policy.RetryDelay
		}
	}

	var previous error

	for attempt := 0; ; attempt++ {
		_, err := e.tracker.RecordAttempt(storeCtx, nc.Execution.ID, nodeExecutionID, previous)
		if err != nil {
			return Outcome{}, err
		}

		if attempt > 0 && delay > 0 {
			err = sleep(ctx, delay)
			if err != nil {
				return Outcome{}, previous
			}
		}

		outcome, err := e.runOnce(ctx, handler, nc)
		if err == nil {
			return outcome, nil
		}

		previous = err

		if attempt >= retries || ctx.Err() != nil {
			return Outcome{}, err
		}
	}
}

// runOnce runs a single attempt bounded by the node timeout. A panicking handler fails
// the attempt.
func (e *Executor) runOnce(ctx context.Context, handler Handler, nc *NodeContext) (outcome Outcome, err error) {
	timeout := nc.Node.Config.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s panicked: %v", nc.Node.ID, r)
		}
	}()

	outcome, err = handler(ctx, nc)
	if err != nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) && context.Cause(ctx) != ErrExecutionTimedOut {
		err = fmt.Errorf("node %s timed out after %s: %w", nc.Node.ID, timeout, err)
	}

	return outcome, err
}

// route evaluates the guards of the outgoing connections. Targets behind a false guard
// are returned as skipped.
func (e *Executor) route(
	ctx context.Context,
	nc *NodeContext,
	outcome Outcome,
	item models.WorkItem,
) ([]models.WorkItem, []*models.WorkflowNode, error) {
	var (
		next    []models.WorkItem
		skipped []*models.WorkflowNode
	)

	path := append(slices.Clone(item.Path), nc.Node.ID)

	for _, conn := range outcome.Next {
		target, ok := nc.Definition.NodeByID(conn.TargetNodeID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, conn.TargetNodeID)
		}

		if conn.Condition != "" {
			pass, err := e.evaluator.Evaluate(ctx, conn.Condition, nc.Execution, outcome.Output)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to evaluate condition of connection %s: %w", conn.ID, err)
			}

			if !pass {
				skipped = append(skipped, target)

				continue
			}
		}

		next = append(next, models.WorkItem{NodeID: target.ID, Path: path, Input: outcome.Output})
	}

	return next, skipped, nil
}

func (e *Executor) fail(ctx context.Context, span trace.Span, executionID string, cause error) error {
	otelhelper.SetError(span, cause, attribute.String(otelhelper.ExecutionIDKey, executionID))

	err := e.tracker.Fail(ctx, executionID, cause.Error())
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return err
	}

	e.logger.WarnContext(ctx, "Workflow execution failed", "execution_id", executionID, "error", cause)

	return nil
}

// interrupted saves the remaining work of a walk whose context ended without the
// execution being cancelled, so it can be resumed later.
func (e *Executor) interrupted(ctx, storeCtx context.Context, span trace.Span, executionID string, stack []models.WorkItem) error {
	if context.Cause(ctx) == ErrExecutionTimedOut {
		return e.fail(storeCtx, span, executionID, ErrExecutionTimedOut)
	}

	err := e.tracker.Checkpoint(storeCtx, executionID, stack)
	if err != nil {
		return errors.Join(ctx.Err(), err)
	}

	return ctx.Err()
}

// endOutputs collects the outputs of the end nodes reached, keyed by node id.
func endOutputs(execution *models.WorkflowExecution) map[string]any {
	result := make(map[string]any)

	for _, ne := range execution.NodeExecutions {
		if ne.NodeType == models.NodeTypeEnd && ne.Status == models.NodeExecutionStatusCompleted {
			result[ne.NodeID] = ne.Output
		}
	}

	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

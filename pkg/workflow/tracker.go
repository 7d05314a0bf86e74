// Package workflow runs workflow executions: the state tracker, the graph walker and
// the concurrency-limited scheduler.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
	"github.com/google/uuid"
)

// ErrInvalidTransition is returned for a status change the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected execution status change.
type TransitionError struct {
	ExecutionID string
	From        models.ExecutionStatus
	To          models.ExecutionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("execution %s cannot move from %s to %s", e.ExecutionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Tracker is the single writer of executions, node executions and execution logs.
// Every mutation is a read-modify-write through the persistence layer under one mutex.
type Tracker struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	mu sync.Mutex
}

func NewTracker(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Tracker {
	if publisher == nil {
		publisher = eventbus.Noop{}
	}

	return &Tracker{
		persistence: p,
		publisher:   publisher,
		logger:      logger.With("module", "execution_tracker"),
	}
}

// Create stores a pending execution pinned to a snapshot of def. Its variables are the
// definition variables overlaid by the trigger data.
func (t *Tracker) Create(
	ctx context.Context,
	def *models.WorkflowDefinition,
	triggerData map[string]any,
	triggeredBy string,
) (*models.WorkflowExecution, error) {
	variables := make(map[string]any, len(def.Variables)+len(triggerData))
	maps.Copy(variables, def.Variables)
	maps.Copy(variables, triggerData)

	execution := &models.WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		Definition:      def.Clone(),
		Status:          models.ExecutionStatusPending,
		CreatedAt:       time.Now().UTC(),
		TriggeredBy:     triggeredBy,
		TriggerData:     maps.Clone(triggerData),
		Variables:       variables,
		NodeExecutions:  []*models.WorkflowNodeExecution{},
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	t.appendLogs(ctx, newEntry(execution, "", models.LogLevelInfo, "Execution created",
		map[string]any{"triggered_by": triggeredBy}))

	t.logger.DebugContext(ctx, "Execution created", "execution_id", execution.ID, "workflow_id", def.ID)

	return execution.Clone(), nil
}

// Get returns the execution or an error wrapping persistence.ErrExecutionNotFound.
func (t *Tracker) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return t.persistence.ExecutionRepository().GetByID(ctx, id)
}

// Transition moves the execution to status to. errMsg is recorded on failed and
// cancelled executions.
func (t *Tracker) Transition(ctx context.Context, id string, to models.ExecutionStatus, errMsg string) (*models.WorkflowExecution, error) {
	return t.transition(ctx, id, to, transitionOptions{errMsg: errMsg})
}

// Complete moves a running execution to completed with its result.
func (t *Tracker) Complete(ctx context.Context, id string, result map[string]any) (*models.WorkflowExecution, error) {
	return t.transition(ctx, id, models.ExecutionStatusCompleted, transitionOptions{result: result})
}

// Cancel moves a non-terminal execution to cancelled and closes its open node executions.
func (t *Tracker) Cancel(ctx context.Context, id, reason string) (*models.WorkflowExecution, error) {
	return t.transition(ctx, id, models.ExecutionStatusCancelled, transitionOptions{errMsg: reason})
}

// Pause moves a running execution to paused.
func (t *Tracker) Pause(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return t.transition(ctx, id, models.ExecutionStatusPaused, transitionOptions{})
}

// Fail moves a running execution to failed. A paused execution keeps its status and
// holds the failure, which is settled when it is resumed.
func (t *Tracker) Fail(ctx context.Context, id, errMsg string) error {
	for {
		_, err := t.transition(ctx, id, models.ExecutionStatusFailed, transitionOptions{errMsg: errMsg})

		var transitionErr *TransitionError
		if !errors.As(err, &transitionErr) || transitionErr.From != models.ExecutionStatusPaused {
			return err
		}

		held, err := t.Hold(ctx, id, errMsg)
		if err != nil || held {
			return err
		}
	}
}

// RequestResume marks a paused execution to be resumed by the next dispatch that can
// give it a walker slot. The status stays paused until then.
func (t *Tracker) RequestResume(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return t.update(ctx, id, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		if e.Status != models.ExecutionStatusPaused {
			return nil, &TransitionError{ExecutionID: id, From: e.Status, To: models.ExecutionStatusRunning}
		}

		if e.ResumeRequested {
			return nil, nil
		}

		e.ResumeRequested = true

		return []*models.WorkflowExecutionLog{newEntry(e, "", models.LogLevelInfo, "Resume requested", nil)}, nil
	})
}

// Resume moves a paused execution back to running.
func (t *Tracker) Resume(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return t.transition(ctx, id, models.ExecutionStatusRunning, transitionOptions{
		from: models.ExecutionStatusPaused,
	})
}

type transitionOptions struct {
	from   models.ExecutionStatus
	errMsg string
	result map[string]any
}

func (t *Tracker) transition(
	ctx context.Context,
	id string,
	to models.ExecutionStatus,
	opts transitionOptions,
) (*models.WorkflowExecution, error) {
	var from models.ExecutionStatus

	execution, err := t.update(ctx, id, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		from = e.Status

		if !from.CanTransitionTo(to) || (opts.from != "" && from != opts.from) {
			return nil, &TransitionError{ExecutionID: id, From: from, To: to}
		}

		now := time.Now().UTC()
		e.Status = to

		switch to {
		case models.ExecutionStatusRunning:
			e.ResumeRequested = false

			if e.StartedAt == nil {
				e.StartedAt = &now
			}
		case models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusCancelled:
			e.CompletedAt = &now
			e.Continuation = nil
			e.ResumeRequested = false
			e.WalkEnded = false

			if e.StartedAt != nil {
				e.Duration = now.Sub(*e.StartedAt)
			}

			if opts.errMsg != "" {
				e.Error = opts.errMsg
			}

			if opts.result != nil {
				e.Result = opts.result
			}
		}

		if to == models.ExecutionStatusCancelled {
			closeOpenNodes(e, now)
		}

		return []*models.WorkflowExecutionLog{transitionEntry(e, from, to, opts.errMsg)}, nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.DebugContext(ctx, "Execution status changed",
		"execution_id", id, "from", from, "to", to)
	t.publishExecution(ctx, transitionEvent(from, to), execution)

	return execution, nil
}

// Suspend stores the remaining work of a walk when the execution is paused. It reports
// false, storing nothing, when the execution is no longer paused so the walker can go on.
func (t *Tracker) Suspend(ctx context.Context, id string, continuation []models.WorkItem) (bool, error) {
	suspended := false

	_, err := t.update(ctx, id, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		if e.Status != models.ExecutionStatusPaused {
			return nil, errUnchanged
		}

		suspended = true
		e.Continuation = continuation

		return []*models.WorkflowExecutionLog{newEntry(e, "", models.LogLevelInfo, "Execution suspended",
			map[string]any{"remaining": len(continuation)})}, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return false, err
	}

	return suspended, nil
}

// Hold records that the walk of a paused execution ended, failing with errMsg when it
// is set. It reports false, storing nothing, when the execution is no longer paused.
func (t *Tracker) Hold(ctx context.Context, id, errMsg string) (bool, error) {
	held := false

	_, err := t.update(ctx, id, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		if e.Status != models.ExecutionStatusPaused {
			return nil, errUnchanged
		}

		held = true
		e.Continuation = nil
		e.WalkEnded = true
		e.Error = errMsg

		level, data := models.LogLevelInfo, map[string]any(nil)
		if errMsg != "" {
			level, data = models.LogLevelError, map[string]any{"error": errMsg}
		}

		return []*models.WorkflowExecutionLog{newEntry(e, "", level, "Walk ended while paused", data)}, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return false, err
	}

	return held, nil
}

// Checkpoint stores the remaining work of an interrupted walk on a running execution,
// so a later dispatch can resume it.
func (t *Tracker) Checkpoint(ctx context.Context, id string, continuation []models.WorkItem) error {
	_, err := t.update(ctx, id, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		if e.Status.IsTerminal() {
			return nil, errUnchanged
		}

		e.Continuation = continuation

		return []*models.WorkflowExecutionLog{newEntry(e, "", models.LogLevelWarn, "Execution interrupted",
			map[string]any{"remaining": len(continuation)})}, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}

	return nil
}

// TakeContinuation removes and returns the saved work of a suspended walk.
func (t *Tracker) TakeContinuation(ctx context.Context, id string) ([]models.WorkItem, error) {
	var continuation []models.WorkItem

	_, err := t.update(ctx, id, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		if len(e.Continuation) == 0 {
			return nil, errUnchanged
		}

		continuation = e.Continuation
		e.Continuation = nil

		return nil, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}

	return continuation, nil
}

// OpenNode records a node being entered and returns the running node execution.
func (t *Tracker) OpenNode(
	ctx context.Context,
	executionID string,
	node *models.WorkflowNode,
	input any,
) (*models.WorkflowNodeExecution, error) {
	var opened *models.WorkflowNodeExecution

	execution, err := t.update(ctx, executionID, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		now := time.Now().UTC()
		ne := &models.WorkflowNodeExecution{
			ID:          uuid.New().String(),
			NodeID:      node.ID,
			NodeType:    node.Type,
			ExecutionID: executionID,
			Status:      models.NodeExecutionStatusRunning,
			StartedAt:   &now,
			Input:       input,
		}

		entry := newEntry(e, node.ID, models.LogLevelInfo, fmt.Sprintf("Node %s started", node.ID),
			map[string]any{"node_type": node.Type})
		attach(ne, entry)

		e.NodeExecutions = append(e.NodeExecutions, ne)
		c := *ne
		opened = &c

		return []*models.WorkflowExecutionLog{entry}, nil
	})
	if err != nil {
		return nil, err
	}

	t.publishNode(ctx, events.NodeStartedEvent, execution, opened, nil)

	return opened, nil
}

// RecordAttempt counts one more attempt of the node execution. A non-nil previous
// error marks the attempt as a retry of a failed one.
func (t *Tracker) RecordAttempt(ctx context.Context, executionID, nodeExecutionID string, previous error) (int, error) {
	var (
		attempt int
		snap    models.WorkflowNodeExecution
	)

	execution, err := t.updateNode(ctx, executionID, nodeExecutionID,
		func(e *models.WorkflowExecution, ne *models.WorkflowNodeExecution) ([]*models.WorkflowExecutionLog, error) {
			ne.Attempts++
			attempt = ne.Attempts
			snap = *ne

			if previous == nil {
				return nil, nil
			}

			entry := newEntry(e, ne.NodeID, models.LogLevelWarn, fmt.Sprintf("Retrying node %s", ne.NodeID),
				map[string]any{"attempt": attempt, "error": previous.Error()})
			attach(ne, entry)

			return []*models.WorkflowExecutionLog{entry}, nil
		})
	if err != nil {
		return 0, err
	}

	if previous != nil {
		t.publishNode(ctx, events.NodeRetryEvent, execution, &snap, previous)
	}

	return attempt, nil
}

// CloseNode finishes a node execution. A node execution that is already closed, for
// example by a cancel, is left untouched.
func (t *Tracker) CloseNode(
	ctx context.Context,
	executionID, nodeExecutionID string,
	status models.NodeExecutionStatus,
	output any,
	nodeErr error,
) error {
	var (
		snap    models.WorkflowNodeExecution
		changed bool
	)

	execution, err := t.updateNode(ctx, executionID, nodeExecutionID,
		func(e *models.WorkflowExecution, ne *models.WorkflowNodeExecution) ([]*models.WorkflowExecutionLog, error) {
			if ne.Status.IsTerminal() {
				return nil, errUnchanged
			}

			now := time.Now().UTC()
			ne.Status = status
			ne.CompletedAt = &now
			ne.Output = output

			if ne.StartedAt != nil {
				ne.Duration = now.Sub(*ne.StartedAt)
			}

			level, message := models.LogLevelInfo, fmt.Sprintf("Node %s %s", ne.NodeID, status)
			data := map[string]any{"duration": ne.Duration.String()}

			if nodeErr != nil {
				ne.Error = nodeErr.Error()
				level = models.LogLevelError
				data["error"] = ne.Error
			}

			entry := newEntry(e, ne.NodeID, level, message, data)
			attach(ne, entry)

			changed = true
			snap = *ne

			return []*models.WorkflowExecutionLog{entry}, nil
		})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}

	if !changed {
		return nil
	}

	switch status {
	case models.NodeExecutionStatusCompleted:
		t.publishNode(ctx, events.NodeCompletedEvent, execution, &snap, nil)
	case models.NodeExecutionStatusFailed:
		t.publishNode(ctx, events.NodeFailedEvent, execution, &snap, nodeErr)
	}

	return nil
}

// SkipNode records a node that was not entered because its incoming guard was false.
func (t *Tracker) SkipNode(ctx context.Context, executionID string, node *models.WorkflowNode, reason string) error {
	var skipped models.WorkflowNodeExecution

	execution, err := t.update(ctx, executionID, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		now := time.Now().UTC()
		ne := &models.WorkflowNodeExecution{
			ID:          uuid.New().String(),
			NodeID:      node.ID,
			NodeType:    node.Type,
			ExecutionID: executionID,
			Status:      models.NodeExecutionStatusSkipped,
			StartedAt:   &now,
			CompletedAt: &now,
		}

		entry := newEntry(e, node.ID, models.LogLevelInfo, fmt.Sprintf("Node %s skipped", node.ID),
			map[string]any{"reason": reason})
		attach(ne, entry)

		e.NodeExecutions = append(e.NodeExecutions, ne)
		skipped = *ne

		return []*models.WorkflowExecutionLog{entry}, nil
	})
	if err != nil {
		return err
	}

	t.publishNode(ctx, events.NodeSkippedEvent, execution, &skipped, nil)

	return nil
}

// AddExecutionLog appends an entry to the execution's log stream, subject to the
// logging settings of the workflow version it runs.
func (t *Tracker) AddExecutionLog(
	ctx context.Context,
	executionID, nodeID string,
	level models.LogLevel,
	message string,
	data map[string]any,
) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	execution, err := t.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	t.appendLogs(ctx, newEntry(execution, nodeID, level, message, data))

	return nil
}

// Logs returns the execution's log stream in append order.
func (t *Tracker) Logs(ctx context.Context, executionID string) ([]*models.WorkflowExecutionLog, error) {
	_, err := t.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return t.persistence.LogRepository().GetByExecution(ctx, executionID)
}

// ActiveCount counts the non-terminal executions of a workflow, or of every workflow
// when workflowID is empty.
func (t *Tracker) ActiveCount(ctx context.Context, workflowID string) (int, error) {
	return t.count(ctx, workflowID, func(s models.ExecutionStatus) bool { return !s.IsTerminal() })
}

// RunningCount counts the running executions of a workflow, or of every workflow when
// workflowID is empty.
func (t *Tracker) RunningCount(ctx context.Context, workflowID string) (int, error) {
	return t.count(ctx, workflowID, func(s models.ExecutionStatus) bool { return s == models.ExecutionStatusRunning })
}

func (t *Tracker) count(ctx context.Context, workflowID string, match func(models.ExecutionStatus) bool) (int, error) {
	var (
		executions []*models.WorkflowExecution
		err        error
	)

	if workflowID == "" {
		executions, err = t.persistence.ExecutionRepository().GetAll(ctx)
	} else {
		executions, err = t.persistence.ExecutionRepository().GetByWorkflow(ctx, workflowID)
	}

	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	n := 0

	for _, e := range executions {
		if match(e.Status) {
			n++
		}
	}

	return n, nil
}

// errUnchanged aborts an update without saving.
var errUnchanged = errors.New("unchanged")

type mutation func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error)

// update loads the execution, applies fn and saves the result with the log entries fn
// produced. It returns a copy of the saved execution.
func (t *Tracker) update(ctx context.Context, id string, fn mutation) (*models.WorkflowExecution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	execution, err := t.persistence.ExecutionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	entries, err := fn(execution)
	if err != nil {
		return nil, err
	}

	err = t.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to save execution %s: %w", id, err)
	}

	t.appendLogs(ctx, entries...)

	return execution.Clone(), nil
}

func (t *Tracker) updateNode(
	ctx context.Context,
	executionID, nodeExecutionID string,
	fn func(e *models.WorkflowExecution, ne *models.WorkflowNodeExecution) ([]*models.WorkflowExecutionLog, error),
) (*models.WorkflowExecution, error) {
	return t.update(ctx, executionID, func(e *models.WorkflowExecution) ([]*models.WorkflowExecutionLog, error) {
		ne, ok := e.NodeExecution(nodeExecutionID)
		if !ok {
			return nil, fmt.Errorf("node execution %s not found in execution %s", nodeExecutionID, executionID)
		}

		return fn(e, ne)
	})
}

func (t *Tracker) appendLogs(ctx context.Context, entries ...*models.WorkflowExecutionLog) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}

		err := t.persistence.LogRepository().Append(ctx, entry)
		if err != nil {
			t.logger.WarnContext(ctx, "Failed to append execution log",
				"execution_id", entry.ExecutionID, "error", err)
		}
	}
}

func (t *Tracker) publishExecution(ctx context.Context, eventType events.EventType, e *models.WorkflowExecution) {
	completed := 0

	for _, ne := range e.NodeExecutions {
		if ne.Status == models.NodeExecutionStatusCompleted {
			completed++
		}
	}

	event := events.ExecutionChanged{
		BaseEvent:     events.NewBaseEvent(eventType, e.WorkflowID),
		ExecutionID:   e.ID,
		Status:        string(e.Status),
		TriggeredBy:   e.TriggeredBy,
		Error:         e.Error,
		Duration:      e.Duration,
		NodesExecuted: completed,
	}

	t.publish(ctx, e.ID, event)
}

func (t *Tracker) publishNode(
	ctx context.Context,
	eventType events.EventType,
	e *models.WorkflowExecution,
	ne *models.WorkflowNodeExecution,
	nodeErr error,
) {
	event := events.NodeChanged{
		BaseEvent:       events.NewBaseEvent(eventType, e.WorkflowID),
		ExecutionID:     e.ID,
		NodeID:          ne.NodeID,
		NodeType:        string(ne.NodeType),
		NodeExecutionID: ne.ID,
		Attempt:         ne.Attempts,
		Duration:        ne.Duration,
	}

	if nodeErr != nil {
		event.Error = nodeErr.Error()
	}

	t.publish(ctx, e.ID, event)
}

func (t *Tracker) publish(ctx context.Context, key string, event eventbus.Event) {
	err := t.publisher.Publish(ctx, key, event)
	if err != nil {
		t.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func transitionEvent(from, to models.ExecutionStatus) events.EventType {
	switch to {
	case models.ExecutionStatusRunning:
		if from == models.ExecutionStatusPaused {
			return events.ExecutionResumedEvent
		}

		return events.ExecutionStartedEvent
	case models.ExecutionStatusPaused:
		return events.ExecutionPausedEvent
	case models.ExecutionStatusCompleted:
		return events.ExecutionCompletedEvent
	case models.ExecutionStatusFailed:
		return events.ExecutionFailedEvent
	default:
		return events.ExecutionCancelledEvent
	}
}

func transitionEntry(e *models.WorkflowExecution, from, to models.ExecutionStatus, errMsg string) *models.WorkflowExecutionLog {
	level := models.LogLevelInfo
	data := map[string]any{"from": from, "to": to}

	switch to {
	case models.ExecutionStatusFailed:
		level = models.LogLevelError
	case models.ExecutionStatusCancelled:
		level = models.LogLevelWarn
	}

	if errMsg != "" {
		data["error"] = errMsg
	}

	if settingsOf(e).Logging.IncludeVariables &&
		(to == models.ExecutionStatusRunning || to.IsTerminal()) {
		data["variables"] = maps.Clone(e.Variables)
	}

	return newEntry(e, "", level, "Execution "+string(to), data)
}

func closeOpenNodes(e *models.WorkflowExecution, now time.Time) {
	for _, ne := range e.NodeExecutions {
		if ne.Status.IsTerminal() {
			continue
		}

		ne.Status = models.NodeExecutionStatusCancelled
		ne.CompletedAt = &now

		if ne.StartedAt != nil {
			ne.Duration = now.Sub(*ne.StartedAt)
		}
	}
}

// newEntry builds a log entry, or returns nil when the execution's logging settings
// filter it out. With logging disabled only warnings and errors are kept.
func newEntry(
	e *models.WorkflowExecution,
	nodeID string,
	level models.LogLevel,
	message string,
	data map[string]any,
) *models.WorkflowExecutionLog {
	logging := settingsOf(e).Logging

	if !logging.Enabled && !level.Enabled(models.LogLevelWarn) {
		return nil
	}

	if logging.Enabled && !level.Enabled(logging.Level) {
		return nil
	}

	return &models.WorkflowExecutionLog{
		ID:          uuid.New().String(),
		ExecutionID: e.ID,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}
}

func attach(ne *models.WorkflowNodeExecution, entry *models.WorkflowExecutionLog) {
	if entry != nil {
		ne.Logs = append(ne.Logs, entry)
	}
}

func settingsOf(e *models.WorkflowExecution) models.WorkflowSettings {
	if e.Definition == nil {
		return models.DefaultSettings()
	}

	return e.Definition.Settings
}

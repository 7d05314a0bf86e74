package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
	"github.com/dukex/weave/pkg/queue"
	"github.com/dukex/weave/pkg/services"
)

const (
	DefaultMaxConcurrentExecutions = 10
	DefaultTickInterval            = time.Second
)

var ErrSchedulerStarted = errors.New("scheduler already started")

// SchedulerConfig configures a Scheduler. Zero values fall back to the defaults.
type SchedulerConfig struct {
	Persistence persistence.Persistence
	Tracker     *Tracker
	Executor    *Executor
	Queue       queue.Queue
	Publisher   eventbus.EventPublisher
	Logger      *slog.Logger

	// MaxConcurrentExecutions bounds the walks running at once across every workflow.
	MaxConcurrentExecutions int
	TickInterval            time.Duration
}

// Scheduler admits executions, queues them and hands them to walkers as global slots
// free up. Each walk runs in its own goroutine; a failing walk never affects the others.
type Scheduler struct {
	persistence persistence.Persistence
	tracker     *Tracker
	executor    *Executor
	queue       queue.Queue
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	maxConcurrent int
	tickInterval  time.Duration

	// admit serialises the concurrency check and creation of Submit, every start of a
	// pending execution and the sections run by Exclusive.
	admit sync.Mutex

	mu          sync.Mutex
	walkers     map[string]context.CancelFunc
	walkCtx     context.Context
	cancelWalks context.CancelFunc
	stopLoop    context.CancelFunc
	loopDone    chan struct{}
	wg          sync.WaitGroup

	wake chan struct{}
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = DefaultMaxConcurrentExecutions
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	if cfg.Queue == nil {
		cfg.Queue = queue.NewMemoryQueue()
	}

	if cfg.Publisher == nil {
		cfg.Publisher = eventbus.Noop{}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	walkCtx, cancelWalks := context.WithCancel(context.Background())

	return &Scheduler{
		persistence:   cfg.Persistence,
		tracker:       cfg.Tracker,
		executor:      cfg.Executor,
		queue:         cfg.Queue,
		publisher:     cfg.Publisher,
		logger:        cfg.Logger.With("module", "execution_scheduler"),
		maxConcurrent: cfg.MaxConcurrentExecutions,
		tickInterval:  cfg.TickInterval,
		walkers:       make(map[string]context.CancelFunc),
		walkCtx:       walkCtx,
		cancelWalks:   cancelWalks,
		wake:          make(chan struct{}, 1),
	}
}

// Submit creates a pending execution of an active workflow and queues it. Every
// non-terminal execution of the workflow counts toward its concurrency limit, so a
// queued execution holds a slot.
func (s *Scheduler) Submit(
	ctx context.Context,
	workflowID string,
	triggerData map[string]any,
	triggeredBy string,
) (*models.WorkflowExecution, error) {
	const op = "ExecuteWorkflow"

	s.admit.Lock()
	defer s.admit.Unlock()

	def, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, services.NotFound(op, "workflow", workflowID)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if !def.IsActive {
		return nil, services.NewServiceError(op, services.CodeNotActive,
			fmt.Sprintf("workflow %s is not active", workflowID), services.ErrNotActive)
	}

	if limit := def.Settings.MaxConcurrentExecutions; limit > 0 {
		active, err := s.tracker.ActiveCount(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		if active >= limit {
			return nil, services.NewServiceError(op, services.CodeMaxConcurrentExceeded,
				fmt.Sprintf("workflow %s already has %d of %d executions", workflowID, active, limit),
				services.ErrMaxConcurrentExceeded)
		}
	}

	execution, err := s.tracker.Create(ctx, def, triggerData, triggeredBy)
	if err != nil {
		return nil, err
	}

	err = s.queue.Push(ctx, execution.ID)
	if err != nil {
		_, _ = s.tracker.Cancel(context.WithoutCancel(ctx), execution.ID, "failed to enqueue execution")

		return nil, fmt.Errorf("failed to enqueue execution %s: %w", execution.ID, err)
	}

	s.logger.InfoContext(ctx, "Execution queued",
		"execution_id", execution.ID, "workflow_id", workflowID, "triggered_by", triggeredBy)
	s.signal()

	return execution, nil
}

// Exclusive runs fn while no execution can be submitted or started. Workflow deletion
// runs through it, so the executions it cascades over are never picked up midway.
func (s *Scheduler) Exclusive(fn func() error) error {
	s.admit.Lock()
	defer s.admit.Unlock()

	return fn()
}

// Cancel cancels a non-terminal execution and interrupts its walker.
func (s *Scheduler) Cancel(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	const op = "CancelExecution"

	_, err := s.load(ctx, op, executionID)
	if err != nil {
		return nil, err
	}

	execution, err := s.tracker.Cancel(ctx, executionID, "cancelled by request")
	if err != nil {
		return nil, transitionFailure(op, executionID, err)
	}

	err = s.queue.Remove(ctx, executionID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to remove execution from queue", "execution_id", executionID, "error", err)
	}

	s.mu.Lock()
	if cancel, ok := s.walkers[executionID]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)

	return execution, nil
}

// Pause pauses a running execution. Its walker saves the remaining work at the next node.
func (s *Scheduler) Pause(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	const op = "PauseExecution"

	current, err := s.load(ctx, op, executionID)
	if err != nil {
		return nil, err
	}

	if current.Status != models.ExecutionStatusRunning {
		return nil, statusFailure(op, current)
	}

	execution, err := s.tracker.Pause(ctx, executionID)
	if err != nil {
		return nil, transitionFailure(op, executionID, err)
	}

	return execution, nil
}

// Resume puts a paused execution back in the queue. It stays paused until a tick hands
// it a walker slot, so a resumed execution never runs beyond the global limit.
func (s *Scheduler) Resume(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	const op = "ResumeExecution"

	current, err := s.load(ctx, op, executionID)
	if err != nil {
		return nil, err
	}

	if current.Status != models.ExecutionStatusPaused {
		return nil, statusFailure(op, current)
	}

	execution, err := s.tracker.RequestResume(ctx, executionID)
	if err != nil {
		return nil, transitionFailure(op, executionID, err)
	}

	err = s.queue.Push(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue execution %s: %w", executionID, err)
	}

	s.signal()

	return execution, nil
}

// Start runs the tick loop until Stop is called or ctx ends. Executions left pending or
// interrupted by a previous run are queued again first.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopLoop != nil {
		s.mu.Unlock()

		return ErrSchedulerStarted
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	s.stopLoop = stopLoop
	s.loopDone = make(chan struct{})
	done := s.loopDone
	s.mu.Unlock()

	err := s.requeue(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to requeue executions", "error", err)
	}

	go s.loop(loopCtx, done)

	s.logger.InfoContext(ctx, "Scheduler started",
		"max_concurrent_executions", s.maxConcurrent, "tick_interval", s.tickInterval)

	return nil
}

// Stop ends the tick loop and waits for running walks. When ctx expires first the walks
// are cancelled; their remaining work is saved so a later Start resumes them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stopLoop, done := s.stopLoop, s.loopDone
	s.stopLoop, s.loopDone = nil, nil
	s.mu.Unlock()

	if stopLoop != nil {
		stopLoop()
		<-done
	}

	waited := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		s.logger.InfoContext(ctx, "Scheduler stopped")

		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelWalks()
		s.walkCtx, s.cancelWalks = context.WithCancel(context.Background())
		s.mu.Unlock()

		<-waited
		s.logger.WarnContext(ctx, "Scheduler stopped, running walks were interrupted")

		return ctx.Err()
	}
}

// ActiveWalkers returns the number of walks currently running.
func (s *Scheduler) ActiveWalkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.walkers)
}

// Wait blocks until every running walk has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}

		_, err := s.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
		}
	}
}

// Tick dispatches up to as many queued executions as there are free global slots and
// returns how many ids it took from the queue.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	s.mu.Lock()
	available := s.maxConcurrent - len(s.walkers)
	s.mu.Unlock()

	if available <= 0 {
		return 0, nil
	}

	ids, err := s.queue.PopN(ctx, available)
	if err != nil {
		return 0, fmt.Errorf("failed to pop queued executions: %w", err)
	}

	for _, id := range ids {
		s.dispatch(ctx, id)
	}

	return len(ids), nil
}

// dispatch starts a pending execution, resumes a paused or suspended one, defers one
// whose walker is still running, and drops anything else. Every status change to
// running happens after a walker slot is claimed.
func (s *Scheduler) dispatch(ctx context.Context, id string) {
	execution, err := s.tracker.Get(ctx, id)
	if err != nil {
		if !persistence.IsExecutionNotFound(err) {
			s.logger.ErrorContext(ctx, "Failed to load queued execution", "execution_id", id, "error", err)
			s.publishError(ctx, "", id, err)
		}

		return
	}

	switch {
	case execution.Status == models.ExecutionStatusPending:
		walkCtx, ok := s.claim(id)
		if !ok {
			s.requeueLater(ctx, id)

			return
		}

		s.admit.Lock()
		_, err = s.tracker.Transition(ctx, id, models.ExecutionStatusRunning, "")
		s.admit.Unlock()

		if err != nil {
			s.release(id)
			s.logger.WarnContext(ctx, "Failed to start execution", "execution_id", id, "error", err)

			return
		}

		s.launch(walkCtx, execution, nil)
	case execution.Status == models.ExecutionStatusPaused && execution.ResumeRequested:
		walkCtx, ok := s.claim(id)
		if !ok {
			s.requeueLater(ctx, id)

			return
		}

		resumed, err := s.tracker.Resume(ctx, id)
		if err != nil {
			s.release(id)
			s.logger.WarnContext(ctx, "Failed to resume execution", "execution_id", id, "error", err)

			return
		}

		s.proceed(ctx, walkCtx, resumed)
	case execution.Status == models.ExecutionStatusRunning:
		walkCtx, ok := s.claim(id)
		if !ok {
			s.requeueLater(ctx, id)

			return
		}

		s.proceed(ctx, walkCtx, execution)
	default:
		s.logger.DebugContext(ctx, "Dropping queued execution", "execution_id", id, "status", execution.Status)
	}
}

// proceed continues a running execution that holds a walker slot and has no walk. It
// walks the saved work, or settles the outcome held by a walk that ended while paused.
// Without either the walker was lost mid-node and the execution fails.
func (s *Scheduler) proceed(ctx, walkCtx context.Context, execution *models.WorkflowExecution) {
	id := execution.ID

	work, err := s.tracker.TakeContinuation(ctx, id)
	if err != nil {
		s.release(id)
		s.logger.ErrorContext(ctx, "Failed to load continuation", "execution_id", id, "error", err)

		return
	}

	if len(work) > 0 {
		s.launch(walkCtx, execution, work)

		return
	}

	defer s.release(id)

	switch {
	case execution.WalkEnded && execution.Error != "":
		err = s.tracker.Fail(ctx, id, execution.Error)
	case execution.WalkEnded:
		_, err = s.tracker.Complete(ctx, id, endOutputs(execution))
	default:
		err = s.tracker.Fail(ctx, id, "execution interrupted")
	}

	if err != nil {
		s.logger.WarnContext(ctx, "Failed to settle execution", "execution_id", id, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Execution settled without walking", "execution_id", id)
}

func (s *Scheduler) launch(ctx context.Context, execution *models.WorkflowExecution, work []models.WorkItem) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.signal()
		defer s.release(execution.ID)

		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("walker panicked: %v", r)
				storeCtx := context.WithoutCancel(ctx)

				s.logger.ErrorContext(storeCtx, "Recovered walker panic", "execution_id", execution.ID, "error", err)
				_ = s.tracker.Fail(storeCtx, execution.ID, err.Error())
				s.publishError(storeCtx, execution.WorkflowID, execution.ID, err)
			}
		}()

		err := s.executor.Run(ctx, execution.ID, work)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "Walk failed", "execution_id", execution.ID, "error", err)
			s.publishError(context.WithoutCancel(ctx), execution.WorkflowID, execution.ID, err)
		}
	}()
}

// claim registers a walker for id. It fails when one is already running.
func (s *Scheduler) claim(id string) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.walkers[id]; ok {
		return nil, false
	}

	ctx, cancel := context.WithCancel(s.walkCtx)
	s.walkers[id] = cancel

	return ctx, true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.walkers[id]; ok {
		cancel()
		delete(s.walkers, id)
	}
}

func (s *Scheduler) walking(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.walkers[id]

	return ok
}

func (s *Scheduler) requeueLater(ctx context.Context, id string) {
	err := s.queue.Push(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to requeue execution", "execution_id", id, "error", err)
	}
}

// requeue queues the executions a previous run left behind: pending ones, paused ones
// waiting to resume and running ones with saved work. Running executions without saved
// work lost their walker mid-node and are failed.
func (s *Scheduler) requeue(ctx context.Context) error {
	executions, err := s.persistence.ExecutionRepository().GetAll(ctx)
	if err != nil {
		return err
	}

	for _, execution := range executions {
		switch {
		case execution.Status == models.ExecutionStatusPending:
		case execution.Status == models.ExecutionStatusPaused && execution.ResumeRequested:
		case execution.Status == models.ExecutionStatusRunning && len(execution.Continuation) > 0:
		case execution.Status == models.ExecutionStatusRunning && !s.walking(execution.ID):
			err = s.tracker.Fail(ctx, execution.ID, "execution interrupted")
			if err != nil {
				s.logger.WarnContext(ctx, "Failed to fail interrupted execution", "execution_id", execution.ID, "error", err)
			}

			continue
		default:
			continue
		}

		err = s.queue.Push(ctx, execution.ID)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) load(ctx context.Context, op, executionID string) (*models.WorkflowExecution, error) {
	execution, err := s.tracker.Get(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, services.NotFound(op, "execution", executionID)
		}

		return nil, err
	}

	if execution.Status.IsTerminal() {
		return nil, alreadyFinished(op, execution.ID, execution.Status)
	}

	return execution, nil
}

func (s *Scheduler) publishError(ctx context.Context, workflowID, executionID string, err error) {
	event := events.NewWorkflowError(workflowID, executionID, "scheduler", err)

	pubErr := s.publisher.Publish(ctx, executionID, event)
	if pubErr != nil {
		s.logger.WarnContext(ctx, "Failed to publish workflow error", "error", pubErr)
	}
}

func alreadyFinished(op, id string, status models.ExecutionStatus) error {
	return services.NewServiceError(op, services.CodeAlreadyFinished,
		fmt.Sprintf("execution %s is already %s", id, status), services.ErrAlreadyFinished)
}

func statusFailure(op string, execution *models.WorkflowExecution) error {
	return services.NewServiceError(op, services.CodeInvalidStatus,
		fmt.Sprintf("execution %s is %s", execution.ID, execution.Status), services.ErrInvalidStatus)
}

func transitionFailure(op, id string, err error) error {
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		if persistence.IsExecutionNotFound(err) {
			return services.NotFound(op, "execution", id)
		}

		return err
	}

	if transitionErr.From.IsTerminal() {
		return alreadyFinished(op, id, transitionErr.From)
	}

	return services.NewServiceError(op, services.CodeInvalidStatus, transitionErr.Error(), services.ErrInvalidStatus)
}

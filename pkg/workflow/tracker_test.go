package workflow

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *memory.Persistence, *eventbus.Channel) {
	t.Helper()

	p := memory.NewPersistence()
	channel := eventbus.NewChannel(256)
	t.Cleanup(func() { _ = channel.Close() })

	return NewTracker(p, channel, slog.Default()), p, channel
}

func drain(channel *eventbus.Channel) []events.EventType {
	var types []events.EventType

	for {
		select {
		case msg := <-channel.Events():
			types = append(types, msg.Event.GetType())
		default:
			return types
		}
	}
}

func TestTracker_Create(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	def := testutil.CreateTestWorkflow()
	def.Variables = map[string]any{"region": "eu", "limit": 10}

	execution, err := tracker.Create(t.Context(), def, map[string]any{"limit": 20}, "manual")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, def.ID, execution.WorkflowID)
	assert.Equal(t, def.Version, execution.WorkflowVersion)
	assert.Equal(t, "manual", execution.TriggeredBy)
	assert.Equal(t, map[string]any{"region": "eu", "limit": 20}, execution.Variables)
	assert.Nil(t, execution.StartedAt)
	require.NotNil(t, execution.Definition)

	// The snapshot does not follow later edits of the definition.
	def.Nodes[1].Name = "edited"
	stored, err := tracker.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "Task", stored.Definition.Nodes[1].Name)

	logs, err := tracker.Logs(t.Context(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Execution created", logs[0].Message)
}

func TestTracker_StatusMachine(t *testing.T) {
	tracker, _, channel := newTestTracker(t)
	ctx := t.Context()

	execution, err := tracker.Create(ctx, testutil.CreateTestWorkflow(), nil, "manual")
	require.NoError(t, err)

	_, err = tracker.Transition(ctx, execution.ID, models.ExecutionStatusCompleted, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = tracker.Pause(ctx, execution.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	running, err := tracker.Transition(ctx, execution.ID, models.ExecutionStatusRunning, "")
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	_, err = tracker.Pause(ctx, execution.ID)
	require.NoError(t, err)

	resumed, err := tracker.Resume(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, running.StartedAt, resumed.StartedAt)

	_, err = tracker.Resume(ctx, execution.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	done, err := tracker.Complete(ctx, execution.ID, map[string]any{"end": "ok"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, map[string]any{"end": "ok"}, done.Result)

	for _, to := range []models.ExecutionStatus{
		models.ExecutionStatusRunning,
		models.ExecutionStatusFailed,
		models.ExecutionStatusCancelled,
		models.ExecutionStatusPaused,
	} {
		_, err = tracker.Transition(ctx, execution.ID, to, "late")

		var transitionErr *TransitionError
		require.ErrorAs(t, err, &transitionErr)
		assert.Equal(t, models.ExecutionStatusCompleted, transitionErr.From)
	}

	stored, err := tracker.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Empty(t, stored.Error)

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionPausedEvent,
		events.ExecutionResumedEvent,
		events.ExecutionCompletedEvent,
	}, drain(channel))
}

func TestTracker_CancelClosesOpenNodes(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := t.Context()

	def := testutil.CreateTestWorkflow()
	execution, err := tracker.Create(ctx, def, nil, "manual")
	require.NoError(t, err)

	_, err = tracker.Transition(ctx, execution.ID, models.ExecutionStatusRunning, "")
	require.NoError(t, err)

	ne, err := tracker.OpenNode(ctx, execution.ID, def.Nodes[0], nil)
	require.NoError(t, err)

	cancelled, err := tracker.Cancel(ctx, execution.ID, "stop")
	require.NoError(t, err)
	assert.Equal(t, "stop", cancelled.Error)
	assert.Equal(t, models.NodeExecutionStatusCancelled, cancelled.NodeExecutions[0].Status)

	// Closing a node after the cancel does not rewrite it.
	err = tracker.CloseNode(ctx, execution.ID, ne.ID, models.NodeExecutionStatusCompleted, "late", nil)
	require.NoError(t, err)

	stored, err := tracker.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeExecutionStatusCancelled, stored.NodeExecutions[0].Status)
	assert.Nil(t, stored.NodeExecutions[0].Output)
}

func TestTracker_NodeLifecycle(t *testing.T) {
	tracker, _, channel := newTestTracker(t)
	ctx := t.Context()

	def := testutil.CreateTestWorkflow()
	execution, err := tracker.Create(ctx, def, nil, "manual")
	require.NoError(t, err)

	ne, err := tracker.OpenNode(ctx, execution.ID, def.Nodes[1], map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, models.NodeExecutionStatusRunning, ne.Status)

	attempt, err := tracker.RecordAttempt(ctx, execution.ID, ne.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)

	attempt, err = tracker.RecordAttempt(ctx, execution.ID, ne.ID, errors.New("flaky"))
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)

	err = tracker.CloseNode(ctx, execution.ID, ne.ID, models.NodeExecutionStatusFailed, nil, errors.New("broken"))
	require.NoError(t, err)

	require.NoError(t, tracker.SkipNode(ctx, execution.ID, def.Nodes[2], "guard"))

	stored, err := tracker.Get(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stored.NodeExecutions, 2)

	failed := stored.NodeExecutions[0]
	assert.Equal(t, models.NodeExecutionStatusFailed, failed.Status)
	assert.Equal(t, 2, failed.Attempts)
	assert.Equal(t, "broken", failed.Error)
	assert.NotNil(t, failed.CompletedAt)
	assert.NotEmpty(t, failed.Logs)

	assert.Equal(t, models.NodeExecutionStatusSkipped, stored.NodeExecutions[1].Status)
	assert.Equal(t, "end", stored.NodeExecutions[1].NodeID)

	assert.Equal(t, []events.EventType{
		events.NodeStartedEvent,
		events.NodeRetryEvent,
		events.NodeFailedEvent,
		events.NodeSkippedEvent,
	}, drain(channel))
}

func TestTracker_SuspendAndContinuation(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := t.Context()

	execution, err := tracker.Create(ctx, testutil.CreateTestWorkflow(), nil, "manual")
	require.NoError(t, err)

	_, err = tracker.Transition(ctx, execution.ID, models.ExecutionStatusRunning, "")
	require.NoError(t, err)

	work := []models.WorkItem{{NodeID: "end", Path: []string{"start", "task"}}}

	suspended, err := tracker.Suspend(ctx, execution.ID, work)
	require.NoError(t, err)
	assert.False(t, suspended, "a running execution is not suspended")

	_, err = tracker.Pause(ctx, execution.ID)
	require.NoError(t, err)

	suspended, err = tracker.Suspend(ctx, execution.ID, work)
	require.NoError(t, err)
	assert.True(t, suspended)

	taken, err := tracker.TakeContinuation(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, work, taken)

	taken, err = tracker.TakeContinuation(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, taken)
}

func TestTracker_FailWhilePausedIsHeld(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := t.Context()

	execution, err := tracker.Create(ctx, testutil.CreateTestWorkflow(), nil, "manual")
	require.NoError(t, err)

	_, err = tracker.Transition(ctx, execution.ID, models.ExecutionStatusRunning, "")
	require.NoError(t, err)
	_, err = tracker.Pause(ctx, execution.ID)
	require.NoError(t, err)

	require.NoError(t, tracker.Fail(ctx, execution.ID, "boom"))

	held, err := tracker.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, held.Status)
	assert.True(t, held.WalkEnded)
	assert.Equal(t, "boom", held.Error)

	requested, err := tracker.RequestResume(ctx, execution.ID)
	require.NoError(t, err)
	assert.True(t, requested.ResumeRequested)
	assert.Equal(t, models.ExecutionStatusPaused, requested.Status)

	resumed, err := tracker.Resume(ctx, execution.ID)
	require.NoError(t, err)
	assert.False(t, resumed.ResumeRequested)

	_, err = tracker.RequestResume(ctx, execution.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, tracker.Fail(ctx, execution.ID, "boom"))

	failed, err := tracker.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.False(t, failed.WalkEnded)

	again, err := tracker.Hold(ctx, execution.ID, "")
	require.NoError(t, err)
	assert.False(t, again, "only paused executions are held")
}

func TestTracker_LoggingSettings(t *testing.T) {
	tests := []struct {
		name    string
		logging models.LoggingSetting
		want    []string
	}{
		{
			name:    "enabled at info",
			logging: models.LoggingSetting{Enabled: true, Level: models.LogLevelInfo},
			want:    []string{"Execution created", "info entry", "warn entry"},
		},
		{
			name:    "enabled at warn",
			logging: models.LoggingSetting{Enabled: true, Level: models.LogLevelWarn},
			want:    []string{"warn entry"},
		},
		{
			name:    "disabled keeps warnings",
			logging: models.LoggingSetting{Enabled: false},
			want:    []string{"warn entry"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, _, _ := newTestTracker(t)
			ctx := t.Context()

			def := testutil.CreateTestWorkflow()
			def.Settings.Logging = tt.logging

			execution, err := tracker.Create(ctx, def, nil, "manual")
			require.NoError(t, err)

			require.NoError(t, tracker.AddExecutionLog(ctx, execution.ID, "", models.LogLevelDebug, "debug entry", nil))
			require.NoError(t, tracker.AddExecutionLog(ctx, execution.ID, "", models.LogLevelInfo, "info entry", nil))
			require.NoError(t, tracker.AddExecutionLog(ctx, execution.ID, "", models.LogLevelWarn, "warn entry", nil))

			logs, err := tracker.Logs(ctx, execution.ID)
			require.NoError(t, err)

			var messages []string
			for _, entry := range logs {
				messages = append(messages, entry.Message)
			}

			assert.Equal(t, tt.want, messages)
		})
	}
}

func TestTracker_IncludeVariables(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := t.Context()

	def := testutil.CreateTestWorkflow()
	def.Variables = map[string]any{"region": "eu"}
	def.Settings.Logging.IncludeVariables = true

	execution, err := tracker.Create(ctx, def, nil, "manual")
	require.NoError(t, err)

	_, err = tracker.Transition(ctx, execution.ID, models.ExecutionStatusRunning, "")
	require.NoError(t, err)

	logs, err := tracker.Logs(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, map[string]any{"region": "eu"}, logs[1].Data["variables"])
}

func TestTracker_Counts(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := t.Context()

	def := testutil.CreateTestWorkflow()
	other := testutil.CreateTestWorkflow()

	first, err := tracker.Create(ctx, def, nil, "manual")
	require.NoError(t, err)
	_, err = tracker.Create(ctx, def, nil, "manual")
	require.NoError(t, err)
	_, err = tracker.Create(ctx, other, nil, "manual")
	require.NoError(t, err)

	_, err = tracker.Transition(ctx, first.ID, models.ExecutionStatusRunning, "")
	require.NoError(t, err)

	active, err := tracker.ActiveCount(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	running, err := tracker.RunningCount(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	all, err := tracker.ActiveCount(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, all)

	_, err = tracker.Cancel(ctx, first.ID, "")
	require.NoError(t, err)

	active, err = tracker.ActiveCount(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestTracker_NotFound(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	_, err := tracker.Get(t.Context(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = tracker.Logs(t.Context(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = tracker.Cancel(t.Context(), "missing", "")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

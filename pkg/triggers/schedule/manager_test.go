package schedule

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/weave/pkg/engine"
	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduled(active bool) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.IsActive = active
		w.Triggers = append(w.Triggers, &models.WorkflowTrigger{
			ID:      "nightly",
			Type:    models.TriggerTypeSchedule,
			Enabled: true,
			Config:  map[string]any{"cron": "0 0 * * *"},
		})
	}
}

func newTestManager(t *testing.T) (*Manager, *engine.Engine, *eventbus.Channel) {
	t.Helper()

	channel := eventbus.NewChannel(64)
	manager := NewManager(channel, slog.Default())
	eng := engine.New(memory.NewPersistence(), engine.WithPublisher(manager))

	t.Cleanup(func() {
		_ = manager.Stop(t.Context())
		_ = channel.Close()
	})

	return manager, eng, channel
}

func nextEvent(t *testing.T, channel *eventbus.Channel) eventbus.Event {
	t.Helper()

	select {
	case msg := <-channel.Events():
		return msg.Event
	case <-time.After(time.Second):
		t.Fatal("no event published")

		return nil
	}
}

func TestManager_StartRegistersActiveSchedules(t *testing.T) {
	manager, eng, _ := newTestManager(t)

	active, err := eng.CreateWorkflow(t.Context(), testutil.CreateTestWorkflow(scheduled(true)))
	require.NoError(t, err)

	inactive, err := eng.CreateWorkflow(t.Context(), testutil.CreateTestWorkflow(scheduled(false)))
	require.NoError(t, err)

	require.NoError(t, manager.Start(t.Context(), eng))

	assert.Equal(t, 1, manager.Entries(active.ID))
	assert.Zero(t, manager.Entries(inactive.ID))
}

func TestManager_FollowsDefinitionEvents(t *testing.T) {
	manager, eng, _ := newTestManager(t)
	require.NoError(t, manager.Start(t.Context(), eng))

	def, err := eng.CreateWorkflow(t.Context(), testutil.CreateTestWorkflow(scheduled(true)))
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Entries(def.ID))

	_, err = eng.DeactivateWorkflow(t.Context(), def.ID)
	require.NoError(t, err)
	assert.Zero(t, manager.Entries(def.ID))

	_, err = eng.ActivateWorkflow(t.Context(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Entries(def.ID))

	require.NoError(t, eng.DeleteWorkflow(t.Context(), def.ID))
	assert.Zero(t, manager.Entries(def.ID))
}

func TestManager_FireQueuesExecution(t *testing.T) {
	manager, eng, channel := newTestManager(t)
	require.NoError(t, manager.Start(t.Context(), eng))

	def, err := eng.CreateWorkflow(t.Context(), testutil.CreateTestWorkflow(scheduled(true)))
	require.NoError(t, err)

	manager.fire(def.ID, "nightly")

	fired, ok := nextEvent(t, channel).(events.TriggerFired)
	require.True(t, ok)
	assert.Equal(t, "nightly", fired.TriggerID)

	execution, err := eng.GetExecution(t.Context(), fired.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, TriggeredBy, execution.TriggeredBy)
	assert.Equal(t, "nightly", execution.TriggerData["trigger_id"])
}

func TestManager_FireReportsRejection(t *testing.T) {
	manager, eng, channel := newTestManager(t)
	require.NoError(t, manager.Start(t.Context(), eng))

	manager.fire("missing", "nightly")

	failure, ok := nextEvent(t, channel).(events.WorkflowError)
	require.True(t, ok)
	assert.Equal(t, "schedule", failure.Source)
	assert.Equal(t, "missing", failure.WorkflowID)
}

package webhook_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/weave/pkg/engine"
	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/dukex/weave/pkg/services"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/dukex/weave/pkg/triggers/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hooked(enabled bool, config map[string]any) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.IsActive = true
		w.Triggers = append(w.Triggers, &models.WorkflowTrigger{
			ID:      "incoming",
			Type:    models.TriggerTypeWebhook,
			Enabled: enabled,
			Config:  config,
		})
	}
}

func setup(t *testing.T, opts ...func(*models.WorkflowDefinition)) (*webhook.Receiver, *engine.Engine, *eventbus.Channel, string) {
	t.Helper()

	eng := engine.New(memory.NewPersistence())
	channel := eventbus.NewChannel(16)

	t.Cleanup(func() {
		_ = channel.Close()
	})

	def, err := eng.CreateWorkflow(t.Context(), testutil.CreateTestWorkflow(opts...))
	require.NoError(t, err)

	return webhook.NewReceiver(eng, channel, slog.Default()), eng, channel, def.ID
}

func TestNewTrigger(t *testing.T) {
	t.Parallel()

	trigger, err := webhook.NewTrigger(&models.WorkflowTrigger{
		ID:      "incoming",
		Type:    models.TriggerTypeWebhook,
		Enabled: true,
		Config: map[string]any{
			"method":  "put",
			"headers": map[string]any{"x-token": "secret", "ignored": 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, trigger.Method)
	assert.Equal(t, map[string]string{"X-Token": "secret"}, trigger.Headers)

	_, err = webhook.NewTrigger(&models.WorkflowTrigger{ID: "nightly", Type: models.TriggerTypeSchedule})
	assert.Error(t, err)
}

func TestReceiver_Receive(t *testing.T) {
	t.Parallel()

	receiver, eng, channel, workflowID := setup(t, hooked(true, nil))

	id, err := receiver.Receive(t.Context(), webhook.Request{
		WorkflowID: workflowID,
		TriggerID:  "incoming",
		Method:     http.MethodPost,
		Path:       "/webhooks/" + workflowID + "/incoming",
		Query:      map[string]string{"page": "2"},
		Body:       []byte(`{"order":42}`),
	})
	require.NoError(t, err)

	execution, err := eng.GetExecution(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, webhook.TriggeredBy, execution.TriggeredBy)
	assert.Equal(t, "incoming", execution.TriggerData["trigger_id"])
	assert.Equal(t, map[string]any{"order": float64(42)}, execution.TriggerData["body"])
	assert.Equal(t, map[string]any{"page": "2"}, execution.TriggerData["query"])

	select {
	case msg := <-channel.Events():
		fired, ok := msg.Event.(events.TriggerFired)
		require.True(t, ok)
		assert.Equal(t, id, fired.ExecutionID)
		assert.Equal(t, string(models.TriggerTypeWebhook), fired.TriggerType)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestReceiver_Rejections(t *testing.T) {
	t.Parallel()

	secured := map[string]any{"method": "POST", "headers": map[string]any{"X-Token": "secret"}}

	tests := []struct {
		name    string
		opts    []func(*models.WorkflowDefinition)
		req     webhook.Request
		check   func(error) bool
		missing bool
	}{
		{
			name:  "unknown trigger",
			opts:  []func(*models.WorkflowDefinition){hooked(true, nil)},
			req:   webhook.Request{TriggerID: "other", Method: http.MethodPost},
			check: services.IsNotFound,
		},
		{
			name:  "disabled trigger",
			opts:  []func(*models.WorkflowDefinition){hooked(false, nil)},
			req:   webhook.Request{TriggerID: "incoming", Method: http.MethodPost},
			check: services.IsConflictError,
		},
		{
			name:  "wrong method",
			opts:  []func(*models.WorkflowDefinition){hooked(true, secured)},
			req:   webhook.Request{TriggerID: "incoming", Method: http.MethodGet},
			check: services.IsValidationError,
		},
		{
			name: "missing header",
			opts: []func(*models.WorkflowDefinition){hooked(true, secured)},
			req:  webhook.Request{TriggerID: "incoming", Method: http.MethodPost},
			check: func(err error) bool {
				return errors.Is(err, webhook.ErrUnauthorized)
			},
		},
		{
			name:    "unknown workflow",
			opts:    []func(*models.WorkflowDefinition){hooked(true, nil)},
			req:     webhook.Request{TriggerID: "incoming", Method: http.MethodPost},
			check:   services.IsNotFound,
			missing: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			receiver, eng, _, workflowID := setup(t, tt.opts...)

			tt.req.WorkflowID = workflowID
			if tt.missing {
				tt.req.WorkflowID = "ghost"
			}

			_, err := receiver.Receive(t.Context(), tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())

			page, err := eng.QueryExecutions(context.Background(), models.ExecutionQuery{})
			require.NoError(t, err)
			assert.Zero(t, page.TotalCount)
		})
	}
}

func TestReceiver_AcceptsMatchingHeaders(t *testing.T) {
	t.Parallel()

	receiver, _, _, workflowID := setup(t, hooked(true, map[string]any{"headers": map[string]any{"X-Token": "secret"}}))

	_, err := receiver.Receive(t.Context(), webhook.Request{
		WorkflowID: workflowID,
		TriggerID:  "incoming",
		Method:     http.MethodPost,
		Headers:    map[string]string{"X-Token": "secret"},
		Body:       []byte("plain text"),
	})
	assert.NoError(t, err)
}

func TestTriggerData_RawBody(t *testing.T) {
	t.Parallel()

	data := webhook.TriggerData(webhook.Request{TriggerID: "incoming", Method: http.MethodPost, Body: []byte("not json")})

	assert.Equal(t, "not json", data["body"])
	assert.Equal(t, http.MethodPost, data["method"])
}

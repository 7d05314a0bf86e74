package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/dukex/weave/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskContext(params map[string]any, input any) *workflow.NodeContext {
	node := testutil.CreateTestNode(testutil.WithID("task"), testutil.WithParams(params))

	return &workflow.NodeContext{
		Execution: &models.WorkflowExecution{
			ID:          "exec-1",
			WorkflowID:  "wf-1",
			Variables:   map[string]any{"region": "eu"},
			TriggerData: map[string]any{"count": 4},
		},
		Definition: testutil.CreateTestWorkflow(),
		Node:       node,
		Input:      input,
	}
}

func TestRunner_Dispatch(t *testing.T) {
	runner := NewRunner(slog.Default())
	assert.Equal(t, []string{"http_request", "log", "transform"}, runner.Names())

	output, err := runner.RunTask(t.Context(), taskContext(map[string]any{"greeting": "hi {{ .vars.region }}"}, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hi eu"}, output)

	_, err = runner.RunTask(t.Context(), taskContext(map[string]any{ActionParam: "send_email"}, nil))
	assert.ErrorIs(t, err, ErrUnknownAction)

	runner.Register("constant", ActionFunc(func(context.Context, *workflow.NodeContext) (any, error) {
		return 42, nil
	}))

	output, err = runner.RunTask(t.Context(), taskContext(map[string]any{ActionParam: "constant"}, nil))
	require.NoError(t, err)
	assert.Equal(t, 42, output)
}

func TestHTTPRequest(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotHeader string
		gotBody   map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Region")

		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted": true}`))
	}))
	defer server.Close()

	nc := taskContext(map[string]any{
		ActionParam: "http_request",
		"url":       server.URL + "/orders/{{ .input.id }}",
		"method":    "post",
		"headers":   map[string]any{"X-Region": "{{ .vars.region }}"},
		"body":      map[string]any{"status": "shipped"},
	}, map[string]any{"id": "A1"})

	output, err := NewRunner(slog.Default()).RunTask(t.Context(), nc)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/orders/A1", gotPath)
	assert.Equal(t, "eu", gotHeader)
	assert.Equal(t, map[string]any{"status": "shipped"}, gotBody)

	result, ok := output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, result["status_code"])
	assert.Equal(t, map[string]any{"accepted": true}, result["body"])
	assert.Equal(t, "application/json", result["headers"].(map[string]any)["Content-Type"])
}

func TestHTTPRequest_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	action := NewHTTPRequest(server.Client())

	_, err := action.Run(t.Context(), taskContext(map[string]any{"url": server.URL}, nil))
	assert.ErrorIs(t, err, ErrHTTPServerError)

	_, err = action.Run(t.Context(), taskContext(map[string]any{}, nil))
	assert.ErrorIs(t, err, ErrHTTPRequestURLInvalid)

	_, err = action.Run(t.Context(), taskContext(map[string]any{"url": server.URL, "timeout": "soon"}, nil))
	assert.ErrorContains(t, err, "invalid timeout")
}

func TestTransform(t *testing.T) {
	output, err := Transform{}.Run(t.Context(), taskContext(map[string]any{
		"expression": `{"total": {{ .input.amount }}, "region": "{{ .vars.region }}"}`,
	}, map[string]any{"amount": 3}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": float64(3), "region": "eu"}, output)

	output, err = Transform{}.Run(t.Context(), taskContext(map[string]any{
		"input":      "{{ .trigger_data.count }}",
		"expression": "{{ .input }}",
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, float64(4), output)

	_, err = Transform{}.Run(t.Context(), taskContext(map[string]any{}, nil))
	assert.ErrorIs(t, err, ErrTransformExpressionMissing)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer

	action := NewLog(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	input := map[string]any{"id": "A1"}

	output, err := action.Run(t.Context(), taskContext(map[string]any{
		"message": "order {{ .input.id }} shipped",
		"level":   "warn",
	}, input))
	require.NoError(t, err)
	assert.Equal(t, input, output)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `msg="order A1 shipped"`)
	assert.Contains(t, buf.String(), "execution_id=exec-1")
}

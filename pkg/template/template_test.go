package template

import (
	"testing"

	"github.com/dukex/weave/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_TypedOutput(t *testing.T) {
	data := map[string]any{
		"name":     "John",
		"age":      30,
		"approved": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .approved }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// numbers always decode as float64
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)

	result, err = Render(`{"user": "{{ .name }}", "age": {{ .age }}}`, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": "John", "age": 30.0}, result)
}

func TestRender_Conditionals(t *testing.T) {
	data := map[string]any{"status": 200}

	result, err := Render("{{ if eq .status 200 }}success{{ else }}failed{{ end }}", data)
	require.NoError(t, err)
	assert.Equal(t, "success", result)

	result, err = Render("{{ gt .status 500 }}", data)
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestRender_Errors(t *testing.T) {
	data := map[string]any{"test": "value"}

	_, err := Render("{ broken: json }", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")

	_, err = Render("{{ nonexistent.field }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `function "nonexistent" not defined`)

	_, err = Render("{{ .test", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")
}

func TestRenderWithExecution(t *testing.T) {
	t.Setenv("WEAVE_TEMPLATE_TEST", "from-env")

	execution := &models.WorkflowExecution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		Variables:   map[string]any{"threshold": 10},
		TriggerData: map[string]any{"source": "api"},
		NodeExecutions: []*models.WorkflowNodeExecution{
			{NodeID: "fetch", Status: models.NodeExecutionStatusCompleted, Output: map[string]any{"count": 12}},
			{NodeID: "broken", Status: models.NodeExecutionStatusFailed, Output: "ignored"},
		},
	}

	result, err := RenderWithExecution("{{ gt .nodes.fetch.count .vars.threshold }}", execution, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = RenderWithExecution("{{ .trigger_data.source }}-{{ .execution.id }}-{{ .input }}", execution, "x")
	require.NoError(t, err)
	assert.Equal(t, "api-exec-1-x", result)

	result, err = RenderWithExecution("{{ .env.WEAVE_TEMPLATE_TEST }}", execution, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", result)

	data := Data(execution, nil)
	assert.NotContains(t, data["nodes"], "broken")
}

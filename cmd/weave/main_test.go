package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/weave/pkg/engine"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/dukex/weave/pkg/services"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func writeDefinition(t *testing.T, def any) string {
	t.Helper()

	raw, err := json.Marshal(def)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	return path
}

func TestLoadDefinition(t *testing.T) {
	def, err := loadDefinition(t.Context(), writeDefinition(t, testutil.CreateTestWorkflow()))
	require.NoError(t, err)
	assert.Len(t, def.Nodes, 3)

	_, err = loadDefinition(t.Context(), "")
	assert.ErrorIs(t, err, ErrMissingFile)

	_, err = loadDefinition(t.Context(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	broken := testutil.CreateTestWorkflow(func(d *models.WorkflowDefinition) {
		d.Nodes = d.Nodes[1:]
	})

	_, err = loadDefinition(t.Context(), writeDefinition(t, broken))
	assert.Equal(t, services.CodeValidationFailed, services.CodeOf(err))
}

func TestRunOnce(t *testing.T) {
	def := testutil.CreateTestWorkflow()

	execution, err := runOnce(t.Context(), def, map[string]any{"order": "A1"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, "cli", execution.TriggeredBy)
	assert.Equal(t, "A1", execution.TriggerData["order"])
}

func TestCommands(t *testing.T) {
	path := writeDefinition(t, testutil.CreateTestWorkflow(testutil.WithWorkflowName("nightly")))

	var out bytes.Buffer

	root := func() *cli.Command {
		return &cli.Command{
			Name:     "weave",
			Writer:   &out,
			Commands: []*cli.Command{NewValidateCommand(), NewRunCommand()},
		}
	}

	require.NoError(t, root().Run(t.Context(), []string{"weave", "validate", path}))
	assert.Contains(t, out.String(), "nightly is valid (3 nodes, 2 connections)")

	out.Reset()

	require.NoError(t, root().Run(t.Context(), []string{"weave", "run", "--input", `{"order":"B2"}`, path}))

	var execution models.WorkflowExecution
	require.NoError(t, json.Unmarshal(out.Bytes(), &execution))
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestNewApp(t *testing.T) {
	e := engine.New(memory.NewPersistence())
	app := newApp(e, nil)

	for path, want := range map[string]string{"/": "Weave API", "/livez": "OK", "/readyz": "OK"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, want, string(body), path)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	def, err := e.CreateWorkflow(t.Context(), testutil.CreateTestWorkflow())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/workflows/"+def.ID, bytes.NewReader([]byte(`{"nodes":[null]}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err = app.Test(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
	"github.com/dukex/weave/pkg/persistence/persistencetest"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	// Test with regular path
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	// Test with file:// prefix
	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return NewPersistence(t.TempDir())
	})
}

func TestPersistence_HealthCheck(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(ctx))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(ctx))
}

func TestPersistence_SaveWorkflowWritesDocument(t *testing.T) {
	testDir := t.TempDir()
	p := NewPersistence(testDir)

	workflow := testutil.CreateTestWorkflow(testutil.WithWorkflowID("test-workflow"))
	require.NoError(t, p.WorkflowRepository().Save(context.Background(), workflow))

	// Verify file was created
	filePath := filepath.Join(testDir, "workflows", "test-workflow.json")
	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = os.Stat(filePath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestPersistence_RejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	for _, id := range []string{"../escape", "a/b", `a\b`, ""} {
		workflow := testutil.CreateTestWorkflow(testutil.WithWorkflowID(id))

		err := p.WorkflowRepository().Save(ctx, workflow)
		require.Error(t, err, id)
		assert.ErrorIs(t, err, persistence.ErrInvalidID)

		_, err = p.ExecutionRepository().GetByID(ctx, id)
		assert.ErrorIs(t, err, persistence.ErrInvalidID)

		err = p.LogRepository().Append(ctx, &models.WorkflowExecutionLog{ID: "l", ExecutionID: id})
		assert.ErrorIs(t, err, persistence.ErrInvalidID)
	}
}

func TestPersistence_SkipsCorruptExecutions(t *testing.T) {
	ctx := context.Background()
	testDir := t.TempDir()
	p := NewPersistence(testDir)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.ExecutionRepository().Save(ctx, testutil.CreateTestExecution(workflow, models.ExecutionStatusCompleted)))

	require.NoError(t, os.WriteFile(filepath.Join(testDir, "executions", "broken.json"), []byte("{"), 0600))

	all, err := p.ExecutionRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

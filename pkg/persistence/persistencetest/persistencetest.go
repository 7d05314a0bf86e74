// Package persistencetest holds behaviour checks shared by every persistence backend.
package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises the repositories of a fresh backend returned by newPersistence.
func Run(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("workflow round trip", func(t *testing.T) {
		p := newPersistence(t)
		ctx := context.Background()
		repo := p.WorkflowRepository()

		workflow := testutil.CreateTestWorkflow()
		require.NoError(t, repo.Save(ctx, workflow))

		got, err := repo.GetByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.Name, got.Name)
		assert.Len(t, got.Nodes, 3)
		assert.Len(t, got.Connections, 2)
		assert.Equal(t, models.NodeTypeStart, got.Nodes[0].Type)

		workflow.Name = "renamed"
		require.NoError(t, repo.Save(ctx, workflow))

		got, err = repo.GetByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("workflow not found", func(t *testing.T) {
		p := newPersistence(t)
		ctx := context.Background()

		_, err := p.WorkflowRepository().GetByID(ctx, "missing")
		require.Error(t, err)
		assert.True(t, persistence.IsWorkflowNotFound(err))

		err = p.WorkflowRepository().Delete(ctx, "missing")
		require.Error(t, err)
		assert.True(t, persistence.IsWorkflowNotFound(err))
	})

	t.Run("workflow delete", func(t *testing.T) {
		p := newPersistence(t)
		ctx := context.Background()
		repo := p.WorkflowRepository()

		workflow := testutil.CreateTestWorkflow()
		require.NoError(t, repo.Save(ctx, workflow))
		require.NoError(t, repo.Delete(ctx, workflow.ID))

		_, err := repo.GetByID(ctx, workflow.ID)
		assert.True(t, persistence.IsWorkflowNotFound(err))
	})

	t.Run("workflow query", func(t *testing.T) {
		p := newPersistence(t)
		ctx := context.Background()
		repo := p.WorkflowRepository()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		for i, name := range []string{"Alpha billing", "Beta billing", "Gamma"} {
			workflow := testutil.CreateTestWorkflow(
				testutil.WithWorkflowName(name),
				testutil.WithActive(i != 1),
				testutil.WithCreatedAt(base.Add(time.Duration(i)*time.Hour)),
			)
			require.NoError(t, repo.Save(ctx, workflow))
		}

		page, err := repo.Query(ctx, models.WorkflowQuery{Name: "BILLING"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.TotalCount)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "Beta billing", page.Items[0].Name, "default order is newest first")

		active := true
		page, err = repo.Query(ctx, models.WorkflowQuery{IsActive: &active, SortBy: "name", SortOrder: models.SortAsc})
		require.NoError(t, err)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "Alpha billing", page.Items[0].Name)
		assert.Equal(t, "Gamma", page.Items[1].Name)

		page, err = repo.Query(ctx, models.WorkflowQuery{Limit: 1, Offset: 1, SortBy: "createdAt", SortOrder: models.SortAsc})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "Beta billing", page.Items[0].Name)
		assert.True(t, page.HasNext)

		_, err = repo.Query(ctx, models.WorkflowQuery{SortBy: "name; DROP TABLE workflows; --"})
		assert.True(t, persistence.IsInvalidSortField(err))
	})

	t.Run("execution round trip", func(t *testing.T) {
		p := newPersistence(t)
		ctx := context.Background()
		repo := p.ExecutionRepository()

		workflow := testutil.CreateTestWorkflow()
		execution := testutil.CreateTestExecution(workflow, models.ExecutionStatusRunning)
		execution.NodeExecutions = append(execution.NodeExecutions, &models.WorkflowNodeExecution{
			ID:          "ne-1",
			NodeID:      "start",
			NodeType:    models.NodeTypeStart,
			ExecutionID: execution.ID,
			Status:      models.NodeExecutionStatusCompleted,
			Attempts:    1,
		})
		require.NoError(t, repo.Save(ctx, execution))

		got, err := repo.GetByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, got.Status)
		require.Len(t, got.NodeExecutions, 1)
		assert.Equal(t, "start", got.NodeExecutions[0].NodeID)
		require.NotNil(t, got.Definition)
		assert.Equal(t, workflow.ID, got.Definition.ID)

		execution.Status = models.ExecutionStatusCompleted
		require.NoError(t, repo.Save(ctx, execution))

		got, err = repo.GetByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, got.Status)

		_, err = repo.GetByID(ctx, "missing")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("executions by workflow and cascade delete", func(t *testing.T) {
		p := newPersistence(t)
		ctx := context.Background()
		repo := p.ExecutionRepository()
		logs := p.LogRepository()

		first := testutil.CreateTestWorkflow()
		second := testutil.CreateTestWorkflow()

		a := testutil.CreateTestExecution(first, models.ExecutionStatusCompleted)
		b := testutil.CreateTestExecution(first, models.ExecutionStatusFailed)
		c := testutil.CreateTestExecution(second, models.ExecutionStatusCompleted)

		for _, e := range []*models.WorkflowExecution{a, b, c} {
			require.NoError(t, repo.Save(ctx, e))
		}

		require.NoError(t, logs.Append(ctx, &models.WorkflowExecutionLog{
			ID: "l1", ExecutionID: a.ID, Level: models.LogLevelInfo, Message: "hello", Timestamp: time.Now().UTC(),
		}))

		byWorkflow, err := repo.GetByWorkflow(ctx, first.ID)
		require.NoError(t, err)
		assert.Len(t, byWorkflow, 2)

		page, err := repo.Query(ctx, models.ExecutionQuery{WorkflowID: first.ID, Status: models.ExecutionStatusFailed})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, b.ID, page.Items[0].ID)

		require.NoError(t, repo.DeleteByWorkflow(ctx, first.ID))

		byWorkflow, err = repo.GetByWorkflow(ctx, first.ID)
		require.NoError(t, err)
		assert.Empty(t, byWorkflow)

		entries, err := logs.GetByExecution(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, entries)

		remaining, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, c.ID, remaining[0].ID)
	})

	t.Run("logs keep append order", func(t *testing.T) {
		p := newPersistence(t)
		ctx := context.Background()
		logs := p.LogRepository()
		now := time.Now().UTC()

		for _, msg := range []string{"one", "two", "three"} {
			require.NoError(t, logs.Append(ctx, &models.WorkflowExecutionLog{
				ID: msg, ExecutionID: "exec-1", Level: models.LogLevelInfo, Message: msg, Timestamp: now,
			}))
		}

		entries, err := logs.GetByExecution(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "one", entries[0].Message)
		assert.Equal(t, "three", entries[2].Message)

		require.NoError(t, logs.DeleteByExecution(ctx, "exec-1"))

		entries, err = logs.GetByExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

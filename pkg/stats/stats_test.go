package stats

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execution(def *models.WorkflowDefinition, status models.ExecutionStatus, opts ...func(*models.WorkflowExecution)) *models.WorkflowExecution {
	e := testutil.CreateTestExecution(def, status)
	for _, opt := range opts {
		opt(e)
	}

	return e
}

func startedOn(day time.Time) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) { e.StartedAt = &day }
}

func failedWith(msg string) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) { e.Error = msg }
}

func took(d time.Duration) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) { e.Duration = d }
}

func TestAggregate_Empty(t *testing.T) {
	stats := Aggregate(nil, nil)

	assert.Zero(t, stats.TotalWorkflows)
	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.AverageDuration)
	assert.Empty(t, stats.TopFailureReasons)
	assert.NotNil(t, stats.ExecutionsByStatus)
}

func TestAggregate(t *testing.T) {
	active := testutil.CreateTestWorkflow(testutil.WithActive(true))
	inactive := testutil.CreateTestWorkflow(testutil.WithActive(false))
	inactive.Triggers = append(inactive.Triggers, &models.WorkflowTrigger{
		ID: "nightly", Type: models.TriggerTypeSchedule, Enabled: true,
	})

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tuesday := monday.Add(24 * time.Hour)

	executions := []*models.WorkflowExecution{
		execution(active, models.ExecutionStatusCompleted, startedOn(monday), took(2*time.Second)),
		execution(active, models.ExecutionStatusCompleted, startedOn(monday), took(4*time.Second)),
		execution(active, models.ExecutionStatusCompleted, startedOn(tuesday)),
		execution(active, models.ExecutionStatusFailed, startedOn(tuesday), failedWith("boom")),
		execution(inactive, models.ExecutionStatusRunning, startedOn(tuesday)),
		execution(inactive, models.ExecutionStatusCancelled, startedOn(tuesday)),
	}

	stats := Aggregate([]*models.WorkflowDefinition{active, inactive}, executions)

	assert.Equal(t, 2, stats.TotalWorkflows)
	assert.Equal(t, 1, stats.ActiveWorkflows)
	assert.Equal(t, 6, stats.TotalExecutions)
	assert.Equal(t, 3, stats.ExecutionsByStatus[models.ExecutionStatusCompleted])
	assert.Equal(t, 1, stats.ExecutionsByStatus[models.ExecutionStatusRunning])
	assert.Equal(t, 3*time.Second, stats.AverageDuration)
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
	assert.Equal(t, map[string]int{active.ID: 4, inactive.ID: 2}, stats.ExecutionsByWorkflow)
	assert.Equal(t, map[string]int{"2026-03-02": 2, "2026-03-03": 4}, stats.ExecutionsByDay)
	assert.Equal(t, []models.FailureReason{{Message: "boom", Count: 1}}, stats.TopFailureReasons)
	assert.Equal(t, 2, stats.NodeTypeUsage[models.NodeTypeStart])
	assert.Equal(t, 2, stats.NodeTypeUsage[models.NodeTypeTask])
	assert.Equal(t, 2, stats.TriggerTypeUsage[models.TriggerTypeManual])
	assert.Equal(t, 1, stats.TriggerTypeUsage[models.TriggerTypeSchedule])
}

func TestAggregate_TopFailureReasons(t *testing.T) {
	def := testutil.CreateTestWorkflow()

	var executions []*models.WorkflowExecution

	// reason-00 fails 12 times, reason-01 11 times, ... reason-11 once.
	for i := range 12 {
		for range 12 - i {
			executions = append(executions, execution(def, models.ExecutionStatusFailed, failedWith(fmt.Sprintf("reason-%02d", i))))
		}
	}

	// Ties are ordered by message.
	executions = append(executions,
		execution(def, models.ExecutionStatusFailed, failedWith("b-tie")),
		execution(def, models.ExecutionStatusFailed, failedWith("a-tie")),
	)

	stats := Aggregate([]*models.WorkflowDefinition{def}, executions)

	require.Len(t, stats.TopFailureReasons, TopFailureReasons)
	assert.Equal(t, models.FailureReason{Message: "reason-00", Count: 12}, stats.TopFailureReasons[0])
	assert.Equal(t, models.FailureReason{Message: "reason-09", Count: 3}, stats.TopFailureReasons[9])
	assert.Zero(t, stats.SuccessRate)

	tied := topFailures(map[string]int{"b": 1, "a": 1, "c": 2})
	assert.Equal(t, []models.FailureReason{
		{Message: "c", Count: 2},
		{Message: "a", Count: 1},
		{Message: "b", Count: 1},
	}, tied)
}

func TestAggregator_ComputeAndSnapshot(t *testing.T) {
	p := memory.NewPersistence()
	aggregator := NewAggregator(p, slog.Default())

	assert.Nil(t, aggregator.Snapshot())

	def := testutil.CreateTestWorkflow(testutil.WithActive(true))
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), def))
	require.NoError(t, p.ExecutionRepository().Save(t.Context(), execution(def, models.ExecutionStatusCompleted, took(time.Second))))

	stats, err := aggregator.Compute(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalExecutions)
	assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
	assert.False(t, stats.ComputedAt.IsZero())
	assert.Same(t, stats, aggregator.Snapshot())

	require.NoError(t, p.ExecutionRepository().Save(t.Context(), execution(def, models.ExecutionStatusFailed, failedWith("x"))))
	aggregator.Refresh(t.Context())
	assert.Equal(t, 2, aggregator.Snapshot().TotalExecutions)
}

func TestAggregator_ConcurrentReaders(t *testing.T) {
	p := memory.NewPersistence()
	aggregator := NewAggregator(p, slog.Default())
	def := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), def))

	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if i%2 == 0 {
				aggregator.Refresh(t.Context())

				return
			}

			if snapshot := aggregator.Snapshot(); snapshot != nil {
				assert.Equal(t, 1, snapshot.TotalWorkflows)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, aggregator.Snapshot().TotalWorkflows)
}

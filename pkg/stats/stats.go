// Package stats derives the rollup of stored workflows and executions.
package stats

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
)

// TopFailureReasons bounds the failure messages reported in a snapshot.
const TopFailureReasons = 10

// DayLayout keys per-day counts by UTC date.
const DayLayout = "2006-01-02"

// Aggregator computes WorkflowStats from the store and keeps the last snapshot.
type Aggregator struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	snapshot    atomic.Pointer[models.WorkflowStats]
	now         func() time.Time
}

func NewAggregator(p persistence.Persistence, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		persistence: p,
		logger:      logger.With("module", "stats_aggregator"),
		now:         time.Now,
	}
}

// Compute builds a fresh snapshot from the store, stores it and returns it.
func (a *Aggregator) Compute(ctx context.Context) (*models.WorkflowStats, error) {
	workflows, err := a.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	executions, err := a.persistence.ExecutionRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}

	stats := Aggregate(workflows, executions)
	stats.ComputedAt = a.now().UTC()

	a.snapshot.Store(stats)

	return stats, nil
}

// Refresh recomputes the snapshot, logging instead of returning failures.
func (a *Aggregator) Refresh(ctx context.Context) {
	_, err := a.Compute(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to refresh stats", "error", err)
	}
}

// Snapshot returns the last computed stats, or nil before the first Compute.
func (a *Aggregator) Snapshot() *models.WorkflowStats {
	return a.snapshot.Load()
}

// Aggregate derives the stats of the given definitions and executions.
func Aggregate(workflows []*models.WorkflowDefinition, executions []*models.WorkflowExecution) *models.WorkflowStats {
	stats := &models.WorkflowStats{
		TotalWorkflows:       len(workflows),
		TotalExecutions:      len(executions),
		ExecutionsByStatus:   make(map[models.ExecutionStatus]int),
		ExecutionsByWorkflow: make(map[string]int),
		ExecutionsByDay:      make(map[string]int),
		TopFailureReasons:    []models.FailureReason{},
		NodeTypeUsage:        make(map[models.NodeType]int),
		TriggerTypeUsage:     make(map[models.TriggerType]int),
	}

	for _, w := range workflows {
		if w.IsActive {
			stats.ActiveWorkflows++
		}

		for _, n := range w.Nodes {
			stats.NodeTypeUsage[n.Type]++
		}

		for _, tr := range w.Triggers {
			stats.TriggerTypeUsage[tr.Type]++
		}
	}

	var (
		total    time.Duration
		timed    int
		failures = make(map[string]int)
	)

	for _, e := range executions {
		stats.ExecutionsByStatus[e.Status]++
		stats.ExecutionsByWorkflow[e.WorkflowID]++
		stats.ExecutionsByDay[dayOf(e).Format(DayLayout)]++

		switch e.Status {
		case models.ExecutionStatusCompleted:
			if e.Duration > 0 {
				total += e.Duration
				timed++
			}
		case models.ExecutionStatusFailed:
			failures[e.Error]++
		}
	}

	if timed > 0 {
		stats.AverageDuration = total / time.Duration(timed)
	}

	completed := stats.ExecutionsByStatus[models.ExecutionStatusCompleted]
	failed := stats.ExecutionsByStatus[models.ExecutionStatusFailed]

	if completed+failed > 0 {
		stats.SuccessRate = float64(completed) / float64(completed+failed)
	}

	stats.TopFailureReasons = topFailures(failures)

	return stats
}

func dayOf(e *models.WorkflowExecution) time.Time {
	if e.StartedAt != nil {
		return e.StartedAt.UTC()
	}

	return e.CreatedAt.UTC()
}

// topFailures orders messages by count descending, then message ascending.
func topFailures(failures map[string]int) []models.FailureReason {
	reasons := make([]models.FailureReason, 0, len(failures))
	for message, count := range failures {
		reasons = append(reasons, models.FailureReason{Message: message, Count: count})
	}

	slices.SortFunc(reasons, func(a, b models.FailureReason) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}

		return cmp.Compare(a.Message, b.Message)
	})

	if len(reasons) > TopFailureReasons {
		reasons = reasons[:TopFailureReasons]
	}

	return reasons
}

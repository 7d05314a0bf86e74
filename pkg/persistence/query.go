package persistence

import (
	"slices"
	"strings"
	"time"

	"github.com/dukex/weave/pkg/models"
)

var (
	workflowSortFields  = []string{"name", "createdAt", "updatedAt"}
	executionSortFields = []string{"createdAt", "startedAt"}
)

// NormalizeWorkflowQuery applies defaults and validates the sort parameters.
func NormalizeWorkflowQuery(q models.WorkflowQuery) (models.WorkflowQuery, error) {
	if q.SortBy == "" {
		q.SortBy = "createdAt"
	}

	if !slices.Contains(workflowSortFields, q.SortBy) {
		return q, ErrInvalidSortField
	}

	q.SortOrder = normalizeOrder(q.SortOrder)
	q.Offset, q.Limit = normalizePage(q.Offset, q.Limit)

	return q, nil
}

// NormalizeExecutionQuery applies defaults and validates the sort parameters.
func NormalizeExecutionQuery(q models.ExecutionQuery) (models.ExecutionQuery, error) {
	if q.SortBy == "" {
		q.SortBy = "createdAt"
	}

	if !slices.Contains(executionSortFields, q.SortBy) {
		return q, ErrInvalidSortField
	}

	q.SortOrder = normalizeOrder(q.SortOrder)
	q.Offset, q.Limit = normalizePage(q.Offset, q.Limit)

	return q, nil
}

// MatchWorkflow reports whether the definition passes every filter of the query.
func MatchWorkflow(w *models.WorkflowDefinition, q models.WorkflowQuery) bool {
	if q.Name != "" && !strings.Contains(strings.ToLower(w.Name), strings.ToLower(q.Name)) {
		return false
	}

	if q.IsActive != nil && w.IsActive != *q.IsActive {
		return false
	}

	if q.CreatedBy != "" && w.CreatedBy != q.CreatedBy {
		return false
	}

	if q.NodeType != "" && !w.HasNodeType(q.NodeType) {
		return false
	}

	if q.TriggerType != "" && !w.HasTriggerType(q.TriggerType) {
		return false
	}

	return inRange(w.CreatedAt, q.CreatedAfter, q.CreatedBefore) &&
		inRange(w.UpdatedAt, q.UpdatedAfter, q.UpdatedBefore)
}

// MatchExecution reports whether the execution passes every filter of the query.
func MatchExecution(e *models.WorkflowExecution, q models.ExecutionQuery) bool {
	if q.WorkflowID != "" && e.WorkflowID != q.WorkflowID {
		return false
	}

	if q.Status != "" && e.Status != q.Status {
		return false
	}

	if q.TriggeredBy != "" && e.TriggeredBy != q.TriggeredBy {
		return false
	}

	if q.StartedAfter != nil || q.StartedBefore != nil {
		if e.StartedAt == nil {
			return false
		}

		return inRange(*e.StartedAt, q.StartedAfter, q.StartedBefore)
	}

	return true
}

// QueryWorkflows filters, sorts and paginates definitions held in memory.
func QueryWorkflows(all []*models.WorkflowDefinition, q models.WorkflowQuery) (*models.Page[*models.WorkflowDefinition], error) {
	q, err := NormalizeWorkflowQuery(q)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WorkflowDefinition, 0, len(all))

	for _, w := range all {
		if MatchWorkflow(w, q) {
			matched = append(matched, w)
		}
	}

	slices.SortStableFunc(matched, func(a, b *models.WorkflowDefinition) int {
		var c int

		switch q.SortBy {
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "updatedAt":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}

		if q.SortOrder == models.SortDesc {
			return -c
		}

		return c
	})

	return paginate(matched, q.Offset, q.Limit), nil
}

// QueryExecutions filters, sorts and paginates executions held in memory.
func QueryExecutions(all []*models.WorkflowExecution, q models.ExecutionQuery) (*models.Page[*models.WorkflowExecution], error) {
	q, err := NormalizeExecutionQuery(q)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WorkflowExecution, 0, len(all))

	for _, e := range all {
		if MatchExecution(e, q) {
			matched = append(matched, e)
		}
	}

	slices.SortStableFunc(matched, func(a, b *models.WorkflowExecution) int {
		var c int

		if q.SortBy == "startedAt" {
			c = compareOptionalTime(a.StartedAt, b.StartedAt)
		} else {
			c = a.CreatedAt.Compare(b.CreatedAt)
		}

		if q.SortOrder == models.SortDesc {
			return -c
		}

		return c
	})

	return paginate(matched, q.Offset, q.Limit), nil
}

func paginate[T any](items []T, offset, limit int) *models.Page[T] {
	total := len(items)

	if offset > total {
		offset = total
	}

	end := min(offset+limit, total)

	return &models.Page[T]{
		Items:      items[offset:end],
		TotalCount: int64(total),
		HasNext:    end < total,
	}
}

func normalizeOrder(order models.SortOrder) models.SortOrder {
	if order == models.SortAsc {
		return models.SortAsc
	}

	return models.SortDesc
}

func normalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}

	if limit <= 0 {
		limit = models.DefaultQueryLimit
	}

	if limit > models.MaxQueryLimit {
		limit = models.MaxQueryLimit
	}

	return offset, limit
}

func inRange(t time.Time, after, before *time.Time) bool {
	if after != nil && t.Before(*after) {
		return false
	}

	if before != nil && t.After(*before) {
		return false
	}

	return true
}

func compareOptionalTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

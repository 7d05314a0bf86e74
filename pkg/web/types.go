package web

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/services"
	"github.com/gofiber/fiber/v3"
)

// ExecuteWorkflowRequest is the optional body of POST /workflows/:id/execute.
type ExecuteWorkflowRequest struct {
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	TriggeredBy string         `json:"triggered_by,omitempty" validate:"omitempty,max=64"`
}

// ExecuteWorkflowResponse carries the id of the queued execution.
type ExecuteWorkflowResponse struct {
	ExecutionID string `json:"execution_id"`
}

// UpdateWorkflowRequest is a partial update; omitted fields are left untouched.
type UpdateWorkflowRequest struct {
	Name        *string                      `json:"name,omitempty"        validate:"omitempty,min=1"`
	Description *string                      `json:"description,omitempty"`
	Nodes       []*models.WorkflowNode       `json:"nodes,omitempty"       validate:"omitempty,dive,required"`
	Connections []*models.WorkflowConnection `json:"connections,omitempty" validate:"omitempty,dive,required"`
	Variables   map[string]any               `json:"variables,omitempty"`
	Triggers    []*models.WorkflowTrigger    `json:"triggers,omitempty"    validate:"omitempty,dive,required"`
	Settings    *models.WorkflowSettings     `json:"settings,omitempty"`
}

// Patch converts the request into the service patch.
func (r UpdateWorkflowRequest) Patch() services.WorkflowPatch {
	return services.WorkflowPatch{
		Name:        r.Name,
		Description: r.Description,
		Nodes:       r.Nodes,
		Connections: r.Connections,
		Variables:   r.Variables,
		Triggers:    r.Triggers,
		Settings:    r.Settings,
	}
}

// parseWorkflowQuery reads the filters of GET /workflows.
func parseWorkflowQuery(c fiber.Ctx) (models.WorkflowQuery, error) {
	query := models.WorkflowQuery{
		Name:        c.Query("name"),
		CreatedBy:   c.Query("created_by"),
		NodeType:    models.NodeType(c.Query("node_type")),
		TriggerType: models.TriggerType(c.Query("trigger_type")),
		SortBy:      c.Query("sort_by"),
		SortOrder:   models.SortOrder(c.Query("sort_order")),
	}

	if raw := c.Query("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return query, fmt.Errorf("invalid is_active: %w", err)
		}

		query.IsActive = &active
	}

	var err error

	for name, dst := range map[string]**time.Time{
		"created_after":  &query.CreatedAfter,
		"created_before": &query.CreatedBefore,
		"updated_after":  &query.UpdatedAfter,
		"updated_before": &query.UpdatedBefore,
	} {
		*dst, err = queryTime(c, name)
		if err != nil {
			return query, err
		}
	}

	query.Offset, query.Limit, err = pagination(c)

	return query, err
}

// parseExecutionQuery reads the filters of GET /executions.
func parseExecutionQuery(c fiber.Ctx) (models.ExecutionQuery, error) {
	query := models.ExecutionQuery{
		WorkflowID:  c.Query("workflow_id"),
		Status:      models.ExecutionStatus(c.Query("status")),
		TriggeredBy: c.Query("triggered_by"),
		SortBy:      c.Query("sort_by"),
		SortOrder:   models.SortOrder(c.Query("sort_order")),
	}

	var err error

	query.StartedAfter, err = queryTime(c, "started_after")
	if err != nil {
		return query, err
	}

	query.StartedBefore, err = queryTime(c, "started_before")
	if err != nil {
		return query, err
	}

	query.Offset, query.Limit, err = pagination(c)

	return query, err
}

func pagination(c fiber.Ctx) (int, int, error) {
	offset, err := queryInt(c, "offset")
	if err != nil {
		return 0, 0, err
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		return 0, 0, err
	}

	return offset, limit, nil
}

func queryInt(c fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative integer", name)
	}

	return n, nil
}

// queryTime parses an RFC 3339 timestamp parameter.
func queryTime(c fiber.Ctx, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}

	return &t, nil
}

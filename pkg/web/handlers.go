// Package web provides the HTTP handlers of the workflow engine API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/schema"
	"github.com/dukex/weave/pkg/services"
	"github.com/dukex/weave/pkg/triggers/webhook"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Engine is the part of engine.Engine the handlers call.
type Engine interface {
	HealthCheck(ctx context.Context) (string, bool)

	CreateWorkflow(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error)
	UpdateWorkflow(ctx context.Context, id string, patch services.WorkflowPatch) (*models.WorkflowDefinition, error)
	DeleteWorkflow(ctx context.Context, id string) error
	ActivateWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	DeactivateWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	QueryWorkflows(ctx context.Context, query models.WorkflowQuery) (*models.Page[*models.WorkflowDefinition], error)

	ExecuteWorkflow(ctx context.Context, id string, triggerData map[string]any, triggeredBy string) (string, error)
	CancelExecution(ctx context.Context, id string) error
	PauseExecution(ctx context.Context, id string) error
	ResumeExecution(ctx context.Context, id string) error
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	QueryExecutions(ctx context.Context, query models.ExecutionQuery) (*models.Page[*models.WorkflowExecution], error)
	GetExecutionLogs(ctx context.Context, id string) ([]*models.WorkflowExecutionLog, error)

	GetStats(ctx context.Context) (*models.WorkflowStats, error)
}

type APIHandlers struct {
	engine    Engine
	validator *validator.Validate
	webhooks  *webhook.Receiver
}

func NewAPIHandlers(engine Engine, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
		webhooks:  webhook.NewReceiver(engine, nil, slog.Default()),
	}
}

// WithWebhooks replaces the receiver serving /webhooks, typically to publish its
// trigger events.
func (h *APIHandlers) WithWebhooks(receiver *webhook.Receiver) *APIHandlers {
	h.webhooks = receiver

	return h
}

// RegisterRoutes mounts every endpoint on router.
func (h *APIHandlers) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/stats", h.GetStats)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)

	e := router.Group("/executions")
	e.Get("/", h.GetExecutions)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/logs", h.GetExecutionLogs)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)

	router.All("/webhooks/:workflow_id/:trigger_id", h.ReceiveWebhook)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.engine.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Weave API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Weave API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	stats, err := h.engine.GetStats(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	query, err := parseWorkflowQuery(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	page, err := h.engine.QueryWorkflows(c.Context(), query)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(page)
}

// CreateWorkflow checks the body against the definition schema before the graph
// validation of the engine.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	def, err := schema.Decode(c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	created, err := h.engine.CreateWorkflow(c.Context(), def)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	def, err := h.engine.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.engine.UpdateWorkflow(c.Context(), c.Params("id"), req.Patch())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.engine.DeleteWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	def, err := h.engine.ActivateWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	def, err := h.engine.DeactivateWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

// ExecuteWorkflow queues an execution; the body is optional.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	id, err := h.engine.ExecuteWorkflow(c.Context(), c.Params("id"), req.TriggerData, triggeredBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecuteWorkflowResponse{ExecutionID: id})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	query, err := parseExecutionQuery(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	page, err := h.engine.QueryExecutions(c.Context(), query)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(page)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.engine.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	logs, err := h.engine.GetExecutionLogs(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(logs)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	return h.executionCommand(c, h.engine.CancelExecution)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	return h.executionCommand(c, h.engine.PauseExecution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	return h.executionCommand(c, h.engine.ResumeExecution)
}

// executionCommand runs the command and answers with the execution's new state.
func (h *APIHandlers) executionCommand(c fiber.Ctx, command func(context.Context, string) error) error {
	id := c.Params("id")

	err := command(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.GetExecution(c)
}

// ReceiveWebhook starts an execution from a webhook trigger. The trigger decides the
// accepted method.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	headers := make(map[string]string)
	for name, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[http.CanonicalHeaderKey(name)] = values[0]
		}
	}

	id, err := h.webhooks.Receive(c.Context(), webhook.Request{
		WorkflowID: c.Params("workflow_id"),
		TriggerID:  c.Params("trigger_id"),
		Method:     c.Method(),
		Path:       c.Path(),
		Headers:    headers,
		Query:      c.Queries(),
		Body:       c.Body(),
		RemoteAddr: c.IP(),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecuteWorkflowResponse{ExecutionID: id})
}

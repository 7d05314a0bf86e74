// Package webhook starts executions of active workflows from inbound HTTP calls that
// match one of their webhook triggers.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/services"
)

const TriggeredBy = "webhook"

// ErrUnauthorized is returned when a request lacks a header the trigger requires.
var ErrUnauthorized = errors.New("webhook request unauthorized")

// Engine is the part of the engine a receiver drives.
type Engine interface {
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	ExecuteWorkflow(ctx context.Context, workflowID string, triggerData map[string]any, triggeredBy string) (string, error)
}

// Request is an inbound webhook call addressed to one trigger of a workflow.
type Request struct {
	WorkflowID string
	TriggerID  string
	Method     string
	Path       string
	Headers    map[string]string
	Query      map[string]string
	Body       []byte
	RemoteAddr string
}

// Trigger is the configuration of a webhook trigger.
type Trigger struct {
	ID      string
	Method  string
	Headers map[string]string
	Enabled bool
}

// NewTrigger reads a webhook trigger's config. The method defaults to POST; every
// configured header must be present with the same value on a request.
func NewTrigger(trigger *models.WorkflowTrigger) (*Trigger, error) {
	if trigger.Type != models.TriggerTypeWebhook {
		return nil, fmt.Errorf("trigger %s is a %s trigger", trigger.ID, trigger.Type)
	}

	method, ok := trigger.Config["method"].(string)
	if !ok || method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)

	if headersMap, ok := trigger.Config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			if strVal, ok := v.(string); ok {
				headers[http.CanonicalHeaderKey(k)] = strVal
			}
		}
	}

	return &Trigger{
		ID:      trigger.ID,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Enabled: trigger.Enabled,
	}, nil
}

// Accepts checks the request method and the required headers.
func (t *Trigger) Accepts(req Request) error {
	if !strings.EqualFold(req.Method, t.Method) {
		return services.NewServiceError("webhook.Accepts", services.CodeValidationFailed,
			fmt.Sprintf("trigger %s accepts %s requests only", t.ID, t.Method), services.ErrValidationFailed)
	}

	for name, want := range t.Headers {
		if req.Headers[name] != want {
			return fmt.Errorf("%w: header %s", ErrUnauthorized, name)
		}
	}

	return nil
}

// Receiver turns matching webhook requests into executions.
type Receiver struct {
	engine    Engine
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewReceiver(engine Engine, publisher eventbus.EventPublisher, logger *slog.Logger) *Receiver {
	if publisher == nil {
		publisher = eventbus.Noop{}
	}

	return &Receiver{
		engine:    engine,
		publisher: publisher,
		logger:    logger.With("module", "webhook_trigger"),
	}
}

// Receive queues an execution of the request's workflow and returns its id.
func (r *Receiver) Receive(ctx context.Context, req Request) (string, error) {
	def, err := r.engine.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return "", err
	}

	trigger, err := lookup(def, req.TriggerID)
	if err != nil {
		return "", err
	}

	err = trigger.Accepts(req)
	if err != nil {
		r.logger.WarnContext(ctx, "Webhook request rejected",
			"workflow_id", req.WorkflowID, "trigger_id", req.TriggerID, "error", err)

		return "", err
	}

	executionID, err := r.engine.ExecuteWorkflow(ctx, req.WorkflowID, TriggerData(req), TriggeredBy)
	if err != nil {
		r.publish(ctx, req.WorkflowID, events.NewWorkflowError(req.WorkflowID, "", "webhook", err))

		return "", err
	}

	r.logger.InfoContext(ctx, "Webhook trigger fired",
		"workflow_id", req.WorkflowID, "trigger_id", req.TriggerID, "execution_id", executionID)
	r.publish(ctx, req.WorkflowID, events.TriggerFired{
		BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, req.WorkflowID),
		TriggerID:   req.TriggerID,
		TriggerType: string(models.TriggerTypeWebhook),
		ExecutionID: executionID,
	})

	return executionID, nil
}

func lookup(def *models.WorkflowDefinition, triggerID string) (*Trigger, error) {
	for _, t := range def.Triggers {
		if t.ID != triggerID || t.Type != models.TriggerTypeWebhook {
			continue
		}

		trigger, err := NewTrigger(t)
		if err != nil {
			return nil, err
		}

		if !trigger.Enabled {
			return nil, services.NewServiceError("webhook.Receive", services.CodeNotActive,
				fmt.Sprintf("trigger %s is disabled", triggerID), services.ErrNotActive)
		}

		return trigger, nil
	}

	return nil, services.NotFound("webhook.Receive", "webhook trigger", triggerID)
}

// TriggerData builds the trigger data of a webhook execution. A body that is not
// JSON is passed on as a string.
func TriggerData(req Request) map[string]any {
	var body any

	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &body); err != nil {
			body = string(req.Body)
		}
	}

	return map[string]any{
		"trigger_id":  req.TriggerID,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"method":      req.Method,
		"path":        req.Path,
		"query":       stringMap(req.Query),
		"headers":     stringMap(req.Headers),
		"body":        body,
		"remote_addr": req.RemoteAddr,
	}
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

func (r *Receiver) publish(ctx context.Context, key string, event eventbus.Event) {
	err := r.publisher.Publish(ctx, key, event)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to publish trigger event", "error", err)
	}
}

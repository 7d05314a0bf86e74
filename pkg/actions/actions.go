// Package actions provides the built-in task actions. A task node picks one with its
// "action" parameter; nodes without one fall back to the echo runner.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dukex/weave/pkg/template"
	"github.com/dukex/weave/pkg/workflow"
)

// ActionParam is the task parameter naming the action to run.
const ActionParam = "action"

var ErrUnknownAction = errors.New("unknown action")

// Action performs the work of one task node.
type Action interface {
	Run(ctx context.Context, nc *workflow.NodeContext) (any, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, nc *workflow.NodeContext) (any, error)

func (f ActionFunc) Run(ctx context.Context, nc *workflow.NodeContext) (any, error) {
	return f(ctx, nc)
}

// Runner is a workflow.TaskRunner dispatching on the action parameter.
type Runner struct {
	actions  map[string]Action
	fallback workflow.TaskRunner
	logger   *slog.Logger
}

var _ workflow.TaskRunner = (*Runner)(nil)

// NewRunner returns a runner with the http_request, transform and log actions registered.
func NewRunner(logger *slog.Logger) *Runner {
	logger = logger.With("module", "task_actions")

	r := &Runner{
		actions:  make(map[string]Action),
		fallback: workflow.EchoTaskRunner{},
		logger:   logger,
	}

	r.Register("http_request", NewHTTPRequest(nil))
	r.Register("transform", Transform{})
	r.Register("log", NewLog(logger))

	return r
}

// Register adds or replaces an action.
func (r *Runner) Register(name string, action Action) {
	r.actions[name] = action
}

// Names lists the registered actions in order.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (r *Runner) RunTask(ctx context.Context, nc *workflow.NodeContext) (any, error) {
	name, _ := nc.Node.Config.Params[ActionParam].(string)
	if name == "" {
		return r.fallback.RunTask(ctx, nc)
	}

	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, name)
	}

	r.logger.DebugContext(ctx, "Running task action",
		"action", name, "node_id", nc.Node.ID, "execution_id", nc.Execution.ID)

	return action.Run(ctx, nc)
}

// param returns a string parameter rendered against the execution.
func param(nc *workflow.NodeContext, name string) (string, error) {
	raw, _ := nc.Node.Config.Params[name].(string)
	if raw == "" {
		return "", nil
	}

	rendered, err := template.RenderWithExecution(raw, nc.Execution, nc.Input)
	if err != nil {
		return "", fmt.Errorf("failed to render parameter %s: %w", name, err)
	}

	return fmt.Sprint(rendered), nil
}

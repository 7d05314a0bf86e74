package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/dukex/weave/pkg/expression"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/template"
)

var (
	ErrUnsupportedNodeType  = errors.New("unsupported node type")
	ErrScriptRunnerMissing  = errors.New("script runner not configured")
	ErrConnectionCycle      = errors.New("connection cycle detected")
	ErrExecutionTimedOut    = errors.New("execution timed out")
	ErrStartNodeNotFound    = errors.New("start node not found")
	ErrNodeNotFound         = errors.New("node not found")
	ErrDefinitionNotPresent = errors.New("execution has no definition snapshot")
)

// NodeContext is what a handler sees of the walk when its node is entered.
type NodeContext struct {
	Execution  *models.WorkflowExecution
	Definition *models.WorkflowDefinition
	Node       *models.WorkflowNode
	Input      any
}

// Outcome is the result of a node's own work: its output and the outgoing connections
// the walk should follow, in order.
type Outcome struct {
	Output any
	Next   []*models.WorkflowConnection
}

// Handler performs the work of one node type.
type Handler func(ctx context.Context, nc *NodeContext) (Outcome, error)

// HandlerTable maps every declared node type to its handler.
type HandlerTable map[models.NodeType]Handler

// TaskRunner performs the work of task nodes.
type TaskRunner interface {
	RunTask(ctx context.Context, nc *NodeContext) (any, error)
}

// TaskRunnerFunc adapts a function to the TaskRunner interface.
type TaskRunnerFunc func(ctx context.Context, nc *NodeContext) (any, error)

func (f TaskRunnerFunc) RunTask(ctx context.Context, nc *NodeContext) (any, error) {
	return f(ctx, nc)
}

// ScriptRunner executes the script of script nodes. Sandboxing is up to the implementation.
type ScriptRunner interface {
	RunScript(ctx context.Context, script string, nc *NodeContext) (any, error)
}

// ScriptRunnerFunc adapts a function to the ScriptRunner interface.
type ScriptRunnerFunc func(ctx context.Context, script string, nc *NodeContext) (any, error)

func (f ScriptRunnerFunc) RunScript(ctx context.Context, script string, nc *NodeContext) (any, error) {
	return f(ctx, script, nc)
}

// HandlerConfig holds the collaborators the built-in handlers delegate to.
type HandlerConfig struct {
	Evaluator    expression.Evaluator
	TaskRunner   TaskRunner
	ScriptRunner ScriptRunner
}

// NewHandlerTable builds the built-in handler table. It panics if a declared node type
// is left without a handler.
func NewHandlerTable(cfg HandlerConfig) HandlerTable {
	if cfg.Evaluator == nil {
		cfg.Evaluator = expression.TemplateEvaluator{}
	}

	if cfg.TaskRunner == nil {
		cfg.TaskRunner = EchoTaskRunner{}
	}

	table := HandlerTable{
		models.NodeTypeStart:    passThrough,
		models.NodeTypeEnd:      endNode,
		models.NodeTypeTask:     taskNode(cfg.TaskRunner),
		models.NodeTypeDelay:    delayNode,
		models.NodeTypeScript:   scriptNode(cfg.ScriptRunner),
		models.NodeTypeDecision: decisionNode(cfg.Evaluator),

		models.NodeTypeWebhook:      unsupported,
		models.NodeTypeApproval:     unsupported,
		models.NodeTypeNotification: unsupported,
		models.NodeTypeParallel:     unsupported,
		models.NodeTypeMerge:        unsupported,
		models.NodeTypeCondition:    unsupported,
	}

	table.mustCover()

	return table
}

// With returns a copy of the table with handler registered for nodeType.
func (t HandlerTable) With(nodeType models.NodeType, handler Handler) HandlerTable {
	clone := maps.Clone(t)
	clone[nodeType] = handler

	return clone
}

func (t HandlerTable) mustCover() {
	var missing []string

	for _, nodeType := range models.NodeTypes {
		if _, ok := t[nodeType]; !ok {
			missing = append(missing, string(nodeType))
		}
	}

	if len(missing) > 0 {
		panic("workflow: no handler for node types " + strings.Join(missing, ", "))
	}
}

func passThrough(_ context.Context, nc *NodeContext) (Outcome, error) {
	return Outcome{
		Output: nc.Input,
		Next:   nc.Definition.OutgoingConnections(nc.Node),
	}, nil
}

func endNode(_ context.Context, nc *NodeContext) (Outcome, error) {
	return Outcome{Output: nc.Input}, nil
}

func unsupported(_ context.Context, nc *NodeContext) (Outcome, error) {
	return Outcome{}, fmt.Errorf("%w: %s", ErrUnsupportedNodeType, nc.Node.Type)
}

func taskNode(runner TaskRunner) Handler {
	return func(ctx context.Context, nc *NodeContext) (Outcome, error) {
		output, err := runner.RunTask(ctx, nc)
		if err != nil {
			return Outcome{}, err
		}

		return Outcome{Output: output, Next: nc.Definition.OutgoingConnections(nc.Node)}, nil
	}
}

func delayNode(ctx context.Context, nc *NodeContext) (Outcome, error) {
	if d := nc.Node.Config.DelayDuration; d > 0 {
		err := sleep(ctx, d)
		if err != nil {
			return Outcome{}, err
		}
	}

	return passThrough(ctx, nc)
}

func scriptNode(runner ScriptRunner) Handler {
	return func(ctx context.Context, nc *NodeContext) (Outcome, error) {
		if runner == nil {
			return Outcome{}, ErrScriptRunnerMissing
		}

		output, err := runner.RunScript(ctx, nc.Node.Config.Script, nc)
		if err != nil {
			return Outcome{}, err
		}

		return Outcome{Output: output, Next: nc.Definition.OutgoingConnections(nc.Node)}, nil
	}
}

// decisionNode follows the first output when the condition holds and the second when
// it does not. Without a second output a false decision ends the branch.
func decisionNode(evaluator expression.Evaluator) Handler {
	return func(ctx context.Context, nc *NodeContext) (Outcome, error) {
		result, err := evaluator.Evaluate(ctx, nc.Node.Config.Condition, nc.Execution, nc.Input)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to evaluate decision %s: %w", nc.Node.ID, err)
		}

		outputs := nc.Definition.OutgoingConnections(nc.Node)
		outcome := Outcome{Output: map[string]any{"result": result}}

		switch {
		case result && len(outputs) > 0:
			outcome.Next = outputs[:1]
		case !result && len(outputs) > 1:
			outcome.Next = outputs[1:2]
		}

		return outcome, nil
	}
}

// EchoTaskRunner returns the node input merged with the node parameters. String
// parameters are rendered as templates against the execution.
type EchoTaskRunner struct{}

func (EchoTaskRunner) RunTask(_ context.Context, nc *NodeContext) (any, error) {
	output := make(map[string]any)

	if in, ok := nc.Input.(map[string]any); ok {
		maps.Copy(output, in)
	}

	for key, value := range nc.Node.Config.Params {
		s, ok := value.(string)
		if !ok || !strings.Contains(s, "{{") {
			output[key] = value

			continue
		}

		rendered, err := template.RenderWithExecution(s, nc.Execution, nc.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to render parameter %s: %w", key, err)
		}

		output[key] = rendered
	}

	return output, nil
}

package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/weave/pkg/template"
	"github.com/dukex/weave/pkg/workflow"
)

var ErrTransformExpressionMissing = errors.New("transform requires an expression")

// Transform renders the "expression" parameter with .input bound to the node input,
// or to the rendered "input" parameter when one is given.
type Transform struct{}

func (Transform) Run(_ context.Context, nc *workflow.NodeContext) (any, error) {
	expression, _ := nc.Node.Config.Params["expression"].(string)
	if expression == "" {
		return nil, ErrTransformExpressionMissing
	}

	data := nc.Input

	if raw, ok := nc.Node.Config.Params["input"].(string); ok && raw != "" {
		selected, err := template.RenderWithExecution(raw, nc.Execution, nc.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to get input data: %w", err)
		}

		data = selected
	}

	result, err := template.RenderWithExecution(expression, nc.Execution, data)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	return result, nil
}

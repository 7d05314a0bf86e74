// Package expression evaluates decision and connection conditions to booleans.
package expression

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/template"
)

// Evaluator turns a condition into a boolean for the given execution and node input.
type Evaluator interface {
	Evaluate(ctx context.Context, condition string, execution *models.WorkflowExecution, input any) (bool, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, condition string, execution *models.WorkflowExecution, input any) (bool, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, condition string, execution *models.WorkflowExecution, input any) (bool, error) {
	return f(ctx, condition, execution, input)
}

var _ Evaluator = TemplateEvaluator{}

// TemplateEvaluator renders conditions with text/template. A condition without
// delimiters is treated as a single action, so `eq .vars.region "eu"` and
// `{{ eq .vars.region "eu" }}` are equivalent. An empty condition is true.
type TemplateEvaluator struct{}

func (TemplateEvaluator) Evaluate(_ context.Context, condition string, execution *models.WorkflowExecution, input any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}

	if !strings.Contains(condition, "{{") {
		condition = "{{ " + condition + " }}"
	}

	result, err := template.RenderWithExecution(condition, execution, input)
	if err != nil {
		return false, err
	}

	return Truthy(result)
}

// Truthy coerces a rendered value to a boolean. Missing values are false.
func Truthy(v any) (bool, error) {
	switch value := v.(type) {
	case nil:
		return false, nil
	case bool:
		return value, nil
	case string:
		if value == "" || value == "<no value>" {
			return false, nil
		}

		result, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", value, err)
		}

		return result, nil
	case int:
		return value != 0, nil
	case int64:
		return value != 0, nil
	case float64:
		return value != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", v)
	}
}

// Package template renders text/template expressions against an execution's data.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/weave/pkg/models"
)

// Data builds the template data for an expression evaluated inside an execution.
// Node outputs are keyed by node id under "nodes"; input is what the current node
// received from its predecessor.
func Data(execution *models.WorkflowExecution, input any) map[string]any {
	nodes := make(map[string]any, len(execution.NodeExecutions))

	for _, ne := range execution.NodeExecutions {
		if ne.Status == models.NodeExecutionStatusCompleted {
			nodes[ne.NodeID] = ne.Output
		}
	}

	return map[string]any{
		"vars":         execution.Variables,
		"variables":    execution.Variables,
		"trigger_data": execution.TriggerData,
		"input":        input,
		"nodes":        nodes,
		"env":          getEnvVars(),
		"execution": map[string]any{
			"id":           execution.ID,
			"workflow_id":  execution.WorkflowID,
			"version":      execution.WorkflowVersion,
			"triggered_by": execution.TriggeredBy,
		},
	}
}

// RenderWithExecution renders input against the data of an execution.
func RenderWithExecution(input string, execution *models.WorkflowExecution, nodeInput any) (any, error) {
	return Render(input, Data(execution, nodeInput))
}

// Render executes the template and decodes the output: JSON objects and arrays,
// numbers and booleans are returned typed, anything else as a trimmed string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("expression").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}

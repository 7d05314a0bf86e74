package actions

import (
	"context"
	"log/slog"

	weavelog "github.com/dukex/weave/pkg/log"
	"github.com/dukex/weave/pkg/workflow"
)

// Log writes the rendered "message" parameter at "level" (info) and passes the node
// input through.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("action_type", "log")}
}

func (a *Log) Run(ctx context.Context, nc *workflow.NodeContext) (any, error) {
	message, err := param(nc, "message")
	if err != nil {
		return nil, err
	}

	level, _ := nc.Node.Config.Params["level"].(string)

	a.logger.Log(ctx, weavelog.ParseLevel(level), message,
		"workflow_id", nc.Execution.WorkflowID,
		"execution_id", nc.Execution.ID,
		"node_id", nc.Node.ID,
	)

	return nc.Input, nil
}

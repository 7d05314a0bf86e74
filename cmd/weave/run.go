package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/weave/pkg/actions"
	"github.com/dukex/weave/pkg/engine"
	"github.com/dukex/weave/pkg/log"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/urfave/cli/v3"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run a workflow definition once in memory and print the execution as JSON",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "input",
				Usage: "Trigger data as a JSON object",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up waiting for the execution after this long",
				Value: 5 * time.Minute,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			def, err := loadDefinition(ctx, command.Args().First())
			if err != nil {
				printViolations(command, err)

				return err
			}

			var triggerData map[string]any

			if raw := command.String("input"); raw != "" {
				err = json.Unmarshal([]byte(raw), &triggerData)
				if err != nil {
					return fmt.Errorf("invalid --input: %w", err)
				}
			}

			execution, err := runOnce(ctx, def, triggerData, command.Duration("timeout"))
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(command.Root().Writer)
			encoder.SetIndent("", "  ")

			return encoder.Encode(execution)
		},
	}
}

// runOnce stores def as an active workflow in a fresh in-memory engine, executes it and
// waits for a terminal status.
func runOnce(ctx context.Context, def *models.WorkflowDefinition, triggerData map[string]any, timeout time.Duration) (*models.WorkflowExecution, error) {
	logger := log.WithModule("weave-run")

	e := engine.New(memory.NewPersistence(),
		engine.WithLogger(logger),
		engine.WithTickInterval(10*time.Millisecond),
		engine.WithTaskRunner(actions.NewRunner(logger)),
	)

	def.IsActive = true

	created, err := e.CreateWorkflow(ctx, def)
	if err != nil {
		return nil, err
	}

	id, err := e.ExecuteWorkflow(ctx, created.ID, triggerData, "cli")
	if err != nil {
		return nil, err
	}

	err = e.Start(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		err := e.Stop(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to stop engine", "error", err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execution, err := e.WaitForExecution(waitCtx, id, 10*time.Millisecond)
	if err != nil {
		return execution, fmt.Errorf("execution %s did not finish: %w", id, err)
	}

	return execution, nil
}

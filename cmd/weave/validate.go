package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/weave/pkg/engine"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/dukex/weave/pkg/schema"
	"github.com/dukex/weave/pkg/services"
	"github.com/urfave/cli/v3"
)

var ErrMissingFile = errors.New("a workflow definition file is required")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a workflow definition file against the schema and the graph rules",
		ArgsUsage: "FILE",
		Action: func(ctx context.Context, command *cli.Command) error {
			def, err := loadDefinition(ctx, command.Args().First())
			if err != nil {
				printViolations(command, err)

				return err
			}

			_, err = fmt.Fprintf(command.Root().Writer, "%s is valid (%d nodes, %d connections)\n",
				def.Name, len(def.Nodes), len(def.Connections))

			return err
		},
	}
}

// loadDefinition reads, schema-checks and graph-validates a definition file.
func loadDefinition(ctx context.Context, path string) (*models.WorkflowDefinition, error) {
	if path == "" {
		return nil, ErrMissingFile
	}

	document, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	def, err := schema.Decode(document)
	if err != nil {
		return nil, err
	}

	err = engine.New(memory.NewPersistence()).ValidateWorkflow(ctx, def)
	if err != nil {
		return nil, err
	}

	return def, nil
}

func printViolations(command *cli.Command, err error) {
	var serviceErr *services.ServiceError
	if !errors.As(err, &serviceErr) || len(serviceErr.Fields) == 0 {
		return
	}

	for _, field := range serviceErr.Fields {
		_, _ = fmt.Fprintf(command.Root().ErrWriter, "  %s: %s\n", field.Field, field.Message)
	}
}

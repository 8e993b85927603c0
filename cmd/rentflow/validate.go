package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dukex/rentflow/pkg/services"
	"github.com/urfave/cli/v3"
)

var (
	ErrNoWorkflowFiles  = errors.New("no workflow files given")
	ErrInvalidWorkflows = errors.New("invalid workflows found")
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow definition files without storing them",
		ArgsUsage: "FILE...",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := slog.With(
				"module", "rentflow",
				"action", "validate",
			)

			return validateFiles(command.Root().Writer, services.NewWorkflow(nil, logger), command.Args().Slice())
		},
	}
}

// validateFiles reports every file's problems to out and fails when any file is invalid.
func validateFiles(out io.Writer, workflows *services.Workflow, paths []string) error {
	if len(paths) == 0 {
		return ErrNoWorkflowFiles
	}

	invalid := 0

	for _, path := range paths {
		err := validateFile(workflows, path)
		if err == nil {
			_, _ = fmt.Fprintf(out, "%s: ok\n", path)

			continue
		}

		invalid++

		var verr *services.ValidationError
		if !errors.As(err, &verr) {
			_, _ = fmt.Fprintf(out, "%s: %v\n", path, err)

			continue
		}

		for _, field := range verr.Fields {
			_, _ = fmt.Fprintf(out, "%s: %s: %s\n", path, field.Field, field.Message)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, len(paths))
	}

	return nil
}

func validateFile(workflows *services.Workflow, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var spec services.WorkflowSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	_, err = workflows.Validate(spec)

	return err
}

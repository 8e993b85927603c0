// Package main provides the rentflow binary: the authoring API, trigger evaluator and event dispatcher.
package main

import (
	"context"
	"os"

	"github.com/dukex/rentflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("rentflow")

	cmd := &cli.Command{
		Name:                  "rentflow",
		Usage:                 "Automate property management workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewServeCommand(),
			NewValidateCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("rentflow exited with an error", "error", err)
		os.Exit(1)
	}
}

// Copyright (c) 2026 The Spineflow Authors

// Package cmd implements the spineflow CLI: project validation and
// version reporting. Running a project end-to-end requires an embedding
// application to supply an item.Factory and the database/filter
// collaborators (see engine.Config); this binary only exercises the parts
// of the engine that don't need them.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spineflow/engine/internal/config"
	"github.com/spineflow/engine/internal/logger"
)

var (
	debug      bool
	logFormat  string
	configPath string
)

// Execute runs the CLI, returning the process exit code.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "spineflow",
		Short: "Validate and inspect spineflow engine project descriptions",
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")

	root.AddCommand(newValidateCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func buildLogger() *zap.Logger {
	var opts []logger.Option
	if debug {
		opts = append(opts, logger.WithDebug())
	}
	opts = append(opts, logger.WithFormat(logFormat))
	return logger.New(opts...)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

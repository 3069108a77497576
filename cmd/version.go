package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spineflow/engine/internal/build"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", build.AppName, build.Version)
			return nil
		},
	}
}

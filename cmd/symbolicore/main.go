// Package main provides the symbolicore binary: record, load, and
// import CPU profiles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/symbolicore/internal/cli/importcmd"
	"github.com/coral-mesh/symbolicore/internal/cli/load"
	"github.com/coral-mesh/symbolicore/internal/cli/record"
	"github.com/coral-mesh/symbolicore/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "symbolicore",
		Short:         "symbolicore - sampling CPU profiler and symbolication pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(record.NewCommand())
	rootCmd.AddCommand(load.NewCommand())
	rootCmd.AddCommand(importcmd.NewCommand())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("symbolicore version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Package importcmd implements the `symbolicore import` subcommand:
// convert a profile produced by another tool's pprof exporter (or `go
// tool pprof`) into the same Gecko processed-profile JSON a live
// recording produces.
package importcmd

import (
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/symbolicore/internal/errors"
	"github.com/coral-mesh/symbolicore/internal/logging"
	internalprofile "github.com/coral-mesh/symbolicore/internal/profile"
)

// NewCommand builds the import command.
func NewCommand() *cobra.Command {
	var (
		output    string
		arch      string
		unlinkAux bool
	)

	cmd := &cobra.Command{
		Use:   "import <profile.pb.gz>",
		Short: "Convert a pprof profile into Gecko processed-profile JSON",
		Long: `Import reads a gzip-compressed pprof profile (the format
'go tool pprof' and most Go profilers write) and converts it into the
Gecko processed-profile JSON this module's own 'record' subcommand
produces, so it can be served via 'symbolicore load' or inspected the
same way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if output == "" {
				return fmt.Errorf("--output is required")
			}

			logger := logging.New(logging.DefaultConfig())

			//nolint:gosec // G304: path is a command-line argument, not web input.
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer errors.DeferClose(logger, f, "failed to close "+path)

			p, err := profile.Parse(f)
			if err != nil {
				return fmt.Errorf("parse pprof profile: %w", err)
			}

			doc, err := internalprofile.ImportPprof(p)
			if err != nil {
				return fmt.Errorf("convert pprof profile: %w", err)
			}

			if arch != "" {
				for i := range doc.Libraries {
					doc.Libraries[i].Arch = arch
				}
			}

			data, err := internalprofile.EncodeGecko(doc)
			if err != nil {
				return fmt.Errorf("encode profile: %w", err)
			}
			//nolint:gosec // G306: profile JSON is not sensitive.
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("write profile to %s: %w", output, err)
			}

			if unlinkAux {
				if err := os.Remove(path); err != nil {
					fmt.Fprintf(os.Stderr, "warning: failed to unlink %s: %v\n", path, err)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Path to write the Gecko profile JSON to (required)")
	cmd.Flags().StringVar(&arch, "arch", "", "Override the recorded architecture on every library entry")
	cmd.Flags().BoolVar(&unlinkAux, "unlink-aux-files", false, "Delete the source pprof file once import succeeds")

	cmd.MarkFlagRequired("output") //nolint:errcheck

	return cmd
}

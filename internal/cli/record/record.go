// Package record implements the `symbolicore record` subcommand:
// attach to one or more running processes, sample their CPU stacks
// for a fixed window via eBPF, and write the assembled profile as
// Gecko processed-profile JSON.
package record

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/symbolicore/internal/agent/debug"
	"github.com/coral-mesh/symbolicore/internal/agent/profiler"
	"github.com/coral-mesh/symbolicore/internal/logging"
	"github.com/coral-mesh/symbolicore/internal/profile"
)

// NewCommand builds the record command.
func NewCommand() *cobra.Command {
	var (
		pidsFlag      string
		names         string
		output        string
		arch          string
		duration      int
		frequency     int
		reuseThreads  bool
		foldRecursive bool
		perCPUThreads bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a CPU profile from one or more running processes",
		Long: `Record samples CPU stacks from one or more running processes using
eBPF perf_event sampling and writes the result as a Gecko processed
profile, the format the Firefox Profiler UI and 'symbolicore load'
both consume.

Examples:
  symbolicore record --pids 1234 --duration 30 --output profile.json
  symbolicore record --pids 1234,5678 --frequency 49 --output profile.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pids, err := parsePIDs(pidsFlag)
			if err != nil {
				return err
			}
			if len(pids) == 0 {
				return fmt.Errorf("--pids is required")
			}
			if output == "" {
				return fmt.Errorf("--output is required")
			}

			logger := logging.New(logging.DefaultConfig())

			if perCPUThreads {
				logger.Warn().Msg("--per-cpu-threads is accepted but not yet implemented; profiling per target thread instead")
			}

			kernelSymbolizer, err := debug.NewKernelSymbolizer(logger)
			if err != nil {
				logger.Warn().Err(err).Msg("kernel symbolizer unavailable, kernel frames will be unnamed")
			}

			result, err := profiler.Record(cmd.Context(), profiler.RecordConfig{
				PIDs:            pids,
				DurationSeconds: duration,
				FrequencyHz:     frequency,
				ProcessName:     names,
				ReuseThreads:    reuseThreads,
				FoldRecursive:   foldRecursive,
			}, kernelSymbolizer, logger)
			if err != nil {
				return fmt.Errorf("record: %w", err)
			}

			if result.LostSamples > 0 {
				fmt.Fprintf(os.Stderr, "warning: lost %d samples to map overflow\n", result.LostSamples)
			}
			fmt.Fprintf(os.Stderr, "captured %d samples across %d process(es)\n", result.TotalSamples, len(pids))

			if arch != "" {
				applyArchOverride(result.Document, arch)
			}

			return writeDocument(result.Document, output)
		},
	}

	cmd.Flags().StringVar(&pidsFlag, "pids", "", "Comma-separated list of process IDs to profile (required)")
	cmd.Flags().StringVar(&names, "names", "", "Process name recorded as the profile's initial task name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Path to write the Gecko profile JSON to (required)")
	cmd.Flags().StringVar(&arch, "arch", "", "Override the recorded architecture on every library entry")
	cmd.Flags().IntVarP(&duration, "duration", "d", 30, "Profiling duration in seconds")
	cmd.Flags().IntVar(&frequency, "frequency", 99, "Sampling frequency in Hz")
	cmd.Flags().BoolVar(&reuseThreads, "reuse-threads", false, "Resume a same-named thread's record after it ends instead of starting a new one")
	cmd.Flags().BoolVar(&foldRecursive, "fold-recursive-prefix", false, "Collapse a directly recursive call prefix into a single stack node")
	cmd.Flags().BoolVar(&perCPUThreads, "per-cpu-threads", false, "Reserved for future per-CPU thread partitioning")

	cmd.MarkFlagRequired("pids")   //nolint:errcheck
	cmd.MarkFlagRequired("output") //nolint:errcheck

	return cmd
}

func parsePIDs(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var pids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pid, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid pid %q: %w", part, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func applyArchOverride(doc *profile.Document, arch string) {
	for i := range doc.Libraries {
		doc.Libraries[i].Arch = arch
	}
}

func writeDocument(doc *profile.Document, path string) error {
	data, err := profile.EncodeGecko(doc)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	//nolint:gosec // G306: profile JSON is not sensitive.
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write profile to %s: %w", path, err)
	}
	return nil
}

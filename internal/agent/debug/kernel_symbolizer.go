//go:build linux
// +build linux

package debug

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symbolicore/internal/errors"
	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/kallsyms"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/sys/proc"
)

// KernelSymbolizer resolves kernel-mode stack addresses by wrapping a
// kallsyms.SymbolMap, so kernel frames go through the same
// symbolicate.SymbolMap interface as every userspace library instead
// of a bespoke lookup.
type KernelSymbolizer struct {
	sm     *kallsyms.SymbolMap
	logger zerolog.Logger
}

// NewKernelSymbolizer builds a KernelSymbolizer by reading
// /proc/kallsyms once at agent startup; the result is reused for every
// profiling session for the lifetime of the process.
func NewKernelSymbolizer(logger zerolog.Logger) (*KernelSymbolizer, error) {
	logger = logger.With().Str("component", "kernel_symbolizer").Logger()

	f, err := os.Open("/proc/kallsyms")
	if err != nil {
		return nil, fmt.Errorf("failed to open /proc/kallsyms: %w (requires root or CAP_SYSLOG)", err)
	}
	defer errors.DeferClose(logger, f, "failed to close /proc/kallsyms")

	sm, err := kallsyms.Open(f, proc.GetKernelVersion(), location.LocalFile("/proc/kallsyms"))
	if err != nil {
		return nil, fmt.Errorf("parse kallsyms: %w", err)
	}

	logger.Info().
		Int("symbol_count", sm.SymbolCount()).
		Str("debug_id", sm.DebugID().String()).
		Msg("Kernel symbolizer initialized")

	return &KernelSymbolizer{sm: sm, logger: logger}, nil
}

// SymbolMap exposes the underlying symbolicate.SymbolMap, for a
// resolver or facade that wants to symbolicate a kernel address the
// same way it would a userspace one.
func (k *KernelSymbolizer) SymbolMap() symbolicate.SymbolMap { return k.sm }

// SymbolCount returns the number of kernel symbols loaded.
func (k *KernelSymbolizer) SymbolCount() int { return k.sm.SymbolCount() }

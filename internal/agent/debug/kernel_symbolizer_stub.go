//go:build !linux
// +build !linux

package debug

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
)

// KernelSymbolizer stub for non-Linux platforms.
type KernelSymbolizer struct{}

// NewKernelSymbolizer returns an error on non-Linux platforms.
func NewKernelSymbolizer(logger zerolog.Logger) (*KernelSymbolizer, error) {
	return nil, fmt.Errorf("kernel symbolization is only supported on Linux")
}

// SymbolMap returns nil on non-Linux platforms.
func (k *KernelSymbolizer) SymbolMap() symbolicate.SymbolMap { return nil }

// SymbolCount returns 0 on non-Linux platforms.
func (k *KernelSymbolizer) SymbolCount() int { return 0 }

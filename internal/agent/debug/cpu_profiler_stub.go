//go:build !linux
// +build !linux

package debug

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symbolicore/internal/profile"
)

// CPUProfileSession represents an active CPU profiling session (stub for non-Linux).
type CPUProfileSession struct{}

// CPUProfileResult contains the results of a CPU profiling session (stub for non-Linux).
type CPUProfileResult struct {
	TotalSamples uint64
	LostSamples  uint32
}

// StartCPUProfile returns an error on non-Linux systems.
func StartCPUProfile(pid int, durationSeconds int, frequencyHz int, kernelSymbolizer *KernelSymbolizer, assembler *profile.Assembler, logger zerolog.Logger) (*CPUProfileSession, error) {
	return nil, fmt.Errorf("CPU profiling is only supported on Linux")
}

// CollectProfile returns an error on non-Linux systems.
func (s *CPUProfileSession) CollectProfile() (*CPUProfileResult, error) {
	return nil, fmt.Errorf("CPU profiling is only supported on Linux")
}

// DrainStackCounts returns an error on non-Linux systems.
func (s *CPUProfileSession) DrainStackCounts() (*CPUProfileResult, error) {
	return nil, fmt.Errorf("CPU profiling is only supported on Linux")
}

// Close is a no-op on non-Linux systems and always returns nil.
func (s *CPUProfileSession) Close() error {
	return nil
}

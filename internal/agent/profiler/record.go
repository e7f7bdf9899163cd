// Package profiler drives a CPU profiling session end to end: attach
// to one or more target processes, collect samples for a fixed
// window, and assemble them into a single profile document.
package profiler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symbolicore/internal/agent/debug"
	"github.com/coral-mesh/symbolicore/internal/profile"
)

// RecordConfig configures a recording pass.
type RecordConfig struct {
	PIDs            []int
	DurationSeconds int
	FrequencyHz     int
	ProcessName     string
	ReuseThreads    bool
	FoldRecursive   bool
}

// RecordResult summarizes the capture across every attached process.
type RecordResult struct {
	Document     *profile.Document
	TotalSamples uint64
	LostSamples  uint32
}

// Record attaches a CPU profiling session to each of cfg.PIDs,
// collects samples for cfg.DurationSeconds, and returns the single
// profile document assembled from all of them. Every session shares
// one Assembler, so a multi-process recording becomes one document
// with one process entry per PID rather than a document per process.
//
// The Assembler runs concurrently with the collection windows so
// ingestion never blocks sample capture past the queue's buffer.
func Record(ctx context.Context, cfg RecordConfig, kernelSymbolizer *debug.KernelSymbolizer, logger zerolog.Logger) (*RecordResult, error) {
	if len(cfg.PIDs) == 0 {
		return nil, fmt.Errorf("no target pids given")
	}

	assembler := profile.NewAssembler(logger, profile.RecordingProps{
		Interval:            profile.Timestamp(1000.0 / float64(frequencyOrDefault(cfg.FrequencyHz))),
		InitialTaskName:     cfg.ProcessName,
		ReferenceTimestamp:  profile.Timestamp(time.Now().UnixMilli()),
		ReuseThreads:        cfg.ReuseThreads,
		FoldRecursivePrefix: cfg.FoldRecursive,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	docCh := make(chan *profile.Document, 1)
	errCh := make(chan error, 1)
	go func() {
		doc, err := assembler.Run(runCtx)
		if err != nil {
			errCh <- err
			return
		}
		docCh <- doc
	}()

	sessions := make([]*debug.CPUProfileSession, 0, len(cfg.PIDs))
	for _, pid := range cfg.PIDs {
		session, err := debug.StartCPUProfile(pid, cfg.DurationSeconds, cfg.FrequencyHz, kernelSymbolizer, assembler, logger)
		if err != nil {
			logger.Warn().Err(err).Int("pid", pid).Msg("failed to start CPU profile for pid, skipping")
			continue
		}
		sessions = append(sessions, session)
	}
	if len(sessions) == 0 {
		assembler.Close()
		cancel()
		<-errOrDone(errCh, docCh)
		return nil, fmt.Errorf("failed to start CPU profiling for any of %d target pids", len(cfg.PIDs))
	}

	var totalSamples uint64
	var lostSamples uint32
	var collectErr error
	for _, session := range sessions {
		result, err := session.CollectProfile()
		if err != nil {
			collectErr = err
		} else {
			totalSamples += result.TotalSamples
			lostSamples += result.LostSamples
		}
		if err := session.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to cleanly close CPU profile session")
		}
	}
	assembler.Close()

	if collectErr != nil {
		cancel()
		<-errOrDone(errCh, docCh)
		return nil, fmt.Errorf("collect profile: %w", collectErr)
	}

	select {
	case doc := <-docCh:
		logger.Info().
			Int("process_count", len(sessions)).
			Uint64("total_samples", totalSamples).
			Msg("recording finished")
		return &RecordResult{Document: doc, TotalSamples: totalSamples, LostSamples: lostSamples}, nil
	case err := <-errCh:
		return nil, fmt.Errorf("assemble profile: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// errOrDone drains whichever of errCh/docCh fires first, so a caller
// that's already decided to return an error doesn't leak the
// Assembler's goroutine.
func errOrDone(errCh chan error, docCh chan *profile.Document) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-errCh:
		case <-docCh:
		}
		close(done)
	}()
	return done
}

func frequencyOrDefault(hz int) int {
	if hz <= 0 {
		return 99
	}
	return hz
}

//go:build linux
// +build linux

package debug

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/symbolicore/internal/profile"
	"github.com/coral-mesh/symbolicore/internal/safe"
	"github.com/coral-mesh/symbolicore/internal/sys/proc"
)

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -tags linux cpu_profile ./bpf/cpu_profile.bpf.c -- -I../ebpf/bpf/headers

const (
	defaultSampleFrequency = 99   // 99Hz sampling
	maxSampleFrequency     = 1000 // 1000Hz max
	maxStackDepth          = 127  // Max stack depth from BPF
)

// CPUProfileSession represents an active CPU profiling session. It
// carries no symbol-resolution state of its own: captured stacks flow
// straight into a profile.Assembler as raw-address Sample events, and
// naming happens later in the shared symbolication pipeline.
type CPUProfileSession struct {
	PID              int
	StartTime        time.Time
	Duration         time.Duration
	Frequency        int
	Logger           zerolog.Logger
	BPFObjects       *cpu_profileObjects
	PerfEventFDs     []int
	StackTraces      *ebpf.Map // Reference to stack_traces map
	StackCounts      *ebpf.Map // Reference to stack_counts map
	Assembler        *profile.Assembler
	KernelSymbolizer *KernelSymbolizer
}

// CPUProfileResult summarizes one collection window; the samples
// themselves are pushed into the session's Assembler as they're read,
// not returned here.
type CPUProfileResult struct {
	TotalSamples uint64
	LostSamples  uint32
}

// stackKey matches the struct in cpu_profile.bpf.c. PID here is the
// kernel's "pid" (the sampled thread's TID, in userspace terms), not
// the thread group id.
type stackKey struct {
	PID           uint32
	UserStackID   int32
	KernelStackID int32
}

// StartCPUProfile starts a CPU profiling session, attaching a BPF
// stack-sampling program to a perf event on every thread of pid, and
// seeds assembler with this process's structural events (ProcessStart,
// a ThreadStart per discovered thread, and a LibMappingAdd per
// executable region of its address space).
func StartCPUProfile(pid int, durationSeconds int, frequencyHz int, kernelSymbolizer *KernelSymbolizer, assembler *profile.Assembler, logger zerolog.Logger) (*CPUProfileSession, error) {
	if frequencyHz <= 0 {
		frequencyHz = defaultSampleFrequency
	}
	if frequencyHz > maxSampleFrequency {
		return nil, fmt.Errorf("frequency %dHz exceeds maximum %dHz", frequencyHz, maxSampleFrequency)
	}

	if durationSeconds <= 0 {
		durationSeconds = 30 // Default 30 seconds
	}

	// Load BPF program.
	objs := &cpu_profileObjects{}
	if err := loadCpu_profileObjects(objs, nil); err != nil {
		return nil, fmt.Errorf("load BPF objects: %w", err)
	}

	sample, clamp := safe.IntToUint64(frequencyHz)
	if clamp {
		objs.Close() // nolint:errcheck
		return nil, fmt.Errorf("invalid frequency %dHz being clamped", frequencyHz)
	}

	// Open perf events for all threads in the target process.
	// Use PERF_COUNT_SW_TASK_CLOCK for per-task CPU profiling. This measures CPU time
	// consumed by each task and works reliably across environments including
	// Docker Desktop VMs where PERF_COUNT_SW_CPU_CLOCK may not fire.
	// PerfBitInherit ensures new threads spawned after we start are also profiled.
	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_SOFTWARE,
		Config: unix.PERF_COUNT_SW_TASK_CLOCK,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample: sample,                                // Sample frequency in Hz
		Bits:   unix.PerfBitFreq | unix.PerfBitInherit, // Frequency mode + inherit to child threads
	}

	// Enumerate all threads to attach perf events to each one.
	// This is necessary because Go programs run goroutines across multiple OS threads,
	// and a single perf event only monitors one thread.
	tids, err := proc.ListThreads(pid)
	if err != nil {
		logger.Warn().Err(err).Int("pid", pid).Msg("Failed to list threads, falling back to main PID only")
		tids = []int{pid}
	}

	var perfEventFDs []int
	for _, tid := range tids {
		fd, err := unix.PerfEventOpen(attr, tid, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			logger.Warn().Err(err).Int("tid", tid).Msg("Failed to open perf event for thread, skipping")
			continue
		}

		// Attach BPF program to perf event.
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_SET_BPF, objs.ProfileCpu.FD()); err != nil {
			unix.Close(fd) // nolint:errcheck
			logger.Warn().Err(err).Int("tid", tid).Msg("Failed to attach BPF to perf event, skipping")
			continue
		}

		// Enable the perf event.
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			unix.Close(fd) // nolint:errcheck
			logger.Warn().Err(err).Int("tid", tid).Msg("Failed to enable perf event, skipping")
			continue
		}

		perfEventFDs = append(perfEventFDs, fd)
	}

	if len(perfEventFDs) == 0 {
		objs.Close() // nolint:errcheck
		return nil, fmt.Errorf("failed to open perf events for any thread of pid %d", pid)
	}

	logger.Info().Int("thread_count", len(perfEventFDs)).Int("total_threads", len(tids)).Msg("Perf events attached to threads")

	session := &CPUProfileSession{
		PID:              pid,
		StartTime:        time.Now(),
		Duration:         time.Duration(durationSeconds) * time.Second,
		Frequency:        frequencyHz,
		Logger:           logger,
		BPFObjects:       objs,
		PerfEventFDs:     perfEventFDs,
		StackTraces:      objs.StackTraces,
		StackCounts:      objs.StackCounts,
		Assembler:        assembler,
		KernelSymbolizer: kernelSymbolizer,
	}

	session.seedAssembler(tids)

	logger.Info().
		Int("pid", pid).
		Int("duration_seconds", durationSeconds).
		Int("frequency_hz", frequencyHz).
		Msg("CPU profiling session started")

	return session, nil
}

// seedAssembler ingests the structural events a freshly attached
// session already knows about: the process itself, each thread perf
// events were opened on, and every executable library currently
// mapped into the process's address space.
func (s *CPUProfileSession) seedAssembler(tids []int) {
	ctx := context.Background()
	ts := s.elapsedMillis()
	pid, _ := safe.IntToUint32(s.PID)

	name, cmdline := processNameAndCmdline(s.PID, s.Logger)

	_ = s.Assembler.Ingest(ctx, profile.Event{Kind: profile.EventProcessStart, ProcessStart: &profile.ProcessStart{
		PID:       pid,
		StartTime: ts,
		Name:      name,
		Cmdline:   cmdline,
	}})

	for _, tid := range tids {
		utid, _ := safe.IntToUint32(tid)
		_ = s.Assembler.Ingest(ctx, profile.Event{Kind: profile.EventThreadStart, ThreadStart: &profile.ThreadStart{
			PID: pid,
			TID: utid,
		}})
	}

	for _, ev := range libMappingAddsForProcess(pid, ts, s.Logger) {
		ev := ev
		if err := s.Assembler.Ingest(ctx, profile.Event{Kind: profile.EventLibMapping, LibMapping: &ev}); err != nil {
			s.Logger.Warn().Err(err).Msg("failed to ingest lib mapping")
		}
	}
}

// processNameAndCmdline looks up pid's executable name and command
// line via gopsutil, for the ProcessStart event. Either being
// unavailable (the process exited, or /proc access is restricted)
// just means the profile's process entry goes unnamed; it's never
// fatal here.
func processNameAndCmdline(pid int, logger zerolog.Logger) (string, []string) {
	p, err := process.NewProcess(safeInt32(pid))
	if err != nil {
		logger.Warn().Err(err).Int("pid", pid).Msg("failed to look up process for name/cmdline")
		return "", nil
	}

	name, err := p.Name()
	if err != nil {
		logger.Debug().Err(err).Int("pid", pid).Msg("failed to read process name")
	}

	cmdline, err := p.CmdlineSlice()
	if err != nil {
		logger.Debug().Err(err).Int("pid", pid).Msg("failed to read process cmdline")
	}

	return name, cmdline
}

func safeInt32(pid int) int32 {
	v, _ := safe.IntToInt32(pid)
	return v
}

// elapsedMillis reports the time since the session started, in the
// millisecond unit profile.Timestamp uses.
func (s *CPUProfileSession) elapsedMillis() profile.Timestamp {
	return profile.Timestamp(time.Since(s.StartTime).Seconds() * 1000)
}

// CollectProfile waits for the duration and ingests the collected
// stacks into the session's Assembler.
func (s *CPUProfileSession) CollectProfile() (*CPUProfileResult, error) {
	// Wait for the profiling duration.
	time.Sleep(s.Duration)

	return s.readStackCounts()
}

// DrainStackCounts reads and clears accumulated samples from the BPF maps without
// sleeping. Used by a continuous profiler that keeps a persistent BPF session.
func (s *CPUProfileSession) DrainStackCounts() (*CPUProfileResult, error) {
	return s.readStackCounts()
}

// readStackCounts reads stack_counts, ingests one Sample event per
// occurrence of each distinct stack into the Assembler, then clears
// the maps so the next collection window starts empty.
func (s *CPUProfileSession) readStackCounts() (*CPUProfileResult, error) {
	ctx := context.Background()
	ts := s.elapsedMillis()
	periodMillis := 1000.0 / float64(s.Frequency)

	var totalSamples uint64
	var key stackKey
	var value uint64
	iter := s.StackCounts.Iterate()

	for iter.Next(&key, &value) {
		totalSamples += value

		stack, err := s.resolveStack(key)
		if err != nil {
			s.Logger.Warn().
				Err(err).
				Int32("user_stack_id", key.UserStackID).
				Int32("kernel_stack_id", key.KernelStackID).
				Msg("Failed to resolve stack")
			continue
		}
		if len(stack) == 0 {
			continue
		}

		for i := uint64(0); i < value; i++ {
			sampleTS := ts - profile.Timestamp(float64(value-1-i)*periodMillis)
			ev := profile.Sample{
				PID:       key.PID,
				TID:       key.PID,
				Timestamp: sampleTS,
				CPUDelta:  profile.Timestamp(periodMillis),
				Stack:     stack,
			}
			if err := s.Assembler.Ingest(ctx, profile.Event{Kind: profile.EventSample, Sample: &ev}); err != nil {
				s.Logger.Warn().Err(err).Msg("failed to ingest sample")
			}
		}
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("iterate stack counts: %w", err)
	}

	// Clear maps after reading to prevent unbounded accumulation across collection windows.
	var delKey stackKey
	delIter := s.StackCounts.Iterate()
	for delIter.Next(&delKey, &value) {
		if err := s.StackCounts.Delete(&delKey); err != nil {
			s.Logger.Warn().Err(err).Msg("Failed to delete stack count entry")
		}
	}

	result := &CPUProfileResult{TotalSamples: totalSamples}

	s.Logger.Info().
		Uint64("total_samples", totalSamples).
		Msg("CPU profile collected")

	return result, nil
}

// resolveStack builds one root-first AVMA stack combining the user and
// kernel halves of a BPF stack key. getStackTrace returns addresses
// leaf-first (the BPF helper walks outward from the current PC), so
// each half is reversed before being joined; the user half comes
// first since the kernel is entered from the user stack's leaf frame
// (a syscall) and runs "below" it.
func (s *CPUProfileSession) resolveStack(key stackKey) ([]uint64, error) {
	var stack []uint64

	if key.UserStackID >= 0 {
		userFrames, err := s.getStackTrace(key.UserStackID)
		if err != nil {
			return nil, fmt.Errorf("get user stack: %w", err)
		}
		for i := len(userFrames) - 1; i >= 0; i-- {
			stack = append(stack, userFrames[i])
		}
	}

	if key.KernelStackID >= 0 {
		kernelFrames, err := s.getStackTrace(key.KernelStackID)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("Failed to get kernel stack")
		} else {
			for i := len(kernelFrames) - 1; i >= 0; i-- {
				stack = append(stack, kernelFrames[i])
			}
		}
	}

	return stack, nil
}

// getStackTrace retrieves a stack trace from the stack_traces map.
func (s *CPUProfileSession) getStackTrace(stackID int32) ([]uint64, error) {
	var stack [maxStackDepth]uint64
	key, clamp := safe.Int32ToUint32(stackID)
	if clamp {
		return nil, fmt.Errorf("invalid stack ID number would overflow: %d", stackID)
	}

	if err := s.StackTraces.Lookup(&key, &stack); err != nil {
		return nil, fmt.Errorf("lookup stack %d: %w", stackID, err)
	}

	// Convert fixed array to slice.
	result := make([]uint64, 0, maxStackDepth)
	for _, addr := range stack {
		if addr == 0 {
			break
		}
		result = append(result, addr)
	}

	return result, nil
}

// Close closes the CPU profiling session and cleans up resources.
func (s *CPUProfileSession) Close() error {
	var errs []error

	for _, fd := range s.PerfEventFDs {
		if fd > 0 {
			_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
			if err := unix.Close(fd); err != nil {
				errs = append(errs, fmt.Errorf("close perf event fd %d: %w", fd, err))
			}
		}
	}

	if s.BPFObjects != nil {
		if err := s.BPFObjects.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close BPF objects: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing CPU profile session: %v", errs)
	}

	s.Logger.Info().Msg("CPU profiling session closed")
	return nil
}

// Package profile implements the profile assembly layer: it consumes a
// stream of typed events describing process/thread lifecycle, library
// mappings, sampled stacks, context switches, JIT method loads, and
// markers, and assembles them into a single time-ordered,
// thread-partitioned profile document.
package profile

// Timestamp is milliseconds since the profile's reference timestamp,
// the unit every event and every emitted Gecko document field uses.
type Timestamp float64

// LibHandle identifies one mapped library (or a JIT pseudo-library)
// within a process, stable for the lifetime of that mapping.
type LibHandle uint32

// ProcessStart begins a process's lifetime in the profile.
type ProcessStart struct {
	PID       uint32
	StartTime Timestamp
	Name      string
	Cmdline   []string
}

// ProcessEnd ends a process's lifetime.
type ProcessEnd struct {
	PID     uint32
	EndTime Timestamp
}

// ThreadStart begins a thread's lifetime within a process.
type ThreadStart struct {
	PID  uint32
	TID  uint32
	Name string
}

// ThreadEnd ends a thread's lifetime.
type ThreadEnd struct {
	PID uint32
	TID uint32
}

// LibMappingEventKind discriminates the LibMapping variants.
type LibMappingEventKind int

const (
	// LibMappingAdd maps a new AVMA range to a library.
	LibMappingAdd LibMappingEventKind = iota
	// LibMappingRemove unmaps a previously added AVMA range, named by
	// its start address.
	LibMappingRemove
	// LibMappingClear drops every mapping for the process.
	LibMappingClear
)

// LibMappingInfo names the library a LibMappingAdd event maps in.
type LibMappingInfo struct {
	DebugName string
	DebugID   string // rendered DebugID string, or "" if unknown
	CodeID    string
	Path      string
	Arch      string
}

// LibMapping is one entry in a process's LibMappingOpQueue: at
// Timestamp, either a new [StartAVMA, EndAVMA) range starts covering
// Info (RelativeAddressAtStart is the RVA the range's first byte
// corresponds to, normally 0), a previously added range starting at
// StartAVMA stops covering anything, or every mapping is dropped.
type LibMapping struct {
	PID       uint32
	Timestamp Timestamp
	Kind      LibMappingEventKind

	StartAVMA              uint64 // Add, Remove
	EndAVMA                uint64 // Add
	RelativeAddressAtStart uint32 // Add
	Info                   LibMappingInfo // Add
}

// Sample is one stack sample for a thread at a point in time.
type Sample struct {
	PID       uint32
	TID       uint32
	Timestamp Timestamp
	CPUDelta  Timestamp // time attributed to this sample since the last one
	Stack     []uint64  // AVMAs, outermost (root) frame first, leaf last
}

// ContextSwitchDirection discriminates ContextSwitch.
type ContextSwitchDirection int

const (
	// ContextSwitchIn means the thread was scheduled onto a CPU.
	ContextSwitchIn ContextSwitchDirection = iota
	// ContextSwitchOut means the thread was scheduled off a CPU.
	ContextSwitchOut
)

// ContextSwitch records a thread's scheduling transition, used to
// accumulate off-CPU time per thread.
type ContextSwitch struct {
	TID       uint32
	Direction ContextSwitchDirection
	Timestamp Timestamp
}

// JitMethodLoad announces a JIT-compiled method's address range and
// name, synthesizing an entry into the process's JIT pseudo-library.
// Unlike a native library mapping, the name is carried directly on the
// event: there is no separate symbol file to resolve later.
type JitMethodLoad struct {
	PID       uint32
	Timestamp Timestamp
	StartAVMA uint64
	Size      uint64
	Name      string
}

// MarkerTiming discriminates whether a Marker is an instant or spans a
// duration.
type MarkerTiming struct {
	StartTime Timestamp
	EndTime   *Timestamp // nil for an instant marker
}

// Marker is a named, timed annotation attached to a thread, carrying an
// arbitrary payload rendered into the Gecko marker schema.
type Marker struct {
	TID     uint32
	Name    string
	Timing  MarkerTiming
	Payload map[string]any
}

// Event is the closed set of event kinds the Assembler accepts, in the
// shape a single-producer/single-consumer ingest queue delivers them:
// exactly one of the typed fields is populated, selected by Kind.
type Event struct {
	Kind EventKind

	ProcessStart  *ProcessStart
	ProcessEnd    *ProcessEnd
	ThreadStart   *ThreadStart
	ThreadEnd     *ThreadEnd
	LibMapping    *LibMapping
	Sample        *Sample
	ContextSwitch *ContextSwitch
	JitMethodLoad *JitMethodLoad
	Marker        *Marker
}

// EventKind tags which field of Event is populated.
type EventKind int

const (
	EventProcessStart EventKind = iota
	EventProcessEnd
	EventThreadStart
	EventThreadEnd
	EventLibMapping
	EventSample
	EventContextSwitch
	EventJitMethodLoad
	EventMarker
)

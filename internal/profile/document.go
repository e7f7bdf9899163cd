package profile

// StackNode is one node in the per-thread stack tree: a frame index
// plus the index of its parent stack node (-1 for a root). Samples
// reference a leaf StackNode index; walking Parent chains reconstructs
// the full stack.
type StackNode struct {
	Frame  int // index into Document.Frames
	Parent int // index into Document.Stacks, -1 for root
}

// ThreadRecord is one thread's sample and marker list.
type ThreadRecord struct {
	PID            uint32
	TID            uint32
	Name           string
	RegisterTime   Timestamp
	UnregisterTime *Timestamp
	Samples        []SampleRecord
	Markers        []MarkerRecord
	OffCPUTime     Timestamp // accumulated from ContextSwitch pairs
}

// SampleRecord is one emitted sample: a timestamp, the stack node it
// resolved to (-1 for an empty stack), and the CPU time delta carried
// on the originating Sample event.
type SampleRecord struct {
	Timestamp Timestamp
	StackNode int
	CPUDelta  Timestamp
}

// MarkerRecord is one emitted marker.
type MarkerRecord struct {
	NameIndex int
	Timing    MarkerTiming
	Payload   map[string]any
}

// LibraryRecord is one entry in the library table: a native library or
// a process's synthetic JIT pseudo-library.
type LibraryRecord struct {
	Name      string
	DebugName string
	DebugID   string
	Path      string
	DebugPath string
	Arch      string
	CodeID    string
	IsJIT     bool
}

// Meta carries profile-wide metadata echoed into the Gecko document's
// "meta" object.
type Meta struct {
	Interval           Timestamp // sampling interval, milliseconds
	InitialTaskName    string
	ReferenceTimestamp Timestamp // wall-clock epoch ms this profile's t=0 corresponds to
	StartTime          Timestamp
	EndTime            Timestamp
}

// Document is the assembled profile: an interned string table, a
// library table, a frame table, a stack tree, and one thread record
// per thread that ever appeared in the input event stream.
type Document struct {
	Meta      Meta
	Strings   []string
	Libraries []LibraryRecord
	Frames    []FrameRecord
	Stacks    []StackNode
	Threads   []ThreadRecord
}

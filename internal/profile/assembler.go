package profile

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// RecordingProps carries the profile-wide metadata a caller supplies
// up front, echoed into the assembled document's Meta and into the
// Gecko JSON "meta" object.
type RecordingProps struct {
	Interval            Timestamp
	InitialTaskName     string
	ReferenceTimestamp  Timestamp
	ReuseThreads        bool
	FoldRecursivePrefix bool
	// IngestQueueCapacity bounds the Assembler's event channel. Zero
	// selects DefaultIngestQueueCapacity.
	IngestQueueCapacity int
}

// DefaultIngestQueueCapacity is used when RecordingProps doesn't set
// one explicitly.
const DefaultIngestQueueCapacity = 4096

// processState is per-process assembly state: the lib-mapping ledger,
// the optional JIT pseudo-library, and a library handle allocator.
type processState struct {
	libMappings  LibMappingOpQueue
	jit          *ProcessJitInfo
	libsByDebug  map[string]LibHandle // debugName+debugID -> handle, for dedup across Add events
	threadsByTID map[uint32]*ThreadRecord
	// endedByName tracks the most recently ended thread per name, for
	// ReuseThreads: a same-named ThreadStart after a ThreadEnd resumes
	// the existing ThreadRecord instead of allocating a new one.
	endedByName map[string]*ThreadRecord
	// scheduledOutAt holds the timestamp of each thread's most recent
	// ContextSwitchOut, consumed by the next ContextSwitchIn to
	// accumulate off-CPU time.
	scheduledOutAt map[uint32]Timestamp
}

// Assembler consumes a stream of Event values and produces a Document.
// Per the concurrency model, all assembly work is single-threaded:
// events are delivered on a bounded channel from whatever goroutine(s)
// the sample-acquisition collaborator runs on, and Run drains that
// channel synchronously.
type Assembler struct {
	props  RecordingProps
	logger zerolog.Logger

	events chan Event

	strings *stringTable
	frames  *frameTable
	stacks  []StackNode
	stackOf map[stackKey]int // memoizes child stack node for (parent, frame)

	libraries    []LibraryRecord
	libHandleIdx map[LibHandle]int // LibHandle -> index into libraries

	processes map[uint32]*processState
	nextLib   LibHandle

	droppedOffCPUSamples int
	droppedMarkers       int
}

type stackKey struct {
	parent int
	frame  int
}

// NewAssembler builds an Assembler ready to accept events via Ingest.
func NewAssembler(logger zerolog.Logger, props RecordingProps) *Assembler {
	cap := props.IngestQueueCapacity
	if cap <= 0 {
		cap = DefaultIngestQueueCapacity
	}
	return &Assembler{
		props:        props,
		logger:       logger.With().Str("component", "profile_assembler").Logger(),
		events:       make(chan Event, cap),
		strings:      newStringTable(),
		frames:       newFrameTable(),
		stackOf:      make(map[stackKey]int),
		libHandleIdx: make(map[LibHandle]int),
		processes:    make(map[uint32]*processState),
	}
}

// Ingest enqueues ev for processing, applying the backpressure policy
// when the queue is full: on-CPU samples, lib-mapping events and the
// other non-droppable kinds are never dropped (blocking until room is
// available or ctx is done); an incoming off-CPU sample or marker is
// dropped and counted instead of queued. Off-CPU samples and markers
// are treated alike, and events already in the queue are never evicted.
func (a *Assembler) Ingest(ctx context.Context, ev Event) error {
	if a.droppable(ev) {
		select {
		case a.events <- ev:
			return nil
		default:
			a.recordDrop(ev)
			return nil
		}
	}

	select {
	case a.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Assembler) droppable(ev Event) bool {
	switch ev.Kind {
	case EventSample:
		return ev.Sample != nil && ev.Sample.CPUDelta == 0
	case EventMarker:
		return true
	default:
		return false
	}
}

func (a *Assembler) recordDrop(ev Event) {
	switch ev.Kind {
	case EventSample:
		a.droppedOffCPUSamples++
		a.logger.Warn().Int("dropped_total", a.droppedOffCPUSamples).Msg("ingest queue full, dropped off-CPU sample")
	case EventMarker:
		a.droppedMarkers++
		a.logger.Warn().Int("dropped_total", a.droppedMarkers).Msg("ingest queue full, dropped marker")
	}
}

// Close signals that no further events will be ingested, letting Run
// drain remaining queued events and return.
func (a *Assembler) Close() {
	close(a.events)
}

// Run drains the ingest queue, applying each event to assembly state
// in arrival order, until Close is called and the queue empties or ctx
// is canceled.
func (a *Assembler) Run(ctx context.Context) (*Document, error) {
	for {
		select {
		case ev, ok := <-a.events:
			if !ok {
				return a.finish(), nil
			}
			if err := a.apply(ev); err != nil {
				return nil, fmt.Errorf("profile: applying event: %w", err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (a *Assembler) apply(ev Event) error {
	switch ev.Kind {
	case EventProcessStart:
		a.applyProcessStart(ev.ProcessStart)
	case EventProcessEnd:
		// Process teardown is implicit: per-process state is retained
		// so late-arriving samples for already-ended processes still
		// resolve against its final lib-mapping state.
	case EventThreadStart:
		a.applyThreadStart(ev.ThreadStart)
	case EventThreadEnd:
		a.applyThreadEnd(ev.ThreadEnd)
	case EventLibMapping:
		return a.applyLibMapping(ev.LibMapping)
	case EventSample:
		a.applySample(ev.Sample)
	case EventContextSwitch:
		a.applyContextSwitch(ev.ContextSwitch)
	case EventJitMethodLoad:
		a.applyJitMethodLoad(ev.JitMethodLoad)
	case EventMarker:
		a.applyMarker(ev.Marker)
	}
	return nil
}

func (a *Assembler) process(pid uint32) *processState {
	p, ok := a.processes[pid]
	if !ok {
		p = &processState{
			libsByDebug:    make(map[string]LibHandle),
			threadsByTID:   make(map[uint32]*ThreadRecord),
			endedByName:    make(map[string]*ThreadRecord),
			scheduledOutAt: make(map[uint32]Timestamp),
		}
		a.processes[pid] = p
	}
	return p
}

func (a *Assembler) applyProcessStart(ev *ProcessStart) {
	a.process(ev.PID)
}

func (a *Assembler) applyThreadStart(ev *ThreadStart) {
	p := a.process(ev.PID)

	if a.props.ReuseThreads {
		if prior, ok := p.endedByName[ev.Name]; ok {
			delete(p.endedByName, ev.Name)
			p.threadsByTID[ev.TID] = prior
			return
		}
	}

	rec := &ThreadRecord{PID: ev.PID, TID: ev.TID, Name: ev.Name}
	p.threadsByTID[ev.TID] = rec
}

func (a *Assembler) applyThreadEnd(ev *ThreadEnd) {
	p := a.process(ev.PID)
	rec, ok := p.threadsByTID[ev.TID]
	if !ok {
		return
	}
	if a.props.ReuseThreads {
		p.endedByName[rec.Name] = rec
	}
}

func (a *Assembler) applyLibMapping(ev *LibMapping) error {
	p := a.process(ev.PID)
	if ev.Kind == LibMappingAdd {
		ev.Info = a.registerLibrary(p, ev.Info)
	}
	return p.libMappings.Append(*ev)
}

// registerLibrary assigns a stable LibHandle to a (debugName, debugID)
// pair the first time it's seen in this process, deduplicating repeat
// Add events for the same library (e.g. re-mapping after an munmap).
func (a *Assembler) registerLibrary(p *processState, info LibMappingInfo) LibMappingInfo {
	key := info.DebugName + "\x00" + info.DebugID
	if _, ok := p.libsByDebug[key]; !ok {
		handle := a.nextLib
		a.nextLib++
		p.libsByDebug[key] = handle
		a.libHandleIdx[handle] = len(a.libraries)
		a.libraries = append(a.libraries, LibraryRecord{
			Name:      info.DebugName,
			DebugName: info.DebugName,
			DebugID:   info.DebugID,
			Path:      info.Path,
			Arch:      info.Arch,
			CodeID:    info.CodeID,
		})
	}
	return info
}

func (a *Assembler) jitLibHandle(p *processState, pid uint32) LibHandle {
	if p.jit == nil {
		handle := a.nextLib
		a.nextLib++
		a.libHandleIdx[handle] = len(a.libraries)
		a.libraries = append(a.libraries, LibraryRecord{Name: fmt.Sprintf("jit-pid-%d", pid), IsJIT: true})
		p.jit = NewProcessJitInfo(handle)
	}
	return p.jit.LibHandle
}

func (a *Assembler) applyJitMethodLoad(ev *JitMethodLoad) {
	p := a.process(ev.PID)
	a.jitLibHandle(p, ev.PID)
	tier := ClassifyJitTier(ev.Name)
	p.jit.AddMethod(ev.StartAVMA, ev.Size, ev.Name, tier)
}

// applyContextSwitch accumulates off-CPU time: a ContextSwitchOut
// records the timestamp a thread left the CPU; the matching
// ContextSwitchIn adds the elapsed time to the thread's OffCPUTime.
// TIDs are unique per process in practice, so the first process whose
// thread table contains ev.TID is the right one.
func (a *Assembler) applyContextSwitch(ev *ContextSwitch) {
	for _, p := range a.processes {
		rec, ok := p.threadsByTID[ev.TID]
		if !ok {
			continue
		}
		switch ev.Direction {
		case ContextSwitchOut:
			p.scheduledOutAt[ev.TID] = ev.Timestamp
		case ContextSwitchIn:
			if out, ok := p.scheduledOutAt[ev.TID]; ok {
				rec.OffCPUTime += ev.Timestamp - out
				delete(p.scheduledOutAt, ev.TID)
			}
		}
		return
	}
}

func (a *Assembler) applyMarker(ev *Marker) {
	for _, p := range a.processes {
		rec, ok := p.threadsByTID[ev.TID]
		if !ok {
			continue
		}
		rec.Markers = append(rec.Markers, MarkerRecord{
			NameIndex: a.strings.Intern(ev.Name),
			Timing:    ev.Timing,
			Payload:   ev.Payload,
		})
		return
	}
}

func (a *Assembler) applySample(ev *Sample) {
	p := a.process(ev.PID)
	rec, ok := p.threadsByTID[ev.TID]
	if !ok {
		rec = &ThreadRecord{PID: ev.PID, TID: ev.TID}
		p.threadsByTID[ev.TID] = rec
	}

	stack := ev.Stack
	if a.props.FoldRecursivePrefix {
		stack = foldRecursivePrefix(stack)
	}

	stackNode := a.resolveStack(p, ev.Timestamp, stack)
	rec.Samples = append(rec.Samples, SampleRecord{
		Timestamp: ev.Timestamp,
		StackNode: stackNode,
		CPUDelta:  ev.CPUDelta,
	})
}

// foldRecursivePrefix collapses a run of identical leaf AVMAs at the
// base (root end) of the stack into a single occurrence, since a
// recursive function's repeated self-calls carry no additional
// information beyond a call count the frame table doesn't model
// per-sample. Keeping just one occurrence avoids inflating the stack
// tree with depth-only-distinct nodes.
func foldRecursivePrefix(stack []uint64) []uint64 {
	if len(stack) < 2 {
		return stack
	}
	i := 0
	for i+1 < len(stack) && stack[i] == stack[i+1] {
		i++
	}
	if i == 0 {
		return stack
	}
	return stack[i:]
}

// resolveStack builds (or reuses) the stack-node chain for avmas,
// outermost first, resolving each AVMA against the process's
// lib-mapping ledger as of ts and its JIT info to produce an interned
// frame.
func (a *Assembler) resolveStack(p *processState, ts Timestamp, avmas []uint64) int {
	parent := -1
	for depth, avma := range avmas {
		frameIdx := a.resolveFrame(p, ts, avma, depth)
		key := stackKey{parent: parent, frame: frameIdx}
		node, ok := a.stackOf[key]
		if !ok {
			node = len(a.stacks)
			a.stacks = append(a.stacks, StackNode{Frame: frameIdx, Parent: parent})
			a.stackOf[key] = node
		}
		parent = node
	}
	return parent
}

func (a *Assembler) resolveFrame(p *processState, ts Timestamp, avma uint64, depth int) int {
	if p.jit != nil {
		if sym, ok := p.jit.LookupAVMA(avma); ok {
			cat, sub := CategoryForJitTier(sym.tier)
			nameIdx := a.strings.Intern(sym.name)
			key := frameKey{lib: p.jit.LibHandle, hasLib: true, rva: sym.rva, inlineDepth: 0, funcNameIdx: nameIdx, fileIdx: -1}
			return a.frames.Intern(key, FrameRecord{
				FuncNameIndex: nameIdx,
				FileIndex:     -1,
				Category:      cat,
				Subcategory:   sub,
				LibHandle:     p.jit.LibHandle,
				HasLib:        true,
				RVA:           sym.rva,
			})
		}
	}

	if info, rel, ok := p.libMappings.LookupAt(ts, avma); ok {
		handle := p.libsByDebug[info.DebugName+"\x00"+info.DebugID]
		key := frameKey{lib: handle, hasLib: true, rva: rel, inlineDepth: 0, funcNameIdx: -1, fileIdx: -1}
		return a.frames.Intern(key, FrameRecord{
			FuncNameIndex: -1,
			FileIndex:     -1,
			Category:      CategoryNative,
			LibHandle:     handle,
			HasLib:        true,
			RVA:           rel,
		})
	}

	mode := ClassifyAddressMode(avma)
	cat := CategoryOther
	if mode == FrameModeKernel {
		cat = CategoryKernel
	}
	key := frameKey{hasLib: false, rva: uint32(avma), inlineDepth: depth, funcNameIdx: -1, fileIdx: -1}
	return a.frames.Intern(key, FrameRecord{
		FuncNameIndex: -1,
		FileIndex:     -1,
		Category:      cat,
		HasLib:        false,
		RVA:           uint32(avma),
		InlineDepth:   depth,
	})
}

func (a *Assembler) finish() *Document {
	doc := &Document{
		Meta: Meta{
			Interval:           a.props.Interval,
			InitialTaskName:    a.props.InitialTaskName,
			ReferenceTimestamp: a.props.ReferenceTimestamp,
		},
		Strings:   a.strings.Strings(),
		Libraries: a.libraries,
		Frames:    a.frames.Records(),
		Stacks:    a.stacks,
	}

	pids := make([]uint32, 0, len(a.processes))
	for pid := range a.processes {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	for _, pid := range pids {
		p := a.processes[pid]
		tids := make([]uint32, 0, len(p.threadsByTID))
		for tid := range p.threadsByTID {
			tids = append(tids, tid)
		}
		sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
		for _, tid := range tids {
			rec := p.threadsByTID[tid]
			sort.Slice(rec.Samples, func(i, j int) bool { return rec.Samples[i].Timestamp < rec.Samples[j].Timestamp })
			doc.Threads = append(doc.Threads, *rec)
		}
	}

	return doc
}

package profile

import (
	"sort"

	"github.com/coral-mesh/symbolicore/internal/safe"
)

// jitSymbol is one entry in a ProcessJitInfo's symbol table: a densely
// allocated relative address range within the process's synthetic JIT
// pseudo-library, naming one compiled method.
type jitSymbol struct {
	rva  uint32
	size uint32
	name string
	tier JitTier
}

// ProcessJitInfo tracks one process's synthetic JIT pseudo-library: a
// logical "library" with no backing file, whose address space is
// allocated densely and monotonically as JitMethodLoad events arrive,
// rather than mapped from a real AVMA range the way a native library
// is. NextRelativeAddress only ever increases; symbols are unique by
// RVA since each JitMethodLoad claims a fresh slice of the address
// space.
type ProcessJitInfo struct {
	LibHandle           LibHandle
	NextRelativeAddress uint32
	symbols             []jitSymbol // sorted by rva
	avmaToRVA           map[uint64]uint32
}

// NewProcessJitInfo allocates an empty JIT pseudo-library for handle.
func NewProcessJitInfo(handle LibHandle) *ProcessJitInfo {
	return &ProcessJitInfo{
		LibHandle: handle,
		avmaToRVA: make(map[uint64]uint32),
	}
}

// AddMethod records a JIT-compiled method's load event, claiming
// [NextRelativeAddress, NextRelativeAddress+size) in the pseudo-library
// and advancing NextRelativeAddress past it.
func (j *ProcessJitInfo) AddMethod(startAVMA, size uint64, name string, tier JitTier) {
	rva := j.NextRelativeAddress
	sz, clamped := safe.Uint64ToUint32(size)
	if clamped {
		sz = ^uint32(0) - rva // clamp so the range never wraps NextRelativeAddress
	}
	j.symbols = append(j.symbols, jitSymbol{rva: rva, size: sz, name: name, tier: tier})
	j.avmaToRVA[startAVMA] = rva
	j.NextRelativeAddress += sz
}

// LookupAVMA resolves a raw AVMA (as carried on a Sample's stack) to
// the JIT symbol it was originally loaded at, if any.
func (j *ProcessJitInfo) LookupAVMA(avma uint64) (jitSymbol, bool) {
	rva, ok := j.avmaToRVA[avma]
	if !ok {
		return jitSymbol{}, false
	}
	return j.LookupRVA(rva)
}

// LookupRVA resolves a relative address within the pseudo-library's
// allocated space to the covering JIT symbol.
func (j *ProcessJitInfo) LookupRVA(rva uint32) (jitSymbol, bool) {
	idx := sort.Search(len(j.symbols), func(i int) bool { return j.symbols[i].rva > rva }) - 1
	if idx < 0 {
		return jitSymbol{}, false
	}
	sym := j.symbols[idx]
	if rva >= sym.rva+sym.size {
		return jitSymbol{}, false
	}
	return sym, true
}

// JitTier classifies a JIT-compiled method's compilation tier, used to
// tag its frame with the corresponding category/subcategory.
type JitTier int

const (
	// JitTierUnknown is used when no name pattern matched.
	JitTierUnknown JitTier = iota
	JitTierInterpreter
	JitTierBaseline
	JitTierOptimizing
)

func (t JitTier) String() string {
	switch t {
	case JitTierInterpreter:
		return "interpreter"
	case JitTierBaseline:
		return "baseline"
	case JitTierOptimizing:
		return "optimizing"
	default:
		return "unknown"
	}
}

// ClassifyJitTier guesses a JIT method's compilation tier from its
// name by prefix, after V8 and CoreCLR naming conventions:
// "Interpreter_", "Ignition", "Interp_" (interpreter); "Baseline_",
// "Sparkplug", "Baseline " (baseline); "Opt_", "Turbofan", "Maglev",
// "FullOpt_", "QuickJit_" (optimizing). Any other name is
// JitTierUnknown.
func ClassifyJitTier(name string) JitTier {
	switch {
	case hasAnyPrefix(name, "Interpreter_", "Ignition", "Interp_"):
		return JitTierInterpreter
	case hasAnyPrefix(name, "Baseline_", "Sparkplug", "Baseline "):
		return JitTierBaseline
	case hasAnyPrefix(name, "Opt_", "Turbofan", "Maglev", "FullOpt_", "QuickJit_"):
		return JitTierOptimizing
	default:
		return JitTierUnknown
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

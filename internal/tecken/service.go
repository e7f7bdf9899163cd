package tecken

import (
	"context"
	"fmt"

	"github.com/coral-mesh/symbolicore/internal/safe"
	"github.com/coral-mesh/symbolicore/internal/symbolicate"
)

// Symbolicate serves a /symbolicate/v5 request. A failure resolving
// one module or one frame never fails the request: it is recorded as
// that frame's Error field and every other frame is still resolved.
func Symbolicate(ctx context.Context, mgr SymbolManager, req SymbolicateRequest) SymbolicateResponse {
	resp := SymbolicateResponse{Results: make([]JobResult, len(req.Jobs))}
	for i, job := range req.Jobs {
		resp.Results[i] = symbolicateJob(ctx, mgr, job)
	}
	return resp
}

func symbolicateJob(ctx context.Context, mgr SymbolManager, job SymbolicateJob) JobResult {
	result := JobResult{Stacks: make([][]FrameResult, len(job.Stacks))}
	for i, stack := range job.Stacks {
		frames := make([]FrameResult, len(stack))
		for j, pair := range stack {
			frames[j] = symbolicateFrame(ctx, mgr, job, pair[0], pair[1])
		}
		result.Stacks[i] = frames
	}
	return result
}

func symbolicateFrame(ctx context.Context, mgr SymbolManager, job SymbolicateJob, moduleIndex, addr uint64) FrameResult {
	offset := fmt.Sprintf("0x%x", addr)

	idx, clamped := safe.Uint64ToUint32(moduleIndex)
	if clamped || int(idx) >= len(job.MemoryMap) {
		return FrameResult{ModuleOffset: offset, Error: fmt.Sprintf("module index %d out of range", moduleIndex)}
	}
	entry := job.MemoryMap[idx]
	debugName, debugID := entry[0], entry[1]

	sm, err := mgr.SymbolMapFor(ctx, debugName, debugID)
	if err != nil {
		return FrameResult{ModuleOffset: offset, Module: debugName, Error: err.Error()}
	}

	rva, clamped := safe.Uint64ToUint32(addr)
	if clamped {
		return FrameResult{ModuleOffset: offset, Module: debugName, Error: "address exceeds module's relative address space"}
	}

	info, err := sm.LookupRelativeAddress(rva, symbolicate.DefaultLookupOptions())
	if err != nil {
		return FrameResult{ModuleOffset: offset, Module: debugName, Error: err.Error()}
	}

	result := FrameResult{
		ModuleOffset:   offset,
		Module:         debugName,
		Function:       info.Symbol.Name,
		FunctionOffset: fmt.Sprintf("0x%x", addr-uint64(info.Symbol.RVA)),
	}

	switch info.Frames.Kind {
	case symbolicate.FramesAvailable:
		applyFrameDebugInfo(&result, info.Frames.Frames)
	case symbolicate.FramesExternal:
		trusted := sm.DebugFileLocation().Origin.TrustedForAbsolutePaths
		ext, extErr := mgr.LookupExternal(*info.Frames.External, trusted)
		if extErr != nil {
			result.Error = extErr.Error()
			break
		}
		result.Function = ext.Symbol.Name
		if ext.Frames.Kind == symbolicate.FramesAvailable {
			applyFrameDebugInfo(&result, ext.Frames.Frames)
		}
	}

	return result
}

// applyFrameDebugInfo fills in file/line from the innermost frame and
// carries the remaining (outer, inlined-into) frames as Inlines.
func applyFrameDebugInfo(result *FrameResult, frames []symbolicate.FrameDebugInfo) {
	if len(frames) == 0 {
		return
	}
	innermost := frames[len(frames)-1]
	if innermost.Function != nil {
		result.Function = *innermost.Function
	}
	if innermost.FilePath != nil {
		result.File = *innermost.FilePath
	}
	result.Line = innermost.LineNumber

	for _, f := range frames[:len(frames)-1] {
		inline := InlineFrame{Line: f.LineNumber}
		if f.Function != nil {
			inline.Function = *f.Function
		}
		if f.FilePath != nil {
			inline.File = *f.FilePath
		}
		result.Inlines = append(result.Inlines, inline)
	}
}

// Source serves a /source/v1 request, resolving the module's symbol
// map and returning source file content if the underlying format
// exposes it. The current SymbolMap interface does not carry a
// file-content accessor (no format builder in this tree embeds full
// source text; DWARF/CodeView give paths and line numbers, not
// bytes), so this is wired as a stub that reports the limitation
// structurally rather than as a transport failure.
func Source(ctx context.Context, mgr SymbolManager, req SourceRequest) SourceResponse {
	if _, err := mgr.SymbolMapFor(ctx, req.DebugName, req.DebugID); err != nil {
		return SourceResponse{Error: err.Error()}
	}
	return SourceResponse{Error: "source content retrieval is not implemented for this module's debug format"}
}

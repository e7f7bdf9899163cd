// Package tecken implements the JSON symbolication API facade: the
// Tecken-compatible /symbolicate/v5 request/response shapes and the
// /source/v1 source-fetch shape, served by a pure function over a
// SymbolManager so the transport (HTTP, or a direct in-process call
// from the CLI's "load" subcommand) stays a thin adapter.
package tecken

// SymbolicateRequest is the /symbolicate/v5 request body: one or more
// independent jobs, each naming the modules referenced by its stacks
// and the stacks themselves as (moduleIndex, addressInModule) pairs.
type SymbolicateRequest struct {
	Jobs []SymbolicateJob `json:"jobs"`
}

// SymbolicateJob is one job: a memory map of [debugName, debugID] pairs
// indexed by position, and a list of stacks, each a list of
// [moduleIndex, addressInModule] pairs.
type SymbolicateJob struct {
	MemoryMap [][2]string    `json:"memoryMap"`
	Stacks    [][][2]uint64 `json:"stacks"`
}

// SymbolicateResponse is the /symbolicate/v5 response body: one
// JobResult per request job, in the same order.
type SymbolicateResponse struct {
	Results []JobResult `json:"results"`
}

// JobResult mirrors its job's stack shape, one FrameResult per
// (moduleIndex, address) pair.
type JobResult struct {
	Stacks [][]FrameResult `json:"stacks"`
}

// InlineFrame is one level of an inlined call chain, innermost last.
type InlineFrame struct {
	Function string  `json:"function"`
	File     string  `json:"file,omitempty"`
	Line     *uint32 `json:"line,omitempty"`
}

// FrameResult is one resolved (or failed) frame. Error is non-empty
// exactly when resolution failed for this frame alone: a bad address
// never fails the whole job, only its own frame.
type FrameResult struct {
	ModuleOffset   string        `json:"module_offset"`
	Module         string        `json:"module,omitempty"`
	Function       string        `json:"function,omitempty"`
	FunctionOffset string        `json:"function_offset,omitempty"`
	File           string        `json:"file,omitempty"`
	Line           *uint32       `json:"line,omitempty"`
	Inlines        []InlineFrame `json:"inlines,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// SourceRequest is the /source/v1 request body.
type SourceRequest struct {
	DebugName    string `json:"debugName"`
	DebugID      string `json:"debugId"`
	ModuleOffset string `json:"moduleOffset"`
	File         string `json:"file"`
}

// SourceResponse is the /source/v1 response body. Error is non-empty
// exactly when Content is absent.
type SourceResponse struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

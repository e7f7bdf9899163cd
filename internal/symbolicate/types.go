// Package symbolicate implements the library-identity resolver and the
// address-to-symbol lookup abstractions shared by every per-format
// SymbolMap builder (elfsym, machosym, pesym, breakpad).
package symbolicate

import (
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

// LibraryInfo identifies one loaded image. DebugID is the only field
// guaranteed to identify the correct debug artifact when present; the
// rest are hints used to narrow or construct candidate locations.
type LibraryInfo struct {
	DebugName string
	DebugID   *ids.DebugID
	DebugPath string
	CodeID    string
	CodePath  string
	Arch      string
	Name      string
}

// MultiArchDisambiguator selects one member of a fat Mach-O archive,
// either by the debug_id it's expected to carry or by architecture
// name (e.g. "arm64", "x86_64").
type MultiArchDisambiguator struct {
	DebugID  *ids.DebugID
	ArchName string
}

// Symbol is one entry in a SymbolMap's sorted symbol table.
type Symbol struct {
	RVA  uint32
	Size *uint32 // nil when the format does not record symbol size
	Name string
}

// FramesLookupKind discriminates the FramesLookupResult variants.
type FramesLookupKind int

const (
	// FramesUnavailable means no inline/file/line information exists
	// for this address (no debug info, or lookup wasn't requested).
	FramesUnavailable FramesLookupKind = iota
	// FramesAvailable carries a resolved inline frame chain, innermost
	// frame last.
	FramesAvailable
	// FramesExternal means the covering symbol's debug info lives in a
	// separate file (Mach-O OSO); the caller must load that file and
	// perform a second lookup keyed by symbol name.
	FramesExternal
)

// ExternalFileRef names the external object that holds debug info for
// an OSO-style indirection: a standalone .o file, or an archive member
// addressed as "/path/to/lib.a(member.o)".
type ExternalFileRef struct {
	Name string
}

// ExternalFileAddressRef is what a lookup returns when the resolved
// symbol's debug info lives in an external file: the caller loads
// FileRef, then looks up SymbolName + OffsetFromSymbol inside it.
type ExternalFileAddressRef struct {
	FileRef          ExternalFileRef
	SymbolName       string
	OffsetFromSymbol uint64
}

// FramesLookupResult is the sum type returned alongside a resolved
// Symbol: either an inline frame chain, an external-file indirection,
// or nothing.
type FramesLookupResult struct {
	Kind     FramesLookupKind
	Frames   []FrameDebugInfo // valid when Kind == FramesAvailable
	External *ExternalFileAddressRef // valid when Kind == FramesExternal
}

// Unavailable is the FramesLookupResult carried by a symbol with no
// debug info.
func Unavailable() FramesLookupResult {
	return FramesLookupResult{Kind: FramesUnavailable}
}

// Available wraps a resolved inline frame chain.
func Available(frames []FrameDebugInfo) FramesLookupResult {
	return FramesLookupResult{Kind: FramesAvailable, Frames: frames}
}

// External wraps an external-file indirection.
func External(ref ExternalFileAddressRef) FramesLookupResult {
	return FramesLookupResult{Kind: FramesExternal, External: &ref}
}

// FrameDebugInfo describes one level of an inline frame chain.
type FrameDebugInfo struct {
	Function   *string
	FilePath   *string
	LineNumber *uint32
}

// AddressInfo is the result of resolving one address against a
// SymbolMap: the covering symbol plus whatever debug info is available
// for it.
type AddressInfo struct {
	Symbol Symbol
	Frames FramesLookupResult
}

// LookupOptions tunes how much work a lookup does. Callers that only
// need the primary symbol name (e.g. a quick stack-depth count) can set
// WithFrames to false to skip DWARF/CodeView inline-chain resolution
// entirely.
type LookupOptions struct {
	WithFrames bool
}

// DefaultLookupOptions resolves full inline frame chains.
func DefaultLookupOptions() LookupOptions {
	return LookupOptions{WithFrames: true}
}

// SymbolMap is the result of opening and parsing one debug artifact.
// The set of concrete implementations (elfsym, machosym, pesym,
// breakpad, plus the external-file variant used for OSO indirection) is
// closed; SymbolMap is the narrow interface every one of them
// satisfies.
//
// Not every format supports every address space: PDB and Breakpad
// support only LookupRelativeAddress, and return an UnsupportedLookup
// *symerr.Error from the other two.
type SymbolMap interface {
	// DebugID returns the identity this map was constructed from and
	// verified against.
	DebugID() ids.DebugID

	// LookupRelativeAddress resolves an RVA (relative to the image
	// base). This is the canonical address space; every format
	// supports it.
	LookupRelativeAddress(rva uint32, opts LookupOptions) (*AddressInfo, error)

	// LookupSVMA resolves a stated virtual memory address, as written
	// in the file before load-time relocation.
	LookupSVMA(svma uint64, opts LookupOptions) (*AddressInfo, error)

	// LookupOffset resolves a file offset.
	LookupOffset(offset uint64, opts LookupOptions) (*AddressInfo, error)

	// IterSymbols calls yield for every symbol in ascending RVA order,
	// stopping early if yield returns false.
	IterSymbols(yield func(Symbol) bool)

	// SymbolCount returns the number of symbols in the table.
	SymbolCount() int

	// DebugFileLocation returns the FileLocation this map was opened
	// from, used as the origin token for trusted absolute-path
	// resolution of external files.
	DebugFileLocation() location.FileLocation
}

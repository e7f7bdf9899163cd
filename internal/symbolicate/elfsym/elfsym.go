// Package elfsym builds a SymbolMap from an ELF object, deriving its
// debug_id from the .note.gnu.build-id section (or a content hash
// fallback), indexing .symtab/.dynsym, and resolving inline frame
// chains from DWARF when present.
package elfsym

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"

	"github.com/ianlancetaylor/demangle"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

const formatName = "elf"

// symbolMap implements symbolicate.SymbolMap over a parsed ELF file.
// Addresses are tracked by RVA: stated virtual memory address minus
// the image's base vaddr (the lowest PT_LOAD segment's p_vaddr, as
// is). For a non-PIE binary this base is typically 0 so
// RVA == SVMA; for a PIE/shared object it's the link-time base.
type symbolMap struct {
	contents location.FileContents
	loc      location.FileLocation
	debugID  ids.DebugID

	ef       *elf.File
	baseAddr uint64
	symbols  []symbolicate.Symbol // sorted by RVA

	dwarfData *dwarf.Data
	subprogs  []subprogram // sorted by low RVA, built lazily
}

type subprogram struct {
	lowRVA, highRVA uint64
	entry           *dwarf.Entry
}

// Open parses contents as an ELF file, verifies its debug_id against
// expectedID (when non-nil), and returns the resulting SymbolMap.
// disambiguator is accepted for interface symmetry with machosym but
// unused: ELF has no fat-archive concept.
func Open(contents location.FileContents, loc location.FileLocation, expectedID *ids.DebugID, _ symbolicate.MultiArchDisambiguator) (symbolicate.SymbolMap, error) {
	ef, err := elf.NewFile(readerAt{contents})
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "could not parse ELF header").WithFormat(formatName)
	}

	debugID, err := DeriveDebugID(ef)
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "id cannot be read").WithFormat(formatName)
	}

	if expectedID != nil && *expectedID != debugID {
		return nil, symerr.New(symerr.UnmatchedDebugID, "expected %s got %s", expectedID.String(), debugID.String()).WithFormat(formatName)
	}

	base := baseVaddr(ef)

	symbols, err := buildSymbolTable(ef, base)
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "could not read symbol table").WithFormat(formatName)
	}

	sm := &symbolMap{
		contents: contents,
		loc:      loc,
		debugID:  debugID,
		ef:       ef,
		baseAddr: base,
		symbols:  symbols,
	}

	if dwarfData, err := ef.DWARF(); err == nil {
		sm.dwarfData = dwarfData
	}

	return sm, nil
}

func (s *symbolMap) DebugID() ids.DebugID { return s.debugID }

func (s *symbolMap) LookupRelativeAddress(rva uint32, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return s.lookup(uint64(rva), opts)
}

func (s *symbolMap) LookupSVMA(svma uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	if svma < s.baseAddr {
		return nil, symerr.New(symerr.NotFound, "svma 0x%x below image base 0x%x", svma, s.baseAddr).WithFormat(formatName)
	}
	return s.lookup(svma-s.baseAddr, opts)
}

func (s *symbolMap) LookupOffset(offset uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	svma, ok := fileOffsetToVaddr(s.ef, offset)
	if !ok {
		return nil, symerr.New(symerr.NotFound, "file offset 0x%x not mapped", offset).WithFormat(formatName)
	}
	return s.LookupSVMA(svma, opts)
}

func (s *symbolMap) lookup(rva uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	idx := sort.Search(len(s.symbols), func(i int) bool { return uint64(s.symbols[i].RVA) > rva }) - 1
	if idx < 0 {
		return nil, symerr.New(symerr.NotFound, "no symbol covers rva 0x%x", rva).WithFormat(formatName)
	}
	sym := s.symbols[idx]
	if sym.Size != nil && rva >= uint64(sym.RVA)+uint64(*sym.Size) {
		return nil, symerr.New(symerr.NotFound, "rva 0x%x past end of %s", rva, sym.Name).WithFormat(formatName)
	}

	frames := symbolicate.Unavailable()
	if opts.WithFrames && s.dwarfData != nil {
		if resolved := s.resolveFrames(rva); resolved != nil {
			frames = symbolicate.Available(resolved)
		}
	}

	return &symbolicate.AddressInfo{Symbol: sym, Frames: frames}, nil
}

func (s *symbolMap) IterSymbols(yield func(symbolicate.Symbol) bool) {
	for _, sym := range s.symbols {
		if !yield(sym) {
			return
		}
	}
}

func (s *symbolMap) SymbolCount() int { return len(s.symbols) }

func (s *symbolMap) DebugFileLocation() location.FileLocation { return s.loc }

// buildSymbolTable reads .symtab, falling back to .dynsym, demangles
// names, and returns them sorted ascending by RVA.
func buildSymbolTable(ef *elf.File, base uint64) ([]symbolicate.Symbol, error) {
	raw, err := ef.Symbols()
	if err != nil || len(raw) == 0 {
		raw, err = ef.DynamicSymbols()
		if err != nil {
			// A binary with neither table is not an error at this
			// layer: lookups will simply return NotFound.
			return nil, nil
		}
	}

	out := make([]symbolicate.Symbol, 0, len(raw))
	for _, sym := range raw {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Name == "" {
			continue
		}
		if sym.Value < base {
			continue
		}
		rva := sym.Value - base
		if rva > uint64(^uint32(0)) {
			continue
		}
		size := uint32(sym.Size)
		out = append(out, symbolicate.Symbol{
			RVA:  uint32(rva),
			Size: &size,
			Name: demangleName(sym.Name),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RVA < out[j].RVA })
	return out, nil
}

// demangleName demangles an Itanium C++ or Rust (legacy or v0) mangled
// name, simplified to drop parameter lists and template arguments the
// way a compact symbol table display wants; names that don't demangle
// are returned unchanged.
func demangleName(name string) string {
	out := demangle.Filter(name, demangle.NoParams, demangle.NoTemplateParams)
	if out == name {
		return name
	}
	return out
}

// baseVaddr returns the lowest p_vaddr among PT_LOAD segments, the
// image's link-time base address.
func baseVaddr(ef *elf.File) uint64 {
	base := ^uint64(0)
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr < base {
			base = prog.Vaddr
		}
	}
	if base == ^uint64(0) {
		return 0
	}
	return base
}

// fileOffsetToVaddr maps a file offset to the SVMA of the PT_LOAD
// segment that contains it.
func fileOffsetToVaddr(ef *elf.File, offset uint64) (uint64, bool) {
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if offset >= prog.Off && offset < prog.Off+prog.Filesz {
			return prog.Vaddr + (offset - prog.Off), true
		}
	}
	return 0, false
}

// DeriveDebugID reads .note.gnu.build-id if present, else hashes the
// first page of .text. Exported so a live-process mapping reader can
// derive the same debug id this package's Open would later compute
// for the same on-disk file, without re-parsing it twice.
func DeriveDebugID(ef *elf.File) (ids.DebugID, error) {
	littleEndian := ef.ByteOrder.String() == "LittleEndian"

	if buildID, ok := readBuildIDNote(ef); ok {
		return ids.FromELFBuildID(buildID, littleEndian), nil
	}

	text := ef.Section(".text")
	if text == nil {
		return ids.DebugID{}, fmt.Errorf("no .note.gnu.build-id and no .text section")
	}
	data, err := text.Data()
	if err != nil {
		return ids.DebugID{}, fmt.Errorf("reading .text: %w", err)
	}
	hash := ids.HashELFTextPage(data)
	return ids.FromELFBuildID(hash, littleEndian), nil
}

// readBuildIDNote extracts the identifier bytes from .note.gnu.build-id,
// an ELF note with name "GNU\x00" and a variable-length descriptor
// holding the raw build-id bytes.
func readBuildIDNote(ef *elf.File) ([]byte, bool) {
	section := ef.Section(".note.gnu.build-id")
	if section == nil {
		return nil, false
	}
	data, err := section.Data()
	if err != nil {
		return nil, false
	}
	return parseNoteDescriptor(data, "GNU")
}

// parseNoteDescriptor walks the standard ELF note layout:
// namesz(4) descsz(4) type(4) name(namesz, padded to 4) desc(descsz).
func parseNoteDescriptor(data []byte, wantName string) ([]byte, bool) {
	for len(data) >= 12 {
		namesz := le32(data[0:4])
		descsz := le32(data[4:8])
		nameStart := 12
		namePadded := align4(namesz)
		descStart := nameStart + namePadded
		descPadded := align4(descsz)
		if uint64(descStart)+uint64(descsz) > uint64(len(data)) {
			return nil, false
		}

		name := ""
		if nameStart+int(namesz) <= len(data) {
			name = string(data[nameStart : nameStart+int(namesz)])
			name = trimNulSuffix(name)
		}

		desc := data[descStart : descStart+int(descsz)]
		if name == wantName {
			return desc, true
		}

		data = data[descStart+descPadded:]
	}
	return nil, false
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func align4(n uint32) int {
	return (int(n) + 3) &^ 3
}

func trimNulSuffix(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}

// readerAt adapts location.FileContents to io.ReaderAt for elf.NewFile,
// which only needs ReadAt.
type readerAt struct {
	location.FileContents
}

// Package pesym builds a SymbolMap from either a PE image or its
// companion PDB. For a PE image, github.com/saferwall/pe parses the
// container and extracts the CodeView RSDS debug directory entry for
// debug_id derivation, plus the COFF symbol table (when the image
// wasn't stripped) for a function symbol index. For a PDB, this
// package's own MSF/DBI reader (msf.go, dbi.go) builds an
// RVA-to-name map from the public symbol stream and each module's
// procedure symbols, with public symbols taking precedence over
// procedures at the same address. TPI/IPI type information and
// inline-site/file/line records are not parsed; see DESIGN.md.
package pesym

import (
	"io"
	"sort"

	saferwallpe "github.com/saferwall/pe"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

const formatName = "pe"

type symbolMap struct {
	contents location.FileContents
	loc      location.FileLocation
	debugID  ids.DebugID

	baseAddr     uint64
	relativeOnly bool // true for a PDB-backed map: no SVMA/offset concept
	symbols      []symbolicate.Symbol // sorted by RVA
}

func (s *symbolMap) DebugID() ids.DebugID                     { return s.debugID }
func (s *symbolMap) SymbolCount() int                         { return len(s.symbols) }
func (s *symbolMap) DebugFileLocation() location.FileLocation { return s.loc }

func (s *symbolMap) IterSymbols(yield func(symbolicate.Symbol) bool) {
	for _, sym := range s.symbols {
		if !yield(sym) {
			return
		}
	}
}

func (s *symbolMap) LookupRelativeAddress(rva uint32, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return s.lookup(uint64(rva))
}

func (s *symbolMap) LookupSVMA(svma uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	if s.relativeOnly {
		return nil, symerr.New(symerr.UnsupportedLookup, "pdb symbol maps only support relative-address lookup").WithFormat(formatName)
	}
	if svma < s.baseAddr {
		return nil, symerr.New(symerr.NotFound, "svma 0x%x below image base", svma).WithFormat(formatName)
	}
	return s.lookup(svma - s.baseAddr)
}

func (s *symbolMap) LookupOffset(offset uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	kind := symerr.UnsupportedLookup
	if s.relativeOnly {
		return nil, symerr.New(kind, "pdb symbol maps only support relative-address lookup").WithFormat(formatName)
	}
	return nil, symerr.New(kind, "pe symbol maps do not support file-offset lookup").WithFormat(formatName)
}

func (s *symbolMap) lookup(rva uint64) (*symbolicate.AddressInfo, error) {
	idx := sort.Search(len(s.symbols), func(i int) bool { return uint64(s.symbols[i].RVA) > rva }) - 1
	if idx < 0 {
		return nil, symerr.New(symerr.NotFound, "no symbol covers rva 0x%x", rva).WithFormat(formatName)
	}
	sym := s.symbols[idx]
	if sym.Size != nil && rva >= uint64(sym.RVA)+uint64(*sym.Size) {
		return nil, symerr.New(symerr.NotFound, "rva 0x%x past end of %s", rva, sym.Name).WithFormat(formatName)
	}
	return &symbolicate.AddressInfo{Symbol: sym, Frames: symbolicate.Unavailable()}, nil
}

// Open parses contents as a PE image via saferwall/pe, verifies its
// debug_id against expectedID (when non-nil), and returns the
// resulting SymbolMap. disambiguator is accepted for interface
// symmetry with machosym but unused: PE has no fat-archive concept.
func Open(contents location.FileContents, loc location.FileLocation, expectedID *ids.DebugID, _ symbolicate.MultiArchDisambiguator) (symbolicate.SymbolMap, error) {
	data, err := readAll(contents)
	if err != nil {
		return nil, symerr.Wrap(symerr.IOError, err, "reading pe image").WithFormat(formatName)
	}

	pf, err := saferwallpe.NewBytes(data, &saferwallpe.Options{})
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "opening pe image").WithFormat(formatName)
	}
	if err := pf.Parse(); err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "parsing pe image").WithFormat(formatName)
	}

	debugID, ok := deriveDebugID(pf)
	if !ok {
		return nil, symerr.New(symerr.ParseError, "no CodeView RSDS debug directory entry").WithFormat(formatName)
	}
	if expectedID != nil && *expectedID != debugID {
		return nil, symerr.New(symerr.UnmatchedDebugID, "expected %s got %s", expectedID.String(), debugID.String()).WithFormat(formatName)
	}

	base := imageBase(pf)
	symbols := buildSymbolTable(pf, base)

	return &symbolMap{
		contents: contents,
		loc:      loc,
		debugID:  debugID,
		baseAddr: base,
		symbols:  symbols,
	}, nil
}

func readAll(contents location.FileContents) ([]byte, error) {
	n := contents.Len()
	buf := make([]byte, n)
	if _, err := contents.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// deriveDebugID extracts the CodeView RSDS debug directory entry's
// GUID+age and renders it as a Breakpad DebugID.
func deriveDebugID(pf *saferwallpe.File) (ids.DebugID, bool) {
	for _, entry := range pf.Debugs {
		if entry.Struct.Type != saferwallpe.ImageDebugTypeCodeView {
			continue
		}
		cv, ok := entry.Info.(saferwallpe.CVInfoPDB70)
		if !ok {
			continue
		}
		return ids.FromPECodeView(guidBytes(cv.Signature), cv.Age), true
	}
	return ids.DebugID{}, false
}

// guidBytes lays out a saferwall/pe GUID the way it appears on disk:
// Data1 (4 bytes) then Data2 (2) then Data3 (2) then Data4 (8 raw
// bytes), all little-endian within each multi-byte field.
func guidBytes(g saferwallpe.GUID) [ids.Size]byte {
	var b [ids.Size]byte
	b[0] = byte(g.Data1)
	b[1] = byte(g.Data1 >> 8)
	b[2] = byte(g.Data1 >> 16)
	b[3] = byte(g.Data1 >> 24)
	b[4] = byte(g.Data2)
	b[5] = byte(g.Data2 >> 8)
	b[6] = byte(g.Data3)
	b[7] = byte(g.Data3 >> 8)
	copy(b[8:16], g.Data4[:])
	return b
}

func imageBase(pf *saferwallpe.File) uint64 {
	switch oh := pf.NtHeader.OptionalHeader.(type) {
	case saferwallpe.ImageOptionalHeader32:
		return uint64(oh.ImageBase)
	case saferwallpe.ImageOptionalHeader64:
		return oh.ImageBase
	default:
		return 0
	}
}

// buildSymbolTable reads the COFF symbol table (absent on most
// release-built images, which rely on the PDB instead) and returns
// function symbols as image-relative RVAs, sorted ascending.
func buildSymbolTable(pf *saferwallpe.File, base uint64) []symbolicate.Symbol {
	if !pf.HasCOFF {
		return nil
	}

	const complexTypeFunction = 0x20
	out := make([]symbolicate.Symbol, 0, len(pf.COFF.SymbolTable))
	for _, sym := range pf.COFF.SymbolTable {
		if sym.Type != complexTypeFunction || sym.SectionNumber <= 0 {
			continue
		}
		secIdx := int(sym.SectionNumber) - 1
		if secIdx >= len(pf.Sections) {
			continue
		}
		rva := pf.Sections[secIdx].Header.VirtualAddress + sym.Value
		name := coffSymbolName(pf, sym)
		if name == "" {
			continue
		}
		out = append(out, symbolicate.Symbol{RVA: rva, Name: name})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RVA < out[j].RVA })
	return out
}

// coffSymbolName resolves a COFFSymbol's name: either the 8-byte short
// form, or a string-table offset when the first four bytes are zero.
func coffSymbolName(pf *saferwallpe.File, sym saferwallpe.COFFSymbol) string {
	if sym.Name[0] == 0 && sym.Name[1] == 0 && sym.Name[2] == 0 && sym.Name[3] == 0 {
		offset := uint32(sym.Name[4]) | uint32(sym.Name[5])<<8 | uint32(sym.Name[6])<<16 | uint32(sym.Name[7])<<24
		if name, ok := pf.COFF.StringTableM[offset]; ok {
			return name
		}
		return ""
	}
	return trimCString(sym.Name[:])
}

func trimCString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Package machosym builds a SymbolMap from a Mach-O object: load
// commands and symbol table parsed directly from the byte stream
// (rather than through debug/macho, whose Load interface makes the
// raw nlist/stab fields this format's OSO handling needs awkward to
// reach), fat archive member selection, and OSO-stabs indirection for
// binaries whose DWARF lives in separate .o files.
//
// This parses little-endian (modern Apple Silicon / Intel) Mach-O;
// big-endian PowerPC-era images are not handled (see DESIGN.md).
package machosym

import (
	"encoding/binary"
	"sort"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

const formatName = "macho"

const (
	magic32     = 0xfeedface
	magic64     = 0xfeedfacf
	fatMagic    = 0xcafebabe
	cmdSegment   = 0x1
	cmdSymtab    = 0x2
	cmdSegment64 = 0x19
	cmdUUID      = 0x1b

	nStab  = 0xe0
	nType  = 0x0e
	nSect  = 0xe
	nOSO   = 0x66
	nFun   = 0x24
)

// symbolMap implements symbolicate.SymbolMap over one thin Mach-O
// image (already disambiguated out of a fat archive if necessary).
type symbolMap struct {
	contents location.FileContents
	loc      location.FileLocation
	debugID  ids.DebugID

	baseAddr uint64
	symbols  []symbolicate.Symbol // sorted by RVA, non-stab function symbols
	osoRanges []osoRange          // sorted by RVA; see oso.go
}

func (s *symbolMap) DebugID() ids.DebugID                          { return s.debugID }
func (s *symbolMap) SymbolCount() int                              { return len(s.symbols) }
func (s *symbolMap) DebugFileLocation() location.FileLocation      { return s.loc }

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
	if svma < s.baseAddr {
		return nil, symerr.New(symerr.NotFound, "svma 0x%x below image base", svma).WithFormat(formatName)
	}
	return s.lookup(svma - s.baseAddr)
}

func (s *symbolMap) LookupOffset(offset uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return nil, symerr.New(symerr.UnsupportedLookup, "macho symbol maps do not support file-offset lookup").WithFormat(formatName)
}

func (s *symbolMap) lookup(rva uint64) (*symbolicate.AddressInfo, error) {
	if ref, ok := s.lookupOSO(rva); ok {
		return &symbolicate.AddressInfo{
			Symbol: symbolicate.Symbol{RVA: uint32(rva), Name: ref.SymbolName},
			Frames: symbolicate.External(ref),
		}, nil
	}

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

// Open parses contents as a (possibly fat) Mach-O image, selects a
// member per disambiguator when fat, verifies debug_id, and returns
// the resulting SymbolMap.
func Open(contents location.FileContents, loc location.FileLocation, expectedID *ids.DebugID, disambiguator symbolicate.MultiArchDisambiguator) (symbolicate.SymbolMap, error) {
	header := make([]byte, 8)
	if _, err := contents.ReadAt(header, 0); err != nil {
		return nil, symerr.Wrap(symerr.IOError, err, "reading header").WithFormat(formatName)
	}
	magic := binary.LittleEndian.Uint32(header[0:4])

	var thinOffset uint64
	switch magic {
	case magic32, magic64:
		thinOffset = 0
	case fatMagic, 0xbebafeca: // 0xbebafeca: the big-endian fat magic read little-endian
		off, err := selectFatMember(contents, disambiguator)
		if err != nil {
			return nil, err
		}
		thinOffset = off
	default:
		return nil, symerr.New(symerr.ParseError, "unrecognized mach-o magic 0x%x", magic).WithFormat(formatName)
	}

	return openThin(contents, loc, thinOffset, expectedID)
}

func openThin(contents location.FileContents, loc location.FileLocation, base uint64, expectedID *ids.DebugID) (symbolicate.SymbolMap, error) {
	hdr := make([]byte, 8)
	if _, err := contents.ReadAt(hdr, int64(base)); err != nil {
		return nil, symerr.Wrap(symerr.IOError, err, "reading thin header").WithFormat(formatName)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])

	var headerSize int
	switch magic {
	case magic32:
		headerSize = 28
	case magic64:
		headerSize = 32
	default:
		return nil, symerr.New(symerr.ParseError, "unrecognized thin mach-o magic 0x%x", magic).WithFormat(formatName)
	}
	is64 := magic == magic64

	rest := make([]byte, headerSize-8)
	if _, err := contents.ReadAt(rest, int64(base)+8); err != nil {
		return nil, symerr.Wrap(symerr.IOError, err, "reading mach header").WithFormat(formatName)
	}
	ncmds := binary.LittleEndian.Uint32(rest[8:12])

	var uuid [16]byte
	var haveUUID bool
	var segBase uint64
	haveSegBase := false
	var symtabOff, nsyms, stroffAbs, strsize uint32

	cmdOff := base + uint64(headerSize)
	for i := uint32(0); i < ncmds; i++ {
		cmdHdr := make([]byte, 8)
		if _, err := contents.ReadAt(cmdHdr, int64(cmdOff)); err != nil {
			return nil, symerr.Wrap(symerr.IOError, err, "reading load command %d", i).WithFormat(formatName)
		}
		cmd := binary.LittleEndian.Uint32(cmdHdr[0:4])
		cmdSize := binary.LittleEndian.Uint32(cmdHdr[4:8])

		switch cmd {
		case cmdUUID:
			body := make([]byte, 16)
			if _, err := contents.ReadAt(body, int64(cmdOff)+8); err == nil {
				copy(uuid[:], body)
				haveUUID = true
			}
		case cmdSegment64:
			body := make([]byte, 64)
			if _, err := contents.ReadAt(body, int64(cmdOff)+8); err == nil {
				segName := trimCString(body[0:16])
				vmaddr := binary.LittleEndian.Uint64(body[16:24])
				fileSize := binary.LittleEndian.Uint64(body[40:48])
				if segName != "__PAGEZERO" && fileSize > 0 {
					if !haveSegBase || vmaddr < segBase {
						segBase = vmaddr
						haveSegBase = true
					}
				}
			}
		case cmdSymtab:
			body := make([]byte, 16)
			if _, err := contents.ReadAt(body, int64(cmdOff)+8); err == nil {
				symtabOff = binary.LittleEndian.Uint32(body[0:4])
				nsyms = binary.LittleEndian.Uint32(body[4:8])
				stroffAbs = binary.LittleEndian.Uint32(body[8:12])
				strsize = binary.LittleEndian.Uint32(body[12:16])
			}
		}

		cmdOff += uint64(cmdSize)
	}

	if !haveUUID {
		return nil, symerr.New(symerr.ParseError, "no LC_UUID found").WithFormat(formatName)
	}
	debugID := ids.FromMachOUUID(uuid)
	if expectedID != nil && *expectedID != debugID {
		return nil, symerr.New(symerr.UnmatchedDebugID, "expected %s got %s", expectedID.String(), debugID.String()).WithFormat(formatName)
	}

	symbols, osoRanges, err := readSymtab(contents, base, is64, symtabOff, nsyms, stroffAbs, strsize, segBase)
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "reading symtab").WithFormat(formatName)
	}

	return &symbolMap{
		contents:  contents,
		loc:       loc,
		debugID:   debugID,
		baseAddr:  segBase,
		symbols:   symbols,
		osoRanges: osoRanges,
	}, nil
}

func trimCString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// selectFatMember reads the fat header (always big-endian) and returns
// the file offset of the thin Mach-O matching disambiguator, or the
// first member if disambiguator is empty.
func selectFatMember(contents location.FileContents, disambiguator symbolicate.MultiArchDisambiguator) (uint64, error) {
	hdr := make([]byte, 8)
	if _, err := contents.ReadAt(hdr, 0); err != nil {
		return 0, symerr.Wrap(symerr.IOError, err, "reading fat header").WithFormat(formatName)
	}
	nArch := binary.BigEndian.Uint32(hdr[4:8])

	type member struct {
		cpuType, cpuSubtype int32
		offset, size        uint32
	}
	members := make([]member, 0, nArch)
	for i := uint32(0); i < nArch; i++ {
		rec := make([]byte, 20)
		if _, err := contents.ReadAt(rec, int64(8+i*20)); err != nil {
			return 0, symerr.Wrap(symerr.IOError, err, "reading fat_arch %d", i).WithFormat(formatName)
		}
		members = append(members, member{
			cpuType:    int32(binary.BigEndian.Uint32(rec[0:4])),
			cpuSubtype: int32(binary.BigEndian.Uint32(rec[4:8])),
			offset:     binary.BigEndian.Uint32(rec[8:12]),
			size:       binary.BigEndian.Uint32(rec[12:16]),
		})
	}
	if len(members) == 0 {
		return 0, symerr.New(symerr.ParseError, "fat archive with no members").WithFormat(formatName)
	}

	if disambiguator.ArchName != "" {
		want, ok := archNameToCPUType(disambiguator.ArchName)
		if ok {
			for _, m := range members {
				if m.cpuType == want {
					return uint64(m.offset), nil
				}
			}
		}
	}

	if disambiguator.DebugID != nil {
		for _, m := range members {
			id, err := peekUUID(contents, uint64(m.offset))
			if err == nil && id == *disambiguator.DebugID {
				return uint64(m.offset), nil
			}
		}
	}

	return uint64(members[0].offset), nil
}

// peekUUID opens just enough of the thin image at offset to read its
// LC_UUID, without building a full symbolMap, for fat-member
// disambiguation by debug_id.
func peekUUID(contents location.FileContents, offset uint64) (ids.DebugID, error) {
	sm, err := openThin(contents, location.FileLocation{}, offset, nil)
	if err != nil {
		return ids.DebugID{}, err
	}
	return sm.DebugID(), nil
}

func archNameToCPUType(arch string) (int32, bool) {
	const (
		cpuTypeX86_64 = 0x01000007
		cpuTypeARM64  = 0x0100000c
	)
	switch arch {
	case "x86_64":
		return cpuTypeX86_64, true
	case "arm64":
		return cpuTypeARM64, true
	default:
		return 0, false
	}
}


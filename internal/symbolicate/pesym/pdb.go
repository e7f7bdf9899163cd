package pesym

import (
	"encoding/binary"
	"sort"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

const pdbFormatName = "pdb"

// OpenPDB parses contents as a native (MSF-container) PDB, verifies
// its own debug_id against expectedID (when non-nil), and returns a
// SymbolMap covering public symbols and per-module procedure
// symbols: a public symbol always wins over a procedure symbol at
// the same RVA, matching how a PDB-derived PUBLIC takes precedence
// over a FUNC entry in a Breakpad-converted symbol file. Only
// relative-address lookup is supported. disambiguator is accepted
// for interface symmetry with the other format builders but unused.
func OpenPDB(contents location.FileContents, loc location.FileLocation, expectedID *ids.DebugID, _ symbolicate.MultiArchDisambiguator) (symbolicate.SymbolMap, error) {
	data, err := readAll(contents)
	if err != nil {
		return nil, symerr.Wrap(symerr.IOError, err, "reading pdb").WithFormat(pdbFormatName)
	}

	msf, err := parseMSF(data)
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "parsing pdb msf container").WithFormat(pdbFormatName)
	}

	debugID, err := derivePDBDebugID(msf)
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "deriving pdb debug_id").WithFormat(pdbFormatName)
	}
	if expectedID != nil && *expectedID != debugID {
		return nil, symerr.New(symerr.UnmatchedDebugID, "expected %s got %s", expectedID.String(), debugID.String()).WithFormat(pdbFormatName)
	}

	symbols, err := buildPDBSymbolTable(msf)
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "parsing pdb dbi stream").WithFormat(pdbFormatName)
	}

	return &symbolMap{
		loc:          loc,
		debugID:      debugID,
		relativeOnly: true,
		symbols:      symbols,
	}, nil
}

// sliceAt returns data[pos:pos+n], erroring instead of panicking when
// the range falls outside data: a malformed DBI header's substream
// sizes should not be able to crash the parser.
func sliceAt(data []byte, pos, n int) ([]byte, error) {
	if pos < 0 || n < 0 || pos+n > len(data) {
		return nil, symerr.New(symerr.ParseError, "dbi substream out of range (pos=%d len=%d data=%d)", pos, n, len(data))
	}
	return data[pos : pos+n], nil
}

// derivePDBDebugID reads the PDB Info Stream's fixed 28-byte header
// (Version, Signature, Age, 16-byte UniqueId) and renders the
// UniqueId+Age as a Breakpad DebugID the same way the PE side derives
// one from its CodeView RSDS entry: the on-disk GUID bytes are
// already in the field order ids.FromPECodeView expects.
func derivePDBDebugID(msf *msfFile) (ids.DebugID, error) {
	info, err := msf.stream(pdbStreamPDBInfo)
	if err != nil {
		return ids.DebugID{}, err
	}
	if len(info) < 28 {
		return ids.DebugID{}, symerr.New(symerr.ParseError, "pdb info stream truncated")
	}
	age := binary.LittleEndian.Uint32(info[8:12])
	var guid [ids.Size]byte
	copy(guid[:], info[12:28])
	return ids.FromPECodeView(guid, age), nil
}

// buildPDBSymbolTable parses the DBI stream's symbol record stream
// (public symbols) and each module's own symbol substream (procedure
// symbols), converting every seg:off pair to an RVA via the Section
// Header stream named in DBI's OptionalDbgHeader substream, then
// merges them: a public symbol's RVA always wins; a procedure symbol
// only fills an RVA no public symbol already claims.
func buildPDBSymbolTable(msf *msfFile) ([]symbolicate.Symbol, error) {
	dbiRaw, err := msf.stream(pdbStreamDBI)
	if err != nil {
		return nil, err
	}
	if dbiRaw == nil {
		return nil, symerr.New(symerr.ParseError, "pdb has no dbi stream")
	}
	hdr, err := parseDBIHeader(dbiRaw)
	if err != nil {
		return nil, err
	}

	pos := dbiHeaderSize
	modInfoBytes, err := sliceAt(dbiRaw, pos, int(hdr.modInfoSize))
	if err != nil {
		return nil, err
	}
	pos += int(hdr.modInfoSize)
	pos += int(hdr.secContributionSize)
	pos += int(hdr.secMapSize)
	pos += int(hdr.sourceInfoSize)
	pos += int(hdr.typeServerMapSize)
	pos += int(hdr.ecSubstreamSize)
	optDbgHdrBytes, err := sliceAt(dbiRaw, pos, int(hdr.optionalDbgHdrSize))
	if err != nil {
		return nil, err
	}

	modules, err := parseModInfo(modInfoBytes)
	if err != nil {
		return nil, err
	}

	var sections []uint32
	if secIdx := sectionHeaderStreamIndex(optDbgHdrBytes); secIdx >= 0 {
		secBytes, err := msf.stream(secIdx)
		if err != nil {
			return nil, err
		}
		sections = sectionHeaders(secBytes)
	}

	toRVA := func(seg uint16, off uint32) (uint32, bool) {
		if seg == 0 || int(seg-1) >= len(sections) {
			return 0, false
		}
		return sections[seg-1] + off, true
	}

	publics := map[uint32]string{}
	if symRecBytes, err := msf.stream(int(hdr.symRecordStream)); err == nil && symRecBytes != nil {
		walkCVSymbols(symRecBytes, 0, func(p cvPublicSymbol) {
			if rva, ok := toRVA(p.seg, p.off); ok {
				publics[rva] = p.name
			}
		}, nil)
	}

	procs := map[uint32]symbolicate.Symbol{}
	for _, mod := range modules {
		if mod.symStream == 0xFFFF {
			continue
		}
		modBytes, err := msf.stream(int(mod.symStream))
		if err != nil || modBytes == nil {
			continue
		}
		if uint32(len(modBytes)) > mod.symSize && mod.symSize > 0 {
			modBytes = modBytes[:mod.symSize]
		}
		walkCVSymbols(modBytes, 4, nil, func(p cvProcSymbol) {
			if rva, ok := toRVA(p.seg, p.off); ok {
				size := p.len
				procs[rva] = symbolicate.Symbol{RVA: rva, Size: &size, Name: p.name}
			}
		})
	}

	merged := make(map[uint32]symbolicate.Symbol, len(publics)+len(procs))
	for rva, sym := range procs {
		merged[rva] = sym
	}
	for rva, name := range publics {
		merged[rva] = symbolicate.Symbol{RVA: rva, Name: name}
	}

	out := make([]symbolicate.Symbol, 0, len(merged))
	for _, sym := range merged {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RVA < out[j].RVA })
	return out, nil
}

package machosym

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

// osoRange is one [lowRVA, highRVA) span whose debug info lives in a
// separate .o (or static archive member) referenced by an N_OSO stab,
// rather than in this image's own DWARF. highRVA is exclusive and is
// the next function stab's address in ascending order over all
// function stabs, or left unbounded (^uint64(0)) for the highest one. Addresses are
// already converted to image-relative RVA.
type osoRange struct {
	lowRVA, highRVA uint64
	symbolName      string
	osoPath         string
}

func (s *symbolMap) lookupOSO(rva uint64) (symbolicate.ExternalFileAddressRef, bool) {
	idx := sort.Search(len(s.osoRanges), func(i int) bool { return s.osoRanges[i].lowRVA > rva }) - 1
	if idx < 0 {
		return symbolicate.ExternalFileAddressRef{}, false
	}
	r := s.osoRanges[idx]
	if rva < r.lowRVA || rva >= r.highRVA {
		return symbolicate.ExternalFileAddressRef{}, false
	}
	return symbolicate.ExternalFileAddressRef{
		FileRef:          symbolicate.ExternalFileRef{Name: r.osoPath},
		SymbolName:       r.symbolName,
		OffsetFromSymbol: rva - r.lowRVA,
	}, true
}

// readSymtab reads the nlist array and string table starting at
// symtabOff/stroffAbs (both offsets within the thin image, i.e.
// relative to the fat member base if any; fileBase is added to each
// before reading), splitting entries into ordinary function
// symbols and N_OSO/N_FUN stab groups. Stab groups become osoRanges:
// the address range of code whose line/inline info must be fetched
// from the referenced .o file rather than this image's own DWARF.
// segBase converts each entry's SVMA to an image-relative RVA.
func readSymtab(contents location.FileContents, fileBase uint64, is64 bool, symtabOff, nsyms, stroffAbs, strsize uint32, segBase uint64) ([]symbolicate.Symbol, []osoRange, error) {
	entrySize := 12
	if is64 {
		entrySize = 16
	}

	strtab := make([]byte, strsize)
	if strsize > 0 {
		if _, err := contents.ReadAt(strtab, int64(fileBase)+int64(stroffAbs)); err != nil {
			return nil, nil, err
		}
	}

	raw := make([]byte, int(nsyms)*entrySize)
	if len(raw) > 0 {
		if _, err := contents.ReadAt(raw, int64(fileBase)+int64(symtabOff)); err != nil {
			return nil, nil, err
		}
	}

	var symbols []symbolicate.Symbol
	var funcStabs []funcStab
	var currentOSO string

	for i := uint32(0); i < nsyms; i++ {
		rec := raw[int(i)*entrySize : int(i)*entrySize+entrySize]
		strx := binary.LittleEndian.Uint32(rec[0:4])
		ntypeByte := rec[4]
		var value uint64
		if is64 {
			value = binary.LittleEndian.Uint64(rec[8:16])
		} else {
			value = uint64(binary.LittleEndian.Uint32(rec[8:12]))
		}
		name := strFromTable(strtab, strx)

		if ntypeByte&nStab != 0 {
			switch ntypeByte {
			case nOSO:
				currentOSO = name
			case nFun:
				if name != "" && value >= segBase {
					funcStabs = append(funcStabs, funcStab{rva: value - segBase, name: stabBaseName(name), oso: currentOSO})
				}
			}
			continue
		}

		if ntypeByte&nType != nSect || value == 0 || name == "" || value < segBase {
			continue
		}
		symbols = append(symbols, symbolicate.Symbol{RVA: uint32(value - segBase), Name: demangleMachoName(name)})
	}

	sort.Slice(symbols, func(i, j int) bool { return symbols[i].RVA < symbols[j].RVA })

	sort.Slice(funcStabs, func(i, j int) bool { return funcStabs[i].rva < funcStabs[j].rva })
	osoRanges := make([]osoRange, 0, len(funcStabs))
	for i, fs := range funcStabs {
		if fs.oso == "" {
			continue
		}
		high := ^uint64(0)
		if i+1 < len(funcStabs) {
			high = funcStabs[i+1].rva
		}
		osoRanges = append(osoRanges, osoRange{
			lowRVA:     fs.rva,
			highRVA:    high,
			symbolName: fs.name,
			osoPath:    fs.oso,
		})
	}

	return symbols, osoRanges, nil
}

type funcStab struct {
	rva  uint64
	name string
	oso  string
}

func strFromTable(strtab []byte, strx uint32) string {
	if strx == 0 || int(strx) >= len(strtab) {
		return ""
	}
	end := int(strx)
	for end < len(strtab) && strtab[end] != 0 {
		end++
	}
	return string(strtab[strx:end])
}

// stabBaseName trims an N_FUN stab string's trailing type descriptor,
// e.g. "my_function:F(0,1)" -> "my_function".
func stabBaseName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

func demangleMachoName(name string) string {
	trimmed := strings.TrimPrefix(name, "_")
	out := demangle.Filter(trimmed, demangle.NoParams, demangle.NoTemplateParams)
	if out == trimmed {
		return trimmed
	}
	return out
}

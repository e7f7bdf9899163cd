package pesym

import (
	"encoding/binary"
	"fmt"
)

const (
	pdbStreamPDBInfo = 1
	pdbStreamTPI     = 2
	pdbStreamDBI     = 3

	dbiHeaderSize = 64

	symPUB32   = 0x110E
	symLPROC32 = 0x110F
	symGPROC32 = 0x1110
)

// dbiHeader is the fixed 64-byte header at the start of the DBI
// stream, giving the byte sizes of the substreams that follow it in
// a fixed order (ModInfo, SectionContribution, SectionMap,
// SourceInfo, TypeServerMap, EC, OptionalDbgHeader) and the stream
// index carrying the public symbol hash table.
type dbiHeader struct {
	versionSignature    int32
	age                 uint32
	publicStreamIndex   uint16
	symRecordStream     uint16
	modInfoSize         uint32
	secContributionSize uint32
	secMapSize          uint32
	sourceInfoSize      uint32
	typeServerMapSize   uint32
	optionalDbgHdrSize  uint32
	ecSubstreamSize     uint32
}

func parseDBIHeader(b []byte) (dbiHeader, error) {
	if len(b) < dbiHeaderSize {
		return dbiHeader{}, fmt.Errorf("pesym: dbi stream header truncated")
	}
	h := dbiHeader{
		versionSignature:    int32(binary.LittleEndian.Uint32(b[0:4])),
		age:                 binary.LittleEndian.Uint32(b[8:12]),
		publicStreamIndex:   binary.LittleEndian.Uint16(b[14:16]),
		symRecordStream:     binary.LittleEndian.Uint16(b[20:22]),
		modInfoSize:         binary.LittleEndian.Uint32(b[24:28]),
		secContributionSize: binary.LittleEndian.Uint32(b[28:32]),
		secMapSize:          binary.LittleEndian.Uint32(b[32:36]),
		sourceInfoSize:      binary.LittleEndian.Uint32(b[36:40]),
		typeServerMapSize:   binary.LittleEndian.Uint32(b[40:44]),
		optionalDbgHdrSize:  binary.LittleEndian.Uint32(b[48:52]),
		ecSubstreamSize:     binary.LittleEndian.Uint32(b[52:56]),
	}
	if h.versionSignature != -1 {
		return dbiHeader{}, fmt.Errorf("pesym: unrecognized dbi header version signature")
	}
	return h, nil
}

// dbiModule is one ModInfo substream entry: a single compiland's
// name and the PDB stream index carrying its own CodeView symbol
// records (procedures among them).
type dbiModule struct {
	name      string
	symStream uint16
	symSize   uint32 // byte size of the symbol records at the start of symStream; the line info after them is not read
}

// parseModInfo walks the ModInfo substream, a sequence of fixed
// 64-byte headers each followed by two NUL-terminated strings
// (module name, object file name) and padding up to a 4-byte
// boundary.
func parseModInfo(b []byte) ([]dbiModule, error) {
	var mods []dbiModule
	pos := 0
	for pos < len(b) {
		if pos+64 > len(b) {
			break
		}
		rec := b[pos:]
		symStream := binary.LittleEndian.Uint16(rec[34:36])
		symByteSize := binary.LittleEndian.Uint32(rec[36:40])
		strStart := pos + 64

		name, n, err := readCString(b, strStart)
		if err != nil {
			return nil, err
		}
		_, n2, err := readCString(b, strStart+n)
		if err != nil {
			return nil, err
		}

		end := strStart + n + n2
		if pad := end % 4; pad != 0 {
			end += 4 - pad
		}
		mods = append(mods, dbiModule{name: name, symStream: symStream, symSize: symByteSize})
		pos = end
	}
	return mods, nil
}

func readCString(b []byte, start int) (string, int, error) {
	if start > len(b) {
		return "", 0, fmt.Errorf("pesym: modinfo string out of range")
	}
	for i := start; i < len(b); i++ {
		if b[i] == 0 {
			return string(b[start:i]), i - start + 1, nil
		}
	}
	return "", 0, fmt.Errorf("pesym: modinfo string missing NUL terminator")
}

// optionalDbgHeaderSectionHeader is the fixed slot in the
// OptionalDbgHeader substream (an array of uint16 stream indices)
// naming the Section Header stream.
const optionalDbgHeaderSectionHeaderSlot = 5

// sectionHeaderStreamIndex reads the OptionalDbgHeader substream,
// which follows EC in the DBI stream, and returns the PDB stream
// index of the IMAGE_SECTION_HEADER array, or -1 if absent.
func sectionHeaderStreamIndex(b []byte) int {
	off := optionalDbgHeaderSectionHeaderSlot * 2
	if off+2 > len(b) {
		return -1
	}
	idx := binary.LittleEndian.Uint16(b[off : off+2])
	if idx == 0xFFFF {
		return -1
	}
	return int(idx)
}

// sectionHeaders parses a raw IMAGE_SECTION_HEADER stream into each
// section's virtual address, indexed by 1-based section number as
// CodeView seg:off symbols reference it (sectionHeaders[seg-1]).
func sectionHeaders(b []byte) []uint32 {
	const entrySize = 40
	n := len(b) / entrySize
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		rec := b[i*entrySize : (i+1)*entrySize]
		out[i] = binary.LittleEndian.Uint32(rec[12:16])
	}
	return out
}

// cvPublicSymbol is a decoded S_PUB32 record.
type cvPublicSymbol struct {
	seg  uint16
	off  uint32
	name string
}

// cvProcSymbol is a decoded S_LPROC32/S_GPROC32 record.
type cvProcSymbol struct {
	seg  uint16
	off  uint32
	len  uint32
	name string
}

// walkCVSymbols iterates a CodeView symbol substream's generic
// reclen/rectype/payload records, invoking onPub/onProc for the
// record kinds this package understands and skipping the rest.
// skipHeader is 4 for a module symbol stream (which begins with a
// uint32 signature before the first record) and 0 for the public
// symbol stream.
func walkCVSymbols(b []byte, skipHeader int, onPub func(cvPublicSymbol), onProc func(cvProcSymbol)) {
	pos := skipHeader
	for pos+4 <= len(b) {
		reclen := int(binary.LittleEndian.Uint16(b[pos : pos+2]))
		rectype := binary.LittleEndian.Uint16(b[pos+2 : pos+4])
		recEnd := pos + 2 + reclen
		if reclen < 2 || recEnd > len(b) {
			return
		}
		payload := b[pos+4 : recEnd]

		switch rectype {
		case symPUB32:
			if len(payload) >= 10 {
				off := binary.LittleEndian.Uint32(payload[4:8])
				seg := binary.LittleEndian.Uint16(payload[8:10])
				name := trimCString(payload[10:])
				if onPub != nil {
					onPub(cvPublicSymbol{seg: seg, off: off, name: name})
				}
			}
		case symGPROC32, symLPROC32:
			if len(payload) >= 35 {
				length := binary.LittleEndian.Uint32(payload[12:16])
				off := binary.LittleEndian.Uint32(payload[28:32])
				seg := binary.LittleEndian.Uint16(payload[32:34])
				name := trimCString(payload[35:])
				if onProc != nil {
					onProc(cvProcSymbol{seg: seg, off: off, len: length, name: name})
				}
			}
		}

		pos = recEnd
		if pad := pos % 4; pad != 0 {
			pos += 4 - pad
		}
	}
}

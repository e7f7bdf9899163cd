package pesym

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// buildPub32 encodes an S_PUB32 record on a 4-byte boundary.
func buildPub32(seg uint16, off uint32, name string) []byte {
	payload := append(append(u32(0), u32(off)...), u16(seg)...)
	payload = append(payload, []byte(name)...)
	reclen := 2 + len(payload)
	rec := append(u16(uint16(reclen)), u16(symPUB32)...)
	rec = append(rec, payload...)
	return rec
}

// buildProc32 encodes a minimal S_LPROC32/S_GPROC32 record (zeroed
// pParent/pEnd/pNext/DbgStart/DbgEnd/typind) on a 4-byte boundary.
func buildProc32(seg uint16, off, length uint32, name string) []byte {
	payload := make([]byte, 0, 31+len(name))
	payload = append(payload, make([]byte, 4)...) // pParent
	payload = append(payload, make([]byte, 4)...) // pEnd
	payload = append(payload, make([]byte, 4)...) // pNext
	payload = append(payload, u32(length)...)      // len
	payload = append(payload, make([]byte, 4)...) // DbgStart
	payload = append(payload, make([]byte, 4)...) // DbgEnd
	payload = append(payload, make([]byte, 4)...) // typind
	payload = append(payload, u32(off)...)
	payload = append(payload, u16(seg)...)
	payload = append(payload, 0) // flags
	payload = append(payload, []byte(name)...)
	reclen := 2 + len(payload)
	rec := append(u16(uint16(reclen)), u16(symGPROC32)...)
	rec = append(rec, payload...)
	return rec
}

func TestWalkCVSymbolsPub32(t *testing.T) {
	stream := append(buildPub32(1, 0x10, "pubfn\x00"), buildPub32(1, 0x50, "pub2\x00\x00")...)
	var got []cvPublicSymbol
	walkCVSymbols(stream, 0, func(p cvPublicSymbol) { got = append(got, p) }, nil)
	require.Len(t, got, 2)
	assert.Equal(t, cvPublicSymbol{seg: 1, off: 0x10, name: "pubfn"}, got[0])
	assert.Equal(t, cvPublicSymbol{seg: 1, off: 0x50, name: "pub2"}, got[1])
}

func TestWalkCVSymbolsProc32(t *testing.T) {
	sig := make([]byte, 4)
	stream := append(sig, buildProc32(1, 0x10, 0x20, "pf\x00\x00\x00")...)
	var got []cvProcSymbol
	walkCVSymbols(stream, 4, nil, func(p cvProcSymbol) { got = append(got, p) })
	require.Len(t, got, 1)
	assert.Equal(t, cvProcSymbol{seg: 1, off: 0x10, len: 0x20, name: "pf"}, got[0])
}

func TestSectionHeadersReadsVirtualAddress(t *testing.T) {
	entry := make([]byte, 40)
	binary.LittleEndian.PutUint32(entry[12:16], 0x2000)
	secs := sectionHeaders(entry)
	require.Len(t, secs, 1)
	assert.Equal(t, uint32(0x2000), secs[0])
}

func TestSectionHeaderStreamIndexReadsSlotFive(t *testing.T) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:2], 0xFFFF)
	binary.LittleEndian.PutUint16(buf[2:4], 0xFFFF)
	binary.LittleEndian.PutUint16(buf[4:6], 0xFFFF)
	binary.LittleEndian.PutUint16(buf[6:8], 0xFFFF)
	binary.LittleEndian.PutUint16(buf[8:10], 0xFFFF)
	binary.LittleEndian.PutUint16(buf[10:12], 6)
	assert.Equal(t, 6, sectionHeaderStreamIndex(buf))
}

func TestParseModInfoReadsNameAndSymStream(t *testing.T) {
	hdr := make([]byte, 64)
	binary.LittleEndian.PutUint16(hdr[34:36], 5)  // ModuleSymStream
	binary.LittleEndian.PutUint32(hdr[36:40], 44) // SymByteSize
	rec := append(hdr, []byte("m\x00o\x00")...)

	mods, err := parseModInfo(rec)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "m", mods[0].name)
	assert.Equal(t, uint16(5), mods[0].symStream)
	assert.Equal(t, uint32(44), mods[0].symSize)
}

func TestParseDBIHeaderRejectsBadSignature(t *testing.T) {
	b := make([]byte, dbiHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], 0) // not -1
	_, err := parseDBIHeader(b)
	assert.Error(t, err)
}

// buildSyntheticPDB assembles an msfFile by hand (bypassing the MSF
// page-reassembly path tested separately in msf_test.go) so the
// DBI/ModInfo/public-vs-procedure merge logic in
// buildPDBSymbolTable can be exercised without a real PDB fixture.
func buildSyntheticPDB(t *testing.T) *msfFile {
	t.Helper()

	pdbInfo := make([]byte, 28)
	binary.LittleEndian.PutUint32(pdbInfo[8:12], 7) // age
	guid := [16]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10}
	copy(pdbInfo[12:28], guid[:])

	modSym := append(make([]byte, 4), buildProc32(1, 0x10, 0x20, "pf\x00\x00\x00")...)
	require.Equal(t, 48, len(modSym))

	modInfoHdr := make([]byte, 64)
	binary.LittleEndian.PutUint16(modInfoHdr[34:36], 5)             // ModuleSymStream
	binary.LittleEndian.PutUint32(modInfoHdr[36:40], uint32(len(modSym))) // SymByteSize
	modInfo := append(modInfoHdr, []byte("m\x00o\x00")...)
	require.Zero(t, len(modInfo)%4)

	optDbgHdr := make([]byte, 12)
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(optDbgHdr[i*2:i*2+2], 0xFFFF)
	}
	binary.LittleEndian.PutUint16(optDbgHdr[10:12], 6) // section header stream

	dbiHdr := make([]byte, dbiHeaderSize)
	binary.LittleEndian.PutUint32(dbiHdr[0:4], 0xFFFFFFFF) // versionSignature = -1
	binary.LittleEndian.PutUint16(dbiHdr[20:22], 4)         // symRecordStream
	binary.LittleEndian.PutUint32(dbiHdr[24:28], uint32(len(modInfo)))
	binary.LittleEndian.PutUint32(dbiHdr[48:52], uint32(len(optDbgHdr)))

	dbiRaw := append(append([]byte{}, dbiHdr...), modInfo...)
	dbiRaw = append(dbiRaw, optDbgHdr...)

	symRecord := append(buildPub32(1, 0x10, "pubfn\x00"), buildPub32(1, 0x50, "pub2\x00\x00")...)

	sectionHeaderStream := make([]byte, 40)
	binary.LittleEndian.PutUint32(sectionHeaderStream[12:16], 0x2000)

	const blockSize = 256
	streamBytes := map[int][]byte{
		1: pdbInfo,
		3: dbiRaw,
		4: symRecord,
		5: modSym,
		6: sectionHeaderStream,
	}

	maxIdx := 6
	data := make([]byte, (maxIdx+1)*blockSize)
	blocks := make([][]uint32, maxIdx+1)
	sizes := make([]uint32, maxIdx+1)
	for i := 0; i <= maxIdx; i++ {
		if content, ok := streamBytes[i]; ok {
			copy(data[i*blockSize:], content)
			blocks[i] = []uint32{uint32(i)}
			sizes[i] = uint32(len(content))
		} else {
			sizes[i] = 0xFFFFFFFF
		}
	}

	return &msfFile{data: data, blockSize: blockSize, blocks: blocks, sizes: sizes}
}

func TestBuildPDBSymbolTablePublicWinsOverProcedure(t *testing.T) {
	msf := buildSyntheticPDB(t)
	symbols, err := buildPDBSymbolTable(msf)
	require.NoError(t, err)
	require.Len(t, symbols, 2)

	assert.Equal(t, uint32(0x2010), symbols[0].RVA)
	assert.Equal(t, "pubfn", symbols[0].Name)
	assert.Nil(t, symbols[0].Size, "a public symbol wins over the procedure at the same RVA, losing its size")

	assert.Equal(t, uint32(0x2050), symbols[1].RVA)
	assert.Equal(t, "pub2", symbols[1].Name)
}

func TestDerivePDBDebugID(t *testing.T) {
	msf := buildSyntheticPDB(t)
	id, err := derivePDBDebugID(msf)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), id.Age)
}

func TestIsMSF(t *testing.T) {
	assert.True(t, isMSF(append([]byte(nil), msfMagic...)))
	assert.False(t, isMSF([]byte("not an msf file")))
}

package machosym

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

func TestStabBaseName(t *testing.T) {
	assert.Equal(t, "my_function", stabBaseName("my_function:F(0,1)"))
	assert.Equal(t, "plain", stabBaseName("plain"))
}

func TestStrFromTable(t *testing.T) {
	strtab := []byte{0, 'm', 'y', 'f', 'u', 'n', 'c', 0}
	assert.Equal(t, "myfunc", strFromTable(strtab, 1))
	assert.Equal(t, "", strFromTable(strtab, 0))
	assert.Equal(t, "", strFromTable(strtab, 100))
}

func TestArchNameToCPUType(t *testing.T) {
	_, ok := archNameToCPUType("unknown")
	assert.False(t, ok)
	cpu, ok := archNameToCPUType("arm64")
	assert.True(t, ok)
	assert.Equal(t, int32(0x0100000c), cpu)
}

// buildThinMachO64 assembles a minimal little-endian 64-bit Mach-O
// image: header, LC_UUID, LC_SYMTAB, one defined function symbol.
func buildThinMachO64(t *testing.T, uuidBytes [16]byte) []byte {
	t.Helper()

	const headerSize = 32
	const uuidCmdSize = 24
	const symtabCmdSize = 24

	symtabOff := uint32(headerSize + uuidCmdSize + symtabCmdSize)
	nsyms := uint32(1)
	entrySize := 16
	stroff := symtabOff + uint32(nsyms)*uint32(entrySize)
	strtab := []byte{0, 'm', 'y', 'f', 'u', 'n', 'c', 0}

	buf := make([]byte, stroff+uint32(len(strtab)))

	le32 := func(off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
	le64 := func(off int, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }

	le32(0, magic64)
	le32(4, 0)  // cputype
	le32(8, 0)  // cpusubtype
	le32(12, 2) // filetype
	le32(16, 2) // ncmds
	le32(20, uuidCmdSize+symtabCmdSize)
	le32(24, 0) // flags
	le32(28, 0) // reserved

	off := headerSize
	le32(off, cmdUUID)
	le32(off+4, uuidCmdSize)
	copy(buf[off+8:off+24], uuidBytes[:])
	off += uuidCmdSize

	le32(off, cmdSymtab)
	le32(off+4, symtabCmdSize)
	le32(off+8, symtabOff)
	le32(off+12, nsyms)
	le32(off+16, stroff)
	le32(off+20, uint32(len(strtab)))

	entryOff := int(symtabOff)
	le32(entryOff, 1)     // n_strx -> "myfunc"
	buf[entryOff+4] = 0x0f // n_type: N_EXT|N_SECT
	buf[entryOff+5] = 1    // n_sect
	le64(entryOff+8, 0x1000)

	copy(buf[stroff:], strtab)

	return buf
}

func TestOpenThinParsesUUIDAndSymbols(t *testing.T) {
	var uuidBytes [16]byte
	for i := range uuidBytes {
		uuidBytes[i] = byte(i)
	}
	data := buildThinMachO64(t, uuidBytes)
	contents := location.NewBytesContents(data)

	sm, err := Open(contents, location.FileLocation{}, nil, symbolicate.MultiArchDisambiguator{})
	require.NoError(t, err)
	assert.Equal(t, uuidBytes[:], sm.DebugID().UUID[:])
	assert.Equal(t, 1, sm.SymbolCount())

	info, err := sm.LookupRelativeAddress(0x1000, symbolicate.DefaultLookupOptions())
	require.NoError(t, err)
	assert.Equal(t, "myfunc", info.Symbol.Name)
}

func TestOpenThinRejectsMismatchedDebugID(t *testing.T) {
	var uuidBytes [16]byte
	data := buildThinMachO64(t, uuidBytes)
	contents := location.NewBytesContents(data)

	var wrong [16]byte
	wrong[0] = 0xff
	wrongID := ids.FromMachOUUID(wrong)

	_, err := Open(contents, location.FileLocation{}, &wrongID, symbolicate.MultiArchDisambiguator{})
	assert.Error(t, err)
}

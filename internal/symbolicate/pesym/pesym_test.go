package pesym

import (
	"testing"

	saferwallpe "github.com/saferwall/pe"
	"github.com/stretchr/testify/assert"
)

func TestGUIDBytesLayout(t *testing.T) {
	g := saferwallpe.GUID{
		Data1: 0x11223344,
		Data2: 0x5566,
		Data3: 0x7788,
		Data4: [8]byte{0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00},
	}
	b := guidBytes(g)
	assert.Equal(t, []byte{
		0x44, 0x33, 0x22, 0x11,
		0x66, 0x55,
		0x88, 0x77,
		0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00,
	}, b[:])
}

func TestCoffSymbolNameShort(t *testing.T) {
	sym := saferwallpe.COFFSymbol{Name: [8]byte{'m', 'a', 'i', 'n', 0, 0, 0, 0}}
	assert.Equal(t, "main", coffSymbolName(&saferwallpe.File{}, sym))
}

func TestCoffSymbolNameLongViaStringTable(t *testing.T) {
	pf := &saferwallpe.File{}
	pf.COFF.StringTableM = map[uint32]string{8: "a_very_long_symbol_name"}
	sym := saferwallpe.COFFSymbol{Name: [8]byte{0, 0, 0, 0, 8, 0, 0, 0}}
	assert.Equal(t, "a_very_long_symbol_name", coffSymbolName(pf, sym))
}

func TestTrimCString(t *testing.T) {
	assert.Equal(t, "abc", trimCString([]byte{'a', 'b', 'c', 0, 0}))
	assert.Equal(t, "abcdefgh", trimCString([]byte("abcdefgh")))
}

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

func TestOpenRejectsUnrecognizedMagic(t *testing.T) {
	contents := location.NewBytesContents([]byte("not a recognized artifact format at all"))
	_, err := Open(contents, location.FileLocation{}, nil, symbolicate.MultiArchDisambiguator{})
	assert.Error(t, err)
}

func TestOpenDispatchesBreakpadByModulePrefix(t *testing.T) {
	sym := []byte("MODULE Linux x86_64 112233445566778899AABBCCDDEEFF002 mylib.so\nPUBLIC 1000 0 f\n")
	contents := location.NewBytesContents(sym)
	sm, err := Open(contents, location.FileLocation{}, nil, symbolicate.MultiArchDisambiguator{})
	assert.NoError(t, err)
	assert.NotNil(t, sm)
}

func TestOpenDispatchesPDBByMSFMagic(t *testing.T) {
	data := append([]byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00"), make([]byte, 32)...)
	contents := location.NewBytesContents(data)
	_, err := Open(contents, location.FileLocation{}, nil, symbolicate.MultiArchDisambiguator{})
	assert.Error(t, err) // truncated container: routed to pesym.OpenPDB, not swallowed as unrecognized
	assert.NotContains(t, err.Error(), "unrecognized artifact magic")
}

func TestOpenRejectsPortablePDB(t *testing.T) {
	contents := location.NewBytesContents([]byte("BSJB" + "padding to reach a full head buffer......."))
	_, err := Open(contents, location.FileLocation{}, nil, symbolicate.MultiArchDisambiguator{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "portable PDB")
}

func TestIsMachOMagicRecognizesKnownMagics(t *testing.T) {
	assert.True(t, isMachOMagic([]byte{0xce, 0xfa, 0xed, 0xfe}))
	assert.True(t, isMachOMagic([]byte{0xcf, 0xfa, 0xed, 0xfe}))
	assert.True(t, isMachOMagic([]byte{0xbe, 0xba, 0xfe, 0xca}))
	assert.False(t, isMachOMagic([]byte{0x7f, 'E', 'L', 'F'}))
	assert.False(t, isMachOMagic([]byte{0x01}))
}

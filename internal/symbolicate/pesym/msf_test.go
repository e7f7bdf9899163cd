package pesym

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalMSF assembles a 4-block MSF container by hand: block 0
// is the superblock, block 1 is the block-map page (the single-page
// list of directory blocks), block 2 is the stream directory itself
// (one stream, one block), and block 3 holds that stream's payload.
func buildMinimalMSF(t *testing.T, blockSize uint32, payload []byte) []byte {
	t.Helper()
	require.LessOrEqual(t, len(payload), int(blockSize))

	data := make([]byte, 4*blockSize)
	copy(data, msfMagic)
	binary.LittleEndian.PutUint32(data[32:36], blockSize)
	binary.LittleEndian.PutUint32(data[44:48], 12) // NumDirectoryBytes: numStreams+size+oneBlock
	binary.LittleEndian.PutUint32(data[52:56], 1)  // BlockMapAddr -> block 1

	binary.LittleEndian.PutUint32(data[blockSize:blockSize+4], 2) // dir lives in block 2

	dirOff := 2 * blockSize
	binary.LittleEndian.PutUint32(data[dirOff:dirOff+4], 1)                    // NumStreams
	binary.LittleEndian.PutUint32(data[dirOff+4:dirOff+8], uint32(len(payload))) // stream 0 size
	binary.LittleEndian.PutUint32(data[dirOff+8:dirOff+12], 3)                 // stream 0 block list: [3]

	copy(data[3*blockSize:], payload)
	return data
}

func TestParseMSFRoundTrip(t *testing.T) {
	payload := []byte("0123456789")
	data := buildMinimalMSF(t, 128, payload)

	msf, err := parseMSF(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(128), msf.blockSize)
	require.Len(t, msf.sizes, 1)
	assert.Equal(t, uint32(len(payload)), msf.sizes[0])

	got, err := msf.stream(0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestParseMSFRejectsNonMSF(t *testing.T) {
	_, err := parseMSF([]byte("not an msf file at all, way too short"))
	assert.Error(t, err)
}

func TestMSFStreamAbsent(t *testing.T) {
	data := buildMinimalMSF(t, 128, []byte("x"))
	dirOff := uint32(2 * 128)
	binary.LittleEndian.PutUint32(data[dirOff+4:dirOff+8], 0xFFFFFFFF) // mark stream 0 absent

	msf, err := parseMSF(data)
	require.NoError(t, err)
	got, err := msf.stream(0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

//go:build darwin
// +build darwin

package dyldcache

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFakeCache assembles a minimal single-mapping dyld shared cache
// file containing one image ("/usr/lib/libfake.dylib") whose Mach-O
// header sits at a nonzero file offset, so Open must follow the
// mapping's address-to-file-offset translation rather than assuming
// header == offset 0.
func buildFakeCache(t *testing.T) (path string, imageFileOffset uint64) {
	t.Helper()

	const (
		mappingOff   = 0x80
		imagesOff    = 0xA0
		stringsOff   = 0xC0
		baseAddr     = 0x1_0000_0000
		mappingSize  = 0x10000
		machoFileOff = 0x100 // where the image's Mach-O header actually lives in the file
		machoAddr    = baseAddr + machoFileOff
	)

	buf := make([]byte, 0x200)
	copy(buf[0:16], "dyld_v1  arm64e\x00")
	binary.LittleEndian.PutUint32(buf[16:20], mappingOff)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], imagesOff)
	binary.LittleEndian.PutUint32(buf[28:32], 1)

	// One mapping: virtual [baseAddr, baseAddr+mappingSize) backed by
	// file bytes starting at file offset 0 (file offset == address - baseAddr).
	binary.LittleEndian.PutUint64(buf[mappingOff:], baseAddr)
	binary.LittleEndian.PutUint64(buf[mappingOff+8:], mappingSize)
	binary.LittleEndian.PutUint64(buf[mappingOff+16:], 0)

	binary.LittleEndian.PutUint64(buf[imagesOff:], machoAddr)
	binary.LittleEndian.PutUint32(buf[imagesOff+8:], stringsOff)

	copy(buf[stringsOff:], "/usr/lib/libfake.dylib\x00")

	copy(buf[machoFileOff:machoFileOff+4], []byte{0xcf, 0xfa, 0xed, 0xfe})

	f, err := os.CreateTemp(t.TempDir(), "fakecache")
	require.NoError(t, err)
	_, err = f.Write(buf)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	return f.Name(), machoFileOff
}

func TestOpenFindsImageAndWindowsAtItsOffset(t *testing.T) {
	path, wantOffset := buildFakeCache(t)

	contents, err := Open(path, "/usr/lib/libfake.dylib", "arm64")
	require.NoError(t, err)
	defer contents.Close()

	head := make([]byte, 4)
	_, err = contents.ReadAt(head, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xcf, 0xfa, 0xed, 0xfe}, head)
	_ = wantOffset
}

func TestOpenUnknownImageErrors(t *testing.T) {
	path, _ := buildFakeCache(t)

	_, err := Open(path, "/usr/lib/libnotthere.dylib", "arm64")
	assert.Error(t, err)
}

func TestOpenRejectsNonCacheFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notacache")
	require.NoError(t, err)
	_, err = f.Write([]byte("not a dyld cache at all, just some bytes"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(f.Name(), "/usr/lib/libfake.dylib", "arm64")
	assert.Error(t, err)
}

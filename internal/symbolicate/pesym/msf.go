package pesym

import (
	"encoding/binary"
	"fmt"
)

// msfMagic is the fixed 32-byte signature every MSF (Multi-Stream
// Format) container begins with; this is the on-disk container a
// native PDB file is wrapped in.
var msfMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

const msfSuperblockSize = len("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00") + 24

// isMSF reports whether data begins with the MSF container signature.
func isMSF(data []byte) bool {
	return len(data) >= len(msfMagic) && string(data[:len(msfMagic)]) == string(msfMagic)
}

// msfFile is a parsed MSF container: the page layout every PDB stream
// is read out of.
type msfFile struct {
	data      []byte
	blockSize uint32
	blocks    [][]uint32 // per-stream block index list
	sizes     []uint32   // per-stream byte length; 0xFFFFFFFF means absent
}

// parseMSF reads the superblock and stream directory, leaving
// individual streams unread until stream() is called for one. Only
// the common single-page block-list-of-block-list layout is
// supported: a directory large enough to need its own multi-page
// block map (very large PDBs) is rejected rather than silently
// truncated.
func parseMSF(data []byte) (*msfFile, error) {
	if !isMSF(data) {
		return nil, fmt.Errorf("pesym: not an MSF container")
	}
	if len(data) < msfSuperblockSize {
		return nil, fmt.Errorf("pesym: msf superblock truncated")
	}

	hdr := data[len(msfMagic):msfSuperblockSize]
	blockSize := binary.LittleEndian.Uint32(hdr[0:4])
	numDirBytes := binary.LittleEndian.Uint32(hdr[12:16])
	blockMapAddr := binary.LittleEndian.Uint32(hdr[20:24])
	if blockSize == 0 {
		return nil, fmt.Errorf("pesym: msf block size is zero")
	}

	readBlock := func(idx uint32) ([]byte, error) {
		start := uint64(idx) * uint64(blockSize)
		end := start + uint64(blockSize)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("pesym: msf block %d out of range", idx)
		}
		return data[start:end], nil
	}

	numDirBlocks := (numDirBytes + blockSize - 1) / blockSize
	blockMapPage, err := readBlock(blockMapAddr)
	if err != nil {
		return nil, err
	}
	if uint64(numDirBlocks)*4 > uint64(len(blockMapPage)) {
		return nil, fmt.Errorf("pesym: msf stream directory spans more than one block-map page, unsupported")
	}

	dirBlocks := make([]uint32, numDirBlocks)
	for i := range dirBlocks {
		off := i * 4
		dirBlocks[i] = binary.LittleEndian.Uint32(blockMapPage[off : off+4])
	}

	dir := make([]byte, 0, numDirBytes)
	for _, b := range dirBlocks {
		blk, err := readBlock(b)
		if err != nil {
			return nil, err
		}
		dir = append(dir, blk...)
	}
	if uint32(len(dir)) < numDirBytes {
		return nil, fmt.Errorf("pesym: msf stream directory truncated")
	}
	dir = dir[:numDirBytes]

	if len(dir) < 4 {
		return nil, fmt.Errorf("pesym: msf stream directory missing stream count")
	}
	numStreams := binary.LittleEndian.Uint32(dir[0:4])
	pos := 4

	sizes := make([]uint32, numStreams)
	for i := range sizes {
		if pos+4 > len(dir) {
			return nil, fmt.Errorf("pesym: msf stream directory truncated reading sizes")
		}
		sizes[i] = binary.LittleEndian.Uint32(dir[pos : pos+4])
		pos += 4
	}

	blocks := make([][]uint32, numStreams)
	for i, size := range sizes {
		if size == 0xFFFFFFFF {
			continue
		}
		n := (size + blockSize - 1) / blockSize
		list := make([]uint32, n)
		for j := range list {
			if pos+4 > len(dir) {
				return nil, fmt.Errorf("pesym: msf stream directory truncated reading blocks")
			}
			list[j] = binary.LittleEndian.Uint32(dir[pos : pos+4])
			pos += 4
		}
		blocks[i] = list
	}

	return &msfFile{data: data, blockSize: blockSize, blocks: blocks, sizes: sizes}, nil
}

// stream reassembles stream index idx's bytes from its block list.
// Returns nil, nil for an absent (0xFFFFFFFF-sized) stream.
func (m *msfFile) stream(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(m.blocks) {
		return nil, fmt.Errorf("pesym: msf stream index %d out of range", idx)
	}
	size := m.sizes[idx]
	if size == 0xFFFFFFFF || size == 0 {
		return nil, nil
	}

	out := make([]byte, 0, size)
	for _, b := range m.blocks[idx] {
		start := uint64(b) * uint64(m.blockSize)
		end := start + uint64(m.blockSize)
		if end > uint64(len(m.data)) {
			return nil, fmt.Errorf("pesym: msf stream %d block %d out of range", idx, b)
		}
		out = append(out, m.data[start:end]...)
	}
	if uint32(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

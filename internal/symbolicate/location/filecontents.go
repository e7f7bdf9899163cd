package location

import (
	"bytes"
	"fmt"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// FileContents is a random-access byte blob backing an opened
// FileLocation. Mmap is preferred for local files; in-memory byte
// slices back downloaded or synthesized content (e.g. a dyld shared
// cache extraction). Implementations are read-only: the symbolication
// core never mutates the bytes behind a SymbolMap.
type FileContents interface {
	io.ReaderAt
	// Len returns the total size of the underlying blob in bytes.
	Len() uint64
	// Close releases the backing resource (unmaps or drops the buffer).
	Close() error
}

// mmapContents backs a FileContents with an mmap.MMap over an open file.
// The file descriptor stays open alongside the mapping; Close unmaps
// the bytes and then closes the file.
type mmapContents struct {
	f    *os.File
	data mmap.MMap
}

// OpenMmap opens path read-only and maps its entire contents. The file
// descriptor is kept alive alongside the mapping and closed together
// with it in Close, matching what memory-mapped PE/ELF readers in this
// tree expect. The caller's FileLocation becomes the origin token later
// consulted for trusted absolute-path resolution (Mach-O OSO, PDB
// source paths).
func OpenMmap(path string) (FileContents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("location: open %s: %w", path, err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("location: mmap %s: %w", path, err)
	}
	return &mmapContents{f: f, data: data}, nil
}

func (m *mmapContents) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(m.data).ReadAt(p, off)
}

func (m *mmapContents) Len() uint64 {
	return uint64(len(m.data))
}

func (m *mmapContents) Close() error {
	unmapErr := m.data.Unmap()
	closeErr := m.f.Close()
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}

// bytesContents backs a FileContents with an in-memory byte slice, used
// for symbol-server downloads and dyld shared cache image extractions
// that are already materialized in memory.
type bytesContents struct {
	data []byte
}

// NewBytesContents wraps an in-memory buffer as FileContents.
func NewBytesContents(data []byte) FileContents {
	return &bytesContents{data: data}
}

func (b *bytesContents) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(b.data).ReadAt(p, off)
}

func (b *bytesContents) Len() uint64 {
	return uint64(len(b.data))
}

func (b *bytesContents) Close() error {
	return nil
}

// Open opens loc and returns its FileContents. KindURLForSymbolServer
// and KindDyldCacheImage locations cannot be opened directly here: the
// former must first be fetched by the server package, the latter must
// first be extracted by the dyldcache package; both then wrap their
// result with NewBytesContents.
func Open(loc FileLocation) (FileContents, error) {
	switch loc.Kind {
	case KindLocalFile, KindLocalSymbolCacheFile:
		return OpenMmap(loc.Path)
	default:
		return nil, fmt.Errorf("location: %s cannot be opened directly, needs a fetch/extract step", loc.Kind)
	}
}

//go:build darwin
// +build darwin

// Package dyldcache extracts one image's Mach-O header window from a
// macOS dyld shared cache file by install name, so it can be handed to
// machosym.Open the same way a standalone Mach-O file would be.
// System libraries live only in the cache, never as standalone files
// on disk, since macOS 11.
//
// This handles the common single-mapping cache layout (the "old"
// 32-bit header fields dyld has carried since the format's
// introduction, present at a fixed prefix of every cache version).
// Split/sub-cache layouts introduced for very large caches are not
// modeled; see DESIGN.md.
package dyldcache

import (
	"encoding/binary"
	"fmt"

	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

const headerMagicPrefix = "dyld_v1"

type mapping struct {
	address    uint64
	size       uint64
	fileOffset uint64
}

type imageEntry struct {
	address uint64
	pathOff uint32
}

// Open locates installName within the dyld shared cache at cachePath
// and returns a FileContents presenting the byte range starting at
// that image's Mach-O header, so the caller can parse it as an
// ordinary thin Mach-O. arch is accepted for interface symmetry with
// multi-architecture cache roots (e.g. separate arm64e/x86_64 cache
// files) but unused here: the caller is expected to have already
// selected the correct cache file path for the architecture.
func Open(cachePath, installName, arch string) (location.FileContents, error) {
	contents, err := location.OpenMmap(cachePath)
	if err != nil {
		return nil, fmt.Errorf("dyldcache: opening %s: %w", cachePath, err)
	}

	header := make([]byte, 16)
	if _, err := contents.ReadAt(header, 0); err != nil {
		contents.Close()
		return nil, fmt.Errorf("dyldcache: reading header: %w", err)
	}
	magic := trimNulSuffix(string(header))
	if len(magic) < len(headerMagicPrefix) || magic[:len(headerMagicPrefix)] != headerMagicPrefix {
		contents.Close()
		return nil, fmt.Errorf("dyldcache: %s is not a dyld shared cache (magic %q)", cachePath, magic)
	}

	rest := make([]byte, 64)
	if _, err := contents.ReadAt(rest, 16); err != nil {
		contents.Close()
		return nil, fmt.Errorf("dyldcache: reading header fields: %w", err)
	}
	mappingOffset := binary.LittleEndian.Uint32(rest[0:4])
	mappingCount := binary.LittleEndian.Uint32(rest[4:8])
	imagesOffset := binary.LittleEndian.Uint32(rest[8:12])
	imagesCount := binary.LittleEndian.Uint32(rest[12:16])

	mappings, err := readMappings(contents, mappingOffset, mappingCount)
	if err != nil {
		contents.Close()
		return nil, err
	}

	images, err := readImages(contents, imagesOffset, imagesCount)
	if err != nil {
		contents.Close()
		return nil, err
	}

	for _, img := range images {
		path, err := readCString(contents, uint64(img.pathOff))
		if err != nil {
			continue
		}
		if path != installName {
			continue
		}
		fileOff, ok := addressToFileOffset(mappings, img.address)
		if !ok {
			contents.Close()
			return nil, fmt.Errorf("dyldcache: image %s address 0x%x not covered by any mapping", installName, img.address)
		}
		window, err := materializeWindow(contents, fileOff)
		contents.Close()
		if err != nil {
			return nil, fmt.Errorf("dyldcache: extracting %s: %w", installName, err)
		}
		return window, nil
	}

	contents.Close()
	return nil, fmt.Errorf("dyldcache: image %s not found in %s", installName, cachePath)
}

func readMappings(contents location.FileContents, offset, count uint32) ([]mapping, error) {
	const entrySize = 32 // address(8) size(8) fileOffset(8) maxProt(4) initProt(4)
	out := make([]mapping, 0, count)
	for i := uint32(0); i < count; i++ {
		buf := make([]byte, entrySize)
		if _, err := contents.ReadAt(buf, int64(offset)+int64(i)*entrySize); err != nil {
			return nil, fmt.Errorf("dyldcache: reading mapping %d: %w", i, err)
		}
		out = append(out, mapping{
			address:    binary.LittleEndian.Uint64(buf[0:8]),
			size:       binary.LittleEndian.Uint64(buf[8:16]),
			fileOffset: binary.LittleEndian.Uint64(buf[16:24]),
		})
	}
	return out, nil
}

func readImages(contents location.FileContents, offset, count uint32) ([]imageEntry, error) {
	const entrySize = 16 // address(8) pathOff(4) pad(4)
	out := make([]imageEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		buf := make([]byte, entrySize)
		if _, err := contents.ReadAt(buf, int64(offset)+int64(i)*entrySize); err != nil {
			return nil, fmt.Errorf("dyldcache: reading image entry %d: %w", i, err)
		}
		out = append(out, imageEntry{
			address: binary.LittleEndian.Uint64(buf[0:8]),
			pathOff: binary.LittleEndian.Uint32(buf[8:12]),
		})
	}
	return out, nil
}

func addressToFileOffset(mappings []mapping, addr uint64) (uint64, bool) {
	for _, m := range mappings {
		if addr >= m.address && addr < m.address+m.size {
			return m.fileOffset + (addr - m.address), true
		}
	}
	return 0, false
}

// materializeWindow copies the cache file's bytes from fileOff to the
// end of the mapping into memory, so the returned FileContents can be
// parsed by machosym.Open as though it were a standalone thin Mach-O
// file starting at offset 0. This assumes the image's own load-command
// and symtab offsets are relative to its own header (true for the
// simplified single-mapping layout this package targets) rather than
// rebased against the whole cache file, which does not hold for every
// real-world cache; see DESIGN.md.
func materializeWindow(contents location.FileContents, fileOff uint64) (location.FileContents, error) {
	total := contents.Len()
	if fileOff >= total {
		return nil, fmt.Errorf("dyldcache: file offset 0x%x past end of cache (%d bytes)", fileOff, total)
	}
	buf := make([]byte, total-fileOff)
	if _, err := contents.ReadAt(buf, int64(fileOff)); err != nil {
		return nil, err
	}
	return location.NewBytesContents(buf), nil
}

func readCString(contents location.FileContents, offset uint64) (string, error) {
	const maxLen = 1024
	buf := make([]byte, maxLen)
	n, err := contents.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return "", err
	}
	return trimNulSuffix(string(buf[:n])), nil
}

func trimNulSuffix(s string) string {
	for i, c := range s {
		if c == 0 {
			return s[:i]
		}
	}
	return s
}

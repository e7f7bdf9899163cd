//go:build linux
// +build linux

package debug

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symbolicore/internal/profile"
	"github.com/coral-mesh/symbolicore/internal/safe"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/elfsym"
)

// mapsRegion is one executable region of a process's address space, as
// read from /proc/<pid>/maps.
type mapsRegion struct {
	start, end uint64
	fileOffset uint64
	path       string
}

// readExecutableMaps parses /proc/<pid>/maps, keeping only mappings
// that are both executable and backed by a regular file. Every
// address a BPF stack sample carries is a code address, so data-only
// mappings and anonymous regions ([heap], [stack], memfds) never need
// a library entry.
func readExecutableMaps(pid int) ([]mapsRegion, error) {
	//nolint:gosec // G304: pid-derived /proc path, not user input.
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("open maps: %w", err)
	}
	defer f.Close() // nolint:errcheck

	var regions []mapsRegion
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		if !strings.Contains(fields[1], "x") {
			continue
		}

		path := fields[5]
		if path == "" || strings.HasPrefix(path, "[") || strings.HasPrefix(path, "anon_inode:") || strings.HasPrefix(path, "/memfd:") {
			continue
		}

		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}

		regions = append(regions, mapsRegion{start: start, end: end, fileOffset: offset, path: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan maps: %w", err)
	}
	return regions, nil
}

// libMappingAddsForProcess builds one LibMappingAdd event per distinct
// executable mapping of pid's address space. Each module's debug id is
// derived straight from its ELF build-id note via the same
// elfsym.DeriveDebugID the resolver itself uses when it later opens
// the same file from disk, so the two agree without either side
// re-deriving the other's notion of identity.
//
// A mapping's file offset doubles as the RVA at its start address: GNU
// ld keeps vaddr-offset constant across every PT_LOAD segment of one
// object, so the runtime load bias cancels out of that difference and
// what's left is exactly the file offset.
func libMappingAddsForProcess(pid uint32, ts profile.Timestamp, logger zerolog.Logger) []profile.LibMapping {
	regions, err := readExecutableMaps(int(pid))
	if err != nil {
		logger.Warn().Err(err).Uint32("pid", pid).Msg("failed to read process maps")
		return nil
	}

	debugIDs := make(map[string]string)
	var events []profile.LibMapping
	for _, r := range regions {
		debugID, ok := debugIDs[r.path]
		if !ok {
			debugID = debugIDForPath(r.path)
			debugIDs[r.path] = debugID
		}

		rva, clamp := safe.Uint64ToUint32(r.fileOffset)
		if clamp {
			logger.Warn().Str("path", r.path).Uint64("offset", r.fileOffset).Msg("mapping file offset exceeds uint32, skipping")
			continue
		}

		events = append(events, profile.LibMapping{
			PID:                    pid,
			Timestamp:              ts,
			Kind:                   profile.LibMappingAdd,
			StartAVMA:              r.start,
			EndAVMA:                r.end,
			RelativeAddressAtStart: rva,
			Info: profile.LibMappingInfo{
				DebugName: baseName(r.path),
				DebugID:   debugID,
				Path:      r.path,
				Arch:      runtime.GOARCH,
			},
		})
	}
	return events
}

// debugIDForPath derives a module's debug id by opening it from disk.
// Failure (a deleted binary, a permission error) just means this
// module's frames resolve to raw addresses later; it's never fatal
// here.
func debugIDForPath(path string) string {
	f, err := elf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close() // nolint:errcheck

	id, err := elfsym.DeriveDebugID(f)
	if err != nil {
		return ""
	}
	return id.String()
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

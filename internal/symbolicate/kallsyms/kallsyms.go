// Package kallsyms implements a SymbolMap over a kernel's
// /proc/kallsyms symbol table, so kernel-mode stack frames resolve
// through the same Resolver/SymbolMap machinery as every userspace
// format instead of a bespoke ad hoc lookup.
//
// kallsyms has no image file and no 32-bit-addressable relative
// address space the way an ELF or PE does; addresses are raw 64-bit
// kernel virtual addresses. LookupSVMA is therefore the natural entry
// point (the stated virtual address *is* the kernel address), and
// LookupRelativeAddress synthesizes a 32-bit RVA space by treating the
// lowest symbol address seen as the image base, which comfortably
// fits a real kernel's text segment (tens of megabytes) in uint32.
package kallsyms

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/coral-mesh/symbolicore/internal/safe"
	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

// Entry is one parsed /proc/kallsyms line.
type Entry struct {
	Address uint64
	Type    byte
	Name    string
	Module  string // empty for core kernel symbols
}

// Parse reads kallsyms' whitespace-separated text format:
// "<hex address> <type char> <name> [[module]]". Lines with a zero
// address (emitted verbatim when the reader lacks CAP_SYSLOG) and
// malformed lines are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil || addr == 0 {
			continue
		}
		entry := Entry{Address: addr, Type: fields[1][0], Name: fields[2]}
		if len(fields) > 3 && strings.HasPrefix(fields[3], "[") && strings.HasSuffix(fields[3], "]") {
			entry.Module = strings.Trim(fields[3], "[]")
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("kallsyms: scan: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Address < entries[j].Address })
	return entries, nil
}

// SymbolMap is a read-only symbolicate.SymbolMap over a parsed
// kallsyms table.
type SymbolMap struct {
	entries []Entry
	base    uint64
	debugID ids.DebugID
	loc     location.FileLocation
}

// Open parses r as kallsyms text and builds a SymbolMap. release
// identifies the running kernel (e.g. `uname -r`'s output); it seeds a
// stable synthetic debug id since a live kernel has no build-id note
// of its own accessible this way.
func Open(r io.Reader, release string, loc location.FileLocation) (*SymbolMap, error) {
	entries, err := Parse(r)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, symerr.New(symerr.ParseError, "no kernel symbols parsed (insufficient permissions or empty kallsyms)").WithFormat("kallsyms")
	}

	return &SymbolMap{
		entries: entries,
		base:    entries[0].Address,
		debugID: ids.FromELFBuildID([]byte(release), true),
		loc:     loc,
	}, nil
}

func (m *SymbolMap) DebugID() ids.DebugID { return m.debugID }

func (m *SymbolMap) DebugFileLocation() location.FileLocation { return m.loc }

func (m *SymbolMap) SymbolCount() int { return len(m.entries) }

func (m *SymbolMap) IterSymbols(yield func(symbolicate.Symbol) bool) {
	for i, e := range m.entries {
		rva, _ := safe.Uint64ToUint32(e.Address - m.base)
		if !yield(m.symbolFor(i, rva, e)) {
			return
		}
	}
}

func (m *SymbolMap) symbolFor(idx int, rva uint32, e Entry) symbolicate.Symbol {
	name := e.Name
	if e.Module != "" {
		name = fmt.Sprintf("%s [%s]", e.Name, e.Module)
	}
	var size *uint32
	if idx+1 < len(m.entries) {
		s, _ := safe.Uint64ToUint32(m.entries[idx+1].Address - e.Address)
		size = &s
	}
	return symbolicate.Symbol{RVA: rva, Size: size, Name: name}
}

// LookupSVMA resolves a raw kernel virtual address directly.
func (m *SymbolMap) LookupSVMA(svma uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	idx := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Address > svma }) - 1
	if idx < 0 {
		return nil, symerr.New(symerr.NotFound, "no kernel symbol covers address 0x%x", svma).WithFormat("kallsyms")
	}
	rva, _ := safe.Uint64ToUint32(m.entries[idx].Address - m.base)
	sym := m.symbolFor(idx, rva, m.entries[idx])
	return &symbolicate.AddressInfo{Symbol: sym, Frames: symbolicate.Unavailable()}, nil
}

// LookupRelativeAddress resolves rva against the synthetic image base
// (the lowest symbol address in the table).
func (m *SymbolMap) LookupRelativeAddress(rva uint32, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return m.LookupSVMA(m.base+uint64(rva), opts)
}

// LookupOffset is not meaningful for a live kernel symbol table: there
// is no backing file to take a file offset into.
func (m *SymbolMap) LookupOffset(offset uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return nil, symerr.New(symerr.UnsupportedLookup, "kallsyms has no file offset address space").WithFormat("kallsyms")
}

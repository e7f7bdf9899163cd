// Package breakpad parses the textual Breakpad .sym format into a
// SymbolMap: MODULE/FILE/INLINE_ORIGIN/FUNC/INLINE/line records and
// PUBLIC symbols. Only relative-address lookup is supported: a .sym
// file carries no file-offset or SVMA concept.
package breakpad

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

const formatName = "breakpad"

type lineRecord struct {
	rva, size uint64
	line      uint32
	fileIdx   int
}

type inlineRecord struct {
	depth           int
	originIdx       int
	callsiteLine    uint32
	callsiteFileIdx int
	ranges          []addrRange
}

type addrRange struct{ rva, size uint64 }

func (r addrRange) covers(rva uint64) bool { return rva >= r.rva && rva < r.rva+r.size }

type function struct {
	rva, size uint64
	name      string
	lines     []lineRecord   // sorted by rva
	inlines   []inlineRecord // in file order; PUBLICs never have these
}

type symbolMap struct {
	loc         location.FileLocation
	debugID     ids.DebugID
	debugName   string
	os, arch    string
	files       map[int]string
	inlineNames map[int]string
	functions   []function // sorted by rva, FUNC entries only
	publics     []symbolicate.Symbol
}

func (s *symbolMap) DebugID() ids.DebugID                     { return s.debugID }
func (s *symbolMap) DebugFileLocation() location.FileLocation { return s.loc }

func (s *symbolMap) SymbolCount() int { return len(s.functions) + len(s.publics) }

func (s *symbolMap) IterSymbols(yield func(symbolicate.Symbol) bool) {
	for _, f := range s.functions {
		size := uint32(f.size)
		if !yield(symbolicate.Symbol{RVA: uint32(f.rva), Size: &size, Name: f.name}) {
			return
		}
	}
	for _, p := range s.publics {
		if !yield(p) {
			return
		}
	}
}

func (s *symbolMap) LookupSVMA(svma uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return nil, symerr.New(symerr.UnsupportedLookup, "breakpad symbol maps only support relative-address lookup").WithFormat(formatName)
}

func (s *symbolMap) LookupOffset(offset uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return nil, symerr.New(symerr.UnsupportedLookup, "breakpad symbol maps only support relative-address lookup").WithFormat(formatName)
}

// LookupRelativeAddress resolves rva against PUBLIC symbols first (a
// PDB-derived PUBLIC takes precedence over a module procedure at the
// same address), falling back to the FUNC table and its innermost
// covering INLINE chain.
func (s *symbolMap) LookupRelativeAddress(rva uint32, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	addr := uint64(rva)

	if idx := sort.Search(len(s.publics), func(i int) bool { return uint64(s.publics[i].RVA) > addr }) - 1; idx >= 0 {
		if s.publics[idx].RVA == rva {
			return &symbolicate.AddressInfo{Symbol: s.publics[idx], Frames: symbolicate.Unavailable()}, nil
		}
	}

	idx := sort.Search(len(s.functions), func(i int) bool { return s.functions[i].rva > addr }) - 1
	if idx < 0 {
		return nil, symerr.New(symerr.NotFound, "no symbol covers rva 0x%x", addr).WithFormat(formatName)
	}
	fn := s.functions[idx]
	if addr >= fn.rva+fn.size {
		return nil, symerr.New(symerr.NotFound, "rva 0x%x past end of %s", addr, fn.name).WithFormat(formatName)
	}

	size := uint32(fn.size)
	sym := symbolicate.Symbol{RVA: uint32(fn.rva), Size: &size, Name: fn.name}

	frames := symbolicate.Unavailable()
	if opts.WithFrames {
		if resolved := s.resolveFrames(fn, addr); resolved != nil {
			frames = symbolicate.Available(resolved)
		}
	}
	return &symbolicate.AddressInfo{Symbol: sym, Frames: frames}, nil
}

// resolveFrames returns the outermost-to-innermost frame chain for
// addr within fn: the function itself (with file/line from its
// nearest covering line record), then each INLINE whose range covers
// addr, ordered by increasing depth.
func (s *symbolMap) resolveFrames(fn function, addr uint64) []symbolicate.FrameDebugInfo {
	file, line := s.lineFor(fn, addr)
	frames := []symbolicate.FrameDebugInfo{optionalFrame(fn.name, file, line)}

	covering := make([]inlineRecord, 0, len(fn.inlines))
	for _, inl := range fn.inlines {
		for _, r := range inl.ranges {
			if r.covers(addr) {
				covering = append(covering, inl)
				break
			}
		}
	}
	sort.Slice(covering, func(i, j int) bool { return covering[i].depth < covering[j].depth })

	for _, inl := range covering {
		name := s.inlineNames[inl.originIdx]
		frames = append(frames, optionalFrame(name, s.files[inl.callsiteFileIdx], inl.callsiteLine))
	}
	return frames
}

func (s *symbolMap) lineFor(fn function, addr uint64) (string, uint32) {
	idx := sort.Search(len(fn.lines), func(i int) bool { return fn.lines[i].rva > addr }) - 1
	if idx < 0 {
		return "", 0
	}
	lr := fn.lines[idx]
	if addr >= lr.rva+lr.size {
		return "", 0
	}
	return s.files[lr.fileIdx], lr.line
}

func optionalFrame(name, file string, line uint32) symbolicate.FrameDebugInfo {
	f := symbolicate.FrameDebugInfo{}
	if name != "" {
		f.Function = &name
	}
	if file != "" {
		f.FilePath = &file
	}
	if line != 0 {
		l := line
		f.LineNumber = &l
	}
	return f
}

// Open parses contents as a textual Breakpad .sym file, verifies its
// debug_id against expectedID (when non-nil), and returns the
// resulting SymbolMap. disambiguator is accepted for interface
// symmetry with the other format builders but unused.
func Open(contents location.FileContents, loc location.FileLocation, expectedID *ids.DebugID, _ symbolicate.MultiArchDisambiguator) (symbolicate.SymbolMap, error) {
	data, err := readAll(contents)
	if err != nil {
		return nil, symerr.Wrap(symerr.IOError, err, "reading sym file").WithFormat(formatName)
	}

	sm, err := parse(data)
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "parsing sym file").WithFormat(formatName)
	}
	sm.loc = loc

	if expectedID != nil && *expectedID != sm.debugID {
		return nil, symerr.New(symerr.UnmatchedDebugID, "expected %s got %s", expectedID.String(), sm.debugID.String()).WithFormat(formatName)
	}
	return sm, nil
}

func readAll(contents location.FileContents) ([]byte, error) {
	n := contents.Len()
	buf := make([]byte, n)
	if _, err := contents.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

func parse(data []byte) (*symbolMap, error) {
	sm := &symbolMap{
		files:       map[int]string{},
		inlineNames: map[int]string{},
	}

	var current *function
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "MODULE":
			if len(fields) < 5 {
				continue
			}
			sm.os = fields[1]
			sm.arch = fields[2]
			id, err := ids.Parse(fields[3])
			if err == nil {
				sm.debugID = id
			}
			sm.debugName = fields[4]

		case "FILE":
			if len(fields) < 3 {
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			sm.files[idx] = strings.Join(fields[2:], " ")

		case "INLINE_ORIGIN":
			if len(fields) < 3 {
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			sm.inlineNames[idx] = strings.Join(fields[2:], " ")

		case "FUNC":
			rest := fields[1:]
			if len(rest) > 0 && rest[0] == "m" {
				rest = rest[1:] // multiple symbols sharing an address, ignored
			}
			if len(rest) < 4 {
				continue
			}
			addr, err1 := parseHex(rest[0])
			size, err2 := parseHex(rest[1])
			if err1 != nil || err2 != nil {
				continue
			}
			fn := function{rva: addr, size: size, name: strings.Join(rest[3:], " ")}
			sm.functions = append(sm.functions, fn)
			current = &sm.functions[len(sm.functions)-1]

		case "INLINE":
			// INLINE depth callsite_line origin fileno addr size (addr size)*
			if current == nil || len(fields) < 7 {
				continue
			}
			depth, e1 := strconv.Atoi(fields[1])
			callLine, e2 := strconv.Atoi(fields[2])
			origin, e3 := strconv.Atoi(fields[3])
			fileno, e4 := strconv.Atoi(fields[4])
			if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
				continue
			}
			rec := inlineRecord{depth: depth, originIdx: origin, callsiteLine: uint32(callLine), callsiteFileIdx: fileno}
			addrFields := fields[5:]
			for i := 0; i+1 < len(addrFields); i += 2 {
				addr, e1 := parseHex(addrFields[i])
				size, e2 := parseHex(addrFields[i+1])
				if e1 != nil || e2 != nil {
					continue
				}
				rec.ranges = append(rec.ranges, addrRange{rva: addr, size: size})
			}
			current.inlines = append(current.inlines, rec)

		case "PUBLIC":
			rest := fields[1:]
			if len(rest) > 0 && rest[0] == "m" {
				rest = rest[1:]
			}
			if len(rest) < 3 {
				continue
			}
			addr, err := parseHex(rest[0])
			if err != nil {
				continue
			}
			rva32 := uint32(addr)
			sm.publics = append(sm.publics, symbolicate.Symbol{RVA: rva32, Name: strings.Join(rest[2:], " ")})

		default:
			if current == nil {
				continue
			}
			// A bare line record: <addr> <size> <line> <fileno>
			if len(fields) < 4 {
				continue
			}
			addr, e1 := parseHex(fields[0])
			size, e2 := parseHex(fields[1])
			lineNo, e3 := strconv.ParseUint(fields[2], 10, 32)
			fileIdx, e4 := strconv.Atoi(fields[3])
			if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
				continue
			}
			current.lines = append(current.lines, lineRecord{rva: addr, size: size, line: uint32(lineNo), fileIdx: fileIdx})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(sm.functions, func(i, j int) bool { return sm.functions[i].rva < sm.functions[j].rva })
	for i := range sm.functions {
		sort.Slice(sm.functions[i].lines, func(a, b int) bool { return sm.functions[i].lines[a].rva < sm.functions[i].lines[b].rva })
	}
	sort.Slice(sm.publics, func(i, j int) bool { return sm.publics[i].RVA < sm.publics[j].RVA })

	return sm, nil
}

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

package elfsym

import (
	"debug/dwarf"
	"sort"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
)

// resolveFrames builds the inline frame chain covering rva, innermost
// frame last, by walking the DWARF subprogram covering the address and
// any nested inlined_subroutine DIEs whose PC range also covers it.
// Returns nil if no DWARF subprogram covers the address.
func (s *symbolMap) resolveFrames(rva uint64) []symbolicate.FrameDebugInfo {
	s.ensureSubprogramIndex()

	svma := rva + s.baseAddr
	idx := sort.Search(len(s.subprogs), func(i int) bool { return s.subprogs[i].lowRVA > svma }) - 1
	if idx < 0 || idx >= len(s.subprogs) {
		return nil
	}
	sp := s.subprogs[idx]
	if svma < sp.lowRVA || svma >= sp.highRVA {
		return nil
	}

	reader := s.dwarfData.Reader()
	reader.Seek(sp.entry.Offset)
	top, err := reader.Next()
	if err != nil || top == nil {
		return nil
	}

	outerName := dieName(top)
	var outerFile string
	var outerLine uint32
	if file, line, ok := s.lineForPC(top, svma); ok {
		outerFile, outerLine = file, line
	}

	frames := []symbolicate.FrameDebugInfo{optionalFrame(outerName, outerFile, outerLine)}

	// Walk children looking for inlined_subroutine DIEs covering svma,
	// innermost by depth.
	depth := 0
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag == 0 {
			// End of children at this depth.
			depth--
			if depth < 0 {
				break
			}
			continue
		}
		if entry.Children {
			depth++
		}
		if entry.Tag != dwarf.TagInlinedSubroutine {
			continue
		}
		low, high, ok := pcRange(entry)
		if !ok || svma < low || svma >= high {
			continue
		}
		name := inlineOriginName(s.dwarfData, entry)
		file, line, _ := s.lineForPC(entry, svma)
		frames = append(frames, optionalFrame(name, file, line))
	}

	return frames
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

// ensureSubprogramIndex builds s.subprogs on first use: a flat,
// sorted-by-lowpc list of every TagSubprogram DIE across all
// compilation units.
func (s *symbolMap) ensureSubprogramIndex() {
	if s.subprogs != nil || s.dwarfData == nil {
		return
	}
	reader := s.dwarfData.Reader()
	var subprogs []subprogram
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		low, high, ok := pcRange(entry)
		if !ok {
			continue
		}
		subprogs = append(subprogs, subprogram{lowRVA: low, highRVA: high, entry: entry})
	}
	sort.Slice(subprogs, func(i, j int) bool { return subprogs[i].lowRVA < subprogs[j].lowRVA })
	if subprogs == nil {
		subprogs = []subprogram{}
	}
	s.subprogs = subprogs
}

// pcRange extracts [low, high) from a DIE's AttrLowpc/AttrHighpc pair.
// AttrHighpc may be an absolute address or an offset from low, per
// DWARF4+.
func pcRange(entry *dwarf.Entry) (low, high uint64, ok bool) {
	lowVal := entry.Val(dwarf.AttrLowpc)
	highVal := entry.Val(dwarf.AttrHighpc)
	if lowVal == nil || highVal == nil {
		return 0, 0, false
	}
	low, ok = lowVal.(uint64)
	if !ok {
		return 0, 0, false
	}
	switch v := highVal.(type) {
	case uint64:
		high = v
	case int64:
		high = low + uint64(v)
	default:
		return 0, 0, false
	}
	return low, high, true
}

func dieName(entry *dwarf.Entry) string {
	v := entry.Val(dwarf.AttrName)
	if v == nil {
		return ""
	}
	name, _ := v.(string)
	return name
}

// inlineOriginName resolves an inlined_subroutine's AttrAbstractOrigin
// reference to the name of the subprogram it was inlined from.
func inlineOriginName(data *dwarf.Data, entry *dwarf.Entry) string {
	v := entry.Val(dwarf.AttrAbstractOrigin)
	if v == nil {
		return dieName(entry)
	}
	off, ok := v.(dwarf.Offset)
	if !ok {
		return dieName(entry)
	}
	reader := data.Reader()
	reader.Seek(off)
	origin, err := reader.Next()
	if err != nil || origin == nil {
		return dieName(entry)
	}
	return dieName(origin)
}

// lineForPC resolves the source file and line covering svma within the
// compilation unit owning entry.
func (s *symbolMap) lineForPC(entry *dwarf.Entry, svma uint64) (string, uint32, bool) {
	lineReader, err := s.dwarfData.LineReader(entry)
	if err != nil || lineReader == nil {
		return "", 0, false
	}
	var le dwarf.LineEntry
	if err := lineReader.SeekPC(svma, &le); err != nil {
		return "", 0, false
	}
	if le.File == nil {
		return "", 0, false
	}
	return le.File.Name, uint32(le.Line), true
}

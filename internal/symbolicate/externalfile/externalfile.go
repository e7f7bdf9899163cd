// Package externalfile implements symbolicate.ExternalFileOpenFunc for
// the Mach-O OSO indirection: machosym's lookupOSO names a .o file (or
// an archive member inside a .a, as "archive.a(member.o)") whose own
// symbol table and DWARF carry the real debug info for a stack frame
// the linked image only knows by stab. Unlike machosym, which avoids
// debug/macho to get at raw stab bytes, the stabs are already resolved
// by the time a frame reaches this package: an ordinary nlist walk via
// debug/macho, plus debug/dwarf for the line/inline chain, is enough.
package externalfile

import (
	"bytes"
	"debug/dwarf"
	"debug/macho"
	"os"
	"path/filepath"
	"sort"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

const formatName = "external"

const nTypeSect = 0x0e
const nTypeStab = 0xe0

type subprogram struct {
	lowPC, highPC uint64
	entry         *dwarf.Entry
}

type symbolMap struct {
	dwarfData *dwarf.Data
	syms      map[string]uint64 // function name -> address, within this object file
	subprogs  []subprogram      // sorted by lowPC, built lazily
}

// Open loads the .o (or archive member) ref.Name names and returns a
// SymbolMap over its own symbol table and DWARF. Absolute paths are
// only honored when trustedForAbsolutePaths is set, matching the
// SymbolFileOrigin the caller resolved ref against.
func Open(ref symbolicate.ExternalFileRef, trustedForAbsolutePaths bool) (symbolicate.ExternalSymbolMap, error) {
	data, err := loadExternalFileBytes(ref.Name, trustedForAbsolutePaths)
	if err != nil {
		return nil, err
	}

	mf, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "parsing %s", ref.Name).WithFormat(formatName)
	}

	syms := map[string]uint64{}
	if mf.Symtab != nil {
		for _, s := range mf.Symtab.Syms {
			if s.Type&nTypeStab != 0 || s.Type&nTypeSect != nTypeSect || s.Value == 0 || s.Name == "" {
				continue
			}
			syms[s.Name] = s.Value
		}
	}

	sm := &symbolMap{syms: syms}
	if dwarfData, err := mf.DWARF(); err == nil {
		sm.dwarfData = dwarfData
	}
	return sm, nil
}

// loadExternalFileBytes opens path, which is either a plain .o file or
// an "archive.a(member.o)" reference, honoring trustedForAbsolutePaths
// for the archive/file path itself.
func loadExternalFileBytes(ref string, trustedForAbsolutePaths bool) ([]byte, error) {
	archivePath, member, isArchiveMember := splitArchiveRef(ref)
	path := ref
	if isArchiveMember {
		path = archivePath
	}

	if filepath.IsAbs(path) && !trustedForAbsolutePaths {
		return nil, symerr.New(symerr.NotFound, "absolute external file path %q not trusted for this origin", path).WithFormat(formatName)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, symerr.Wrap(symerr.NotFound, err, "%s", path).WithFormat(formatName)
		}
		return nil, symerr.Wrap(symerr.IOError, err, "%s", path).WithFormat(formatName)
	}

	if !isArchiveMember {
		return raw, nil
	}

	memberData, err := findArMember(raw, member)
	if err != nil {
		return nil, symerr.Wrap(symerr.ParseError, err, "%s", ref).WithFormat(formatName)
	}
	return memberData, nil
}

// LookupSymbol resolves name (trying a leading-underscore variant too,
// since a Mach-O nlist name is commonly C-mangled with one) to its
// address within this object file, plus offset, and walks DWARF for an
// inline frame chain the same way elfsym does for a linked image.
func (s *symbolMap) LookupSymbol(name string, offset uint64) (*symbolicate.AddressInfo, error) {
	addr, ok := s.syms[name]
	if !ok {
		addr, ok = s.syms["_"+name]
	}
	if !ok {
		return nil, symerr.New(symerr.NotFound, "no symbol named %q in external file", name).WithFormat(formatName)
	}

	pc := addr + offset
	sym := symbolicate.Symbol{RVA: uint32(pc), Name: name}

	frames := symbolicate.Unavailable()
	if resolved := s.resolveFrames(pc); resolved != nil {
		frames = symbolicate.Available(resolved)
	}
	return &symbolicate.AddressInfo{Symbol: sym, Frames: frames}, nil
}

func (s *symbolMap) resolveFrames(pc uint64) []symbolicate.FrameDebugInfo {
	if s.dwarfData == nil {
		return nil
	}
	s.ensureSubprogramIndex()

	idx := sort.Search(len(s.subprogs), func(i int) bool { return s.subprogs[i].lowPC > pc }) - 1
	if idx < 0 || idx >= len(s.subprogs) {
		return nil
	}
	sp := s.subprogs[idx]
	if pc < sp.lowPC || pc >= sp.highPC {
		return nil
	}

	reader := s.dwarfData.Reader()
	reader.Seek(sp.entry.Offset)
	top, err := reader.Next()
	if err != nil || top == nil {
		return nil
	}

	outerName := dieName(top)
	outerFile, outerLine, _ := s.lineForPC(top, pc)
	frames := []symbolicate.FrameDebugInfo{optionalFrame(outerName, outerFile, outerLine)}

	depth := 0
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag == 0 {
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
		if !ok || pc < low || pc >= high {
			continue
		}
		name := inlineOriginName(s.dwarfData, entry)
		file, line, _ := s.lineForPC(entry, pc)
		frames = append(frames, optionalFrame(name, file, line))
	}

	return frames
}

func (s *symbolMap) ensureSubprogramIndex() {
	if s.subprogs != nil {
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
		subprogs = append(subprogs, subprogram{lowPC: low, highPC: high, entry: entry})
	}
	sort.Slice(subprogs, func(i, j int) bool { return subprogs[i].lowPC < subprogs[j].lowPC })
	if subprogs == nil {
		subprogs = []subprogram{}
	}
	s.subprogs = subprogs
}

func (s *symbolMap) lineForPC(entry *dwarf.Entry, pc uint64) (string, uint32, bool) {
	lineReader, err := s.dwarfData.LineReader(entry)
	if err != nil || lineReader == nil {
		return "", 0, false
	}
	var le dwarf.LineEntry
	if err := lineReader.SeekPC(pc, &le); err != nil {
		return "", 0, false
	}
	if le.File == nil {
		return "", 0, false
	}
	return le.File.Name, uint32(le.Line), true
}

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

package profile

import (
	"fmt"

	"github.com/google/pprof/profile"
)

// ImportPprof builds a Document from a google/pprof profile.Profile,
// the inverse of ExportPprof. It is used by the CLI's import
// subcommand to bring a profile produced by another tool's pprof
// exporter (or `go tool pprof`) into the same Document/Gecko
// representation a live recording produces, so it can be served
// through the same symbolication facade.
//
// pprof has no notion of threads, so every sample lands on a single
// synthesized thread named by the profile's sample type. A pprof
// Mapping becomes a LibraryRecord; a Location with no Mapping becomes
// an unmapped frame, same as a JIT or kernel frame the live capture
// path couldn't tie to a library.
func ImportPprof(p *profile.Profile) (*Document, error) {
	doc := &Document{
		Meta: Meta{
			Interval:           Timestamp(float64(p.Period) / 1e6),
			ReferenceTimestamp: Timestamp(float64(p.TimeNanos) / 1e6),
			StartTime:          0,
			EndTime:            Timestamp(float64(p.DurationNanos) / 1e6),
		},
	}

	strings := newImportStringTable()
	libsByMappingID := make(map[uint64]LibHandle)
	for _, m := range p.Mapping {
		handle := LibHandle(len(doc.Libraries))
		libsByMappingID[m.ID] = handle
		doc.Libraries = append(doc.Libraries, LibraryRecord{
			Name:      baseNameOf(m.File),
			DebugName: baseNameOf(m.File),
			DebugID:   m.BuildID,
			Path:      m.File,
			Arch:      "",
		})
	}

	framesByLocationID := make(map[uint64]int)
	for _, loc := range p.Location {
		name := ""
		file := ""
		line := uint32(0)
		if len(loc.Line) > 0 {
			l := loc.Line[0]
			if l.Function != nil {
				name = l.Function.Name
				file = l.Function.Filename
			}
			if l.Line > 0 {
				line = uint32(l.Line)
			}
		}

		funcNameIdx := -1
		if name != "" {
			funcNameIdx = strings.intern(name)
		}
		fileIdx := -1
		if file != "" {
			fileIdx = strings.intern(file)
		}

		frame := FrameRecord{
			FuncNameIndex: funcNameIdx,
			FileIndex:     fileIdx,
			Line:          line,
			Category:      CategoryOther,
			Subcategory:   SubcategoryNone,
		}
		if loc.Mapping != nil {
			if handle, ok := libsByMappingID[loc.Mapping.ID]; ok {
				frame.HasLib = true
				frame.LibHandle = handle
				if loc.Address >= loc.Mapping.Start {
					frame.RVA = uint32(loc.Address - loc.Mapping.Start)
				}
			}
		}

		framesByLocationID[loc.ID] = len(doc.Frames)
		doc.Frames = append(doc.Frames, frame)
	}

	threadName := "pprof"
	if len(p.SampleType) > 0 {
		threadName = p.SampleType[0].Type
	}
	thread := ThreadRecord{Name: threadName}

	stackRoots := make(map[string]int)
	for _, s := range p.Sample {
		stackNode, err := internStack(doc, framesByLocationID, stackRoots, s.Location)
		if err != nil {
			return nil, fmt.Errorf("profile: import pprof sample: %w", err)
		}

		var cpuDelta Timestamp
		if len(s.Value) > 1 {
			cpuDelta = Timestamp(float64(s.Value[1]) / 1e6)
		}

		thread.Samples = append(thread.Samples, SampleRecord{
			StackNode: stackNode,
			CPUDelta:  cpuDelta,
		})
	}
	doc.Threads = append(doc.Threads, thread)
	doc.Strings = strings.values

	return doc, nil
}

// internStack walks pprof's leaf-first Location list backward, from the
// root (its last element) to the leaf, building (and memoizing, keyed
// by the root-side suffix walked so far) a
// parent chain of StackNodes in Document.Stacks, and returns the index
// of the node for the full stack's leaf.
func internStack(doc *Document, framesByLocationID map[uint64]int, seen map[string]int, locs []*profile.Location) (int, error) {
	parent := -1
	key := ""
	for i := len(locs) - 1; i >= 0; i-- {
		frameIdx, ok := framesByLocationID[locs[i].ID]
		if !ok {
			return -1, fmt.Errorf("location %d not interned", locs[i].ID)
		}
		key += fmt.Sprintf("/%d", frameIdx)
		if node, ok := seen[key]; ok {
			parent = node
			continue
		}
		doc.Stacks = append(doc.Stacks, StackNode{Frame: frameIdx, Parent: parent})
		parent = len(doc.Stacks) - 1
		seen[key] = parent
	}
	return parent, nil
}

func baseNameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// importStringTable interns strings for ImportPprof, independent of the
// Assembler's own interning since a pprof import never goes through
// one.
type importStringTable struct {
	values []string
	index  map[string]int
}

func newImportStringTable() *importStringTable {
	return &importStringTable{index: make(map[string]int)}
}

func (t *importStringTable) intern(s string) int {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	idx := len(t.values)
	t.values = append(t.values, s)
	t.index[s] = idx
	return idx
}

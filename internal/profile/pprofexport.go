package profile

import (
	"fmt"

	"github.com/google/pprof/profile"
)

// ExportPprof renders doc as a google/pprof profile.Profile, merging all
// threads into a single sample set the way pprof's own CPU profiles
// merge goroutines. Each sample's value pair is {count: 1, cpu:
// CPUDelta in nanoseconds}; off-CPU samples (CPUDelta == 0) are still
// emitted so stack shape is preserved, just with a zero cpu value.
//
// Native frames map to a pprof Mapping (one per LibraryRecord) plus a
// Location at the frame's relative address. JIT and unmapped frames
// have no Mapping; their Location carries only a synthesized Function
// keyed by name, mirroring how pprof represents language-runtime
// frames it cannot tie to an on-disk binary.
func ExportPprof(doc *Document) (*profile.Profile, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		TimeNanos:     int64(doc.Meta.StartTime * 1e6),
		DurationNanos: int64((doc.Meta.EndTime - doc.Meta.StartTime) * 1e6),
		PeriodType:    &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:        int64(doc.Meta.Interval * 1e6),
	}

	mappings := make([]*profile.Mapping, len(doc.Libraries))
	for i, lib := range doc.Libraries {
		if lib.IsJIT {
			continue
		}
		m := &profile.Mapping{
			ID:             uint64(i + 1),
			File:           lib.Path,
			BuildID:        lib.DebugID,
			HasFunctions:   true,
			HasFilenames:   true,
			HasLineNumbers: true,
		}
		mappings[i] = m
		p.Mapping = append(p.Mapping, m)
	}

	funcByName := make(map[string]*profile.Function)
	nextFuncID := uint64(1)
	funcForName := func(name string) *profile.Function {
		if name == "" {
			name = "<unknown>"
		}
		if f, ok := funcByName[name]; ok {
			return f
		}
		f := &profile.Function{ID: nextFuncID, Name: name, SystemName: name}
		nextFuncID++
		funcByName[name] = f
		p.Function = append(p.Function, f)
		return f
	}

	locs := make([]*profile.Location, len(doc.Frames))
	for i, f := range doc.Frames {
		name := ""
		if f.FuncNameIndex >= 0 {
			name = doc.Strings[f.FuncNameIndex]
		}
		filename := ""
		if f.FileIndex >= 0 {
			filename = doc.Strings[f.FileIndex]
		}
		fn := funcForName(name)
		fn.Filename = filename
		loc := &profile.Location{
			ID: uint64(i + 1),
			Line: []profile.Line{
				{Function: fn, Line: int64(f.Line)},
			},
		}
		if f.HasLib && int(f.LibHandle) < len(mappings) && mappings[f.LibHandle] != nil {
			loc.Mapping = mappings[f.LibHandle]
			loc.Address = mappings[f.LibHandle].Start + uint64(f.RVA)
		}
		locs[i] = loc
		p.Location = append(p.Location, loc)
	}

	for _, rec := range doc.Threads {
		for _, s := range rec.Samples {
			if s.StackNode < 0 {
				continue
			}
			stack, err := stackLocations(doc, locs, s.StackNode)
			if err != nil {
				return nil, fmt.Errorf("profile: export pprof for pid=%d tid=%d: %w", rec.PID, rec.TID, err)
			}
			p.Sample = append(p.Sample, &profile.Sample{
				Location: stack,
				Value:    []int64{1, int64(s.CPUDelta * 1e6)},
				Label: map[string][]string{
					"thread": {rec.Name},
				},
			})
		}
	}

	return p, nil
}

// stackLocations walks a stack node's Parent chain from leaf to root,
// returning pprof's expected leaf-first Location order.
func stackLocations(doc *Document, locs []*profile.Location, node int) ([]*profile.Location, error) {
	var out []*profile.Location
	for node != -1 {
		if node < 0 || node >= len(doc.Stacks) {
			return nil, fmt.Errorf("stack node %d out of range", node)
		}
		sn := doc.Stacks[node]
		if sn.Frame < 0 || sn.Frame >= len(locs) {
			return nil, fmt.Errorf("frame index %d out of range", sn.Frame)
		}
		out = append(out, locs[sn.Frame])
		node = sn.Parent
	}
	return out, nil
}

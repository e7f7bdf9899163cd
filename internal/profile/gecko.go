package profile

import "encoding/json"

// geckoCategory is one entry of the Gecko document's category table.
type geckoCategory struct {
	Name          string   `json:"name"`
	Color         string   `json:"color"`
	Subcategories []string `json:"subcategories"`
}

// geckoLib is one entry of the Gecko document's library table.
type geckoLib struct {
	Name      string `json:"name"`
	DebugName string `json:"debugName"`
	DebugID   string `json:"debugId"`
	Path      string `json:"path"`
	DebugPath string `json:"debugPath"`
	Arch      string `json:"arch"`
	CodeID    string `json:"codeId"`
}

// geckoFrameTable is the columnar frame table: index i across every
// slice describes frame i.
type geckoFrameTable struct {
	Func        []int `json:"func"`        // index into thread string table
	File        []int `json:"file"`        // index into thread string table, -1 if unknown
	Line        []int `json:"line"`        // -1 if unknown
	Category    []int `json:"category"`
	Subcategory []int `json:"subcategory"`
	Lib         []int `json:"lib"` // index into the document's library table, -1 if none
	RVA         []int `json:"relativeAddress"`
	InlineDepth []int `json:"inlineDepth"`
	Length      int   `json:"length"`
}

// geckoStackTable is the columnar stack table: index i describes stack
// node i, whose parent is Prefix[i] (-1 for a root).
type geckoStackTable struct {
	Frame  []int `json:"frame"`
	Prefix []int `json:"prefix"`
	Length int   `json:"length"`
}

// geckoSamples is the columnar sample table for one thread.
type geckoSamples struct {
	Stack    []int       `json:"stack"` // -1 for an empty stack
	Time     []Timestamp `json:"time"`
	Duration []Timestamp `json:"duration"`
	Length   int         `json:"length"`
}

// geckoMarkers is the columnar marker table for one thread.
type geckoMarkers struct {
	Name      []int            `json:"name"`
	StartTime []Timestamp      `json:"startTime"`
	EndTime   []*Timestamp     `json:"endTime"`
	Data      []map[string]any `json:"data"`
	Length    int              `json:"length"`
}

// geckoThread is one thread's subtree of the Gecko document.
type geckoThread struct {
	PID             uint32          `json:"pid"`
	TID             uint32          `json:"tid"`
	Name            string          `json:"name"`
	RegisterTime    Timestamp       `json:"registerTime"`
	UnregisterTime  *Timestamp      `json:"unregisterTime"`
	ProcessedOffCPU Timestamp       `json:"processedOffCpuDurationMs"`
	Samples         geckoSamples    `json:"samples"`
	Markers         geckoMarkers    `json:"markers"`
	StackTable      geckoStackTable `json:"stackTable"`
	FrameTable      geckoFrameTable `json:"frameTable"`
	StringTable     []string        `json:"stringTable"`
}

// geckoMeta mirrors Document.Meta plus the fixed category table.
type geckoMeta struct {
	Interval           Timestamp       `json:"interval"`
	StartTime          Timestamp       `json:"startTime"`
	ReferenceTimestamp Timestamp       `json:"referenceTimestamp"`
	InitialTaskName    string          `json:"initialTaskName,omitempty"`
	Categories         []geckoCategory `json:"categories"`
	Version            int            `json:"version"`
}

// geckoDocument is the root of the emitted Gecko processed profile.
type geckoDocument struct {
	Meta    geckoMeta     `json:"meta"`
	Libs    []geckoLib    `json:"libs"`
	Threads []geckoThread `json:"threads"`
}

// geckoDocumentVersion is bumped whenever the emitted schema's shape
// changes in a way a consumer needs to branch on.
const geckoDocumentVersion = 1

// EncodeGecko renders doc as the Gecko processed profile JSON schema.
// Every thread carries its own string table (the Firefox profiler
// convention), re-interned from Document's profile-wide table. Each
// thread re-emits the whole document-level frame and stack tables, so
// its string table holds the strings of every frame in the document
// plus those of the thread's own markers.
func EncodeGecko(doc *Document) ([]byte, error) {
	gd := geckoDocument{
		Meta: geckoMeta{
			Interval:           doc.Meta.Interval,
			StartTime:          doc.Meta.StartTime,
			ReferenceTimestamp: doc.Meta.ReferenceTimestamp,
			InitialTaskName:    doc.Meta.InitialTaskName,
			Categories:         buildGeckoCategories(),
			Version:            geckoDocumentVersion,
		},
	}

	for _, lib := range doc.Libraries {
		gd.Libs = append(gd.Libs, geckoLib{
			Name:      lib.Name,
			DebugName: lib.DebugName,
			DebugID:   lib.DebugID,
			Path:      lib.Path,
			DebugPath: lib.DebugPath,
			Arch:      lib.Arch,
			CodeID:    lib.CodeID,
		})
	}

	for _, rec := range doc.Threads {
		gd.Threads = append(gd.Threads, buildGeckoThread(doc, rec))
	}

	return json.Marshal(gd)
}

func buildGeckoCategories() []geckoCategory {
	cats := make([]geckoCategory, len(categoryTable))
	for i, c := range categoryTable {
		cats[i] = geckoCategory{Name: c.name, Color: c.color, Subcategories: subcategoryNames[Category(i)]}
	}
	return cats
}

// threadStrings re-interns, into one thread's own table, the strings
// its emitted frames and markers reference, against doc's profile-wide
// string table as the source.
type threadStrings struct {
	doc   *Document
	table *stringTable
}

func newThreadStrings(doc *Document) *threadStrings {
	return &threadStrings{doc: doc, table: newStringTable()}
}

func (t *threadStrings) intern(docIndex int) int {
	if docIndex < 0 {
		return -1
	}
	return t.table.Intern(t.doc.Strings[docIndex])
}

func buildGeckoThread(doc *Document, rec ThreadRecord) geckoThread {
	ts := newThreadStrings(doc)

	// Only the frames reachable from this thread's stack nodes are
	// relevant, but re-emitting the whole document-level frame/stack
	// table per thread (reindexed against the thread's own string
	// table) is simpler than computing a reachability set and correct
	// regardless of which stacks this thread's samples actually use.
	ft := geckoFrameTable{Length: len(doc.Frames)}
	for _, f := range doc.Frames {
		lib := -1
		if f.HasLib {
			lib = int(f.LibHandle)
		}
		ft.Func = append(ft.Func, ts.intern(f.FuncNameIndex))
		ft.File = append(ft.File, ts.intern(f.FileIndex))
		line := -1
		if f.Line != 0 {
			line = int(f.Line)
		}
		ft.Line = append(ft.Line, line)
		ft.Category = append(ft.Category, int(f.Category))
		ft.Subcategory = append(ft.Subcategory, subcategoryIndex(f.Subcategory))
		ft.Lib = append(ft.Lib, lib)
		ft.RVA = append(ft.RVA, int(f.RVA))
		ft.InlineDepth = append(ft.InlineDepth, f.InlineDepth)
	}

	st := geckoStackTable{Length: len(doc.Stacks)}
	for _, node := range doc.Stacks {
		st.Frame = append(st.Frame, node.Frame)
		st.Prefix = append(st.Prefix, node.Parent)
	}

	samples := geckoSamples{Length: len(rec.Samples)}
	for _, s := range rec.Samples {
		samples.Stack = append(samples.Stack, s.StackNode)
		samples.Time = append(samples.Time, s.Timestamp)
		samples.Duration = append(samples.Duration, s.CPUDelta)
	}

	markers := geckoMarkers{Length: len(rec.Markers)}
	for _, m := range rec.Markers {
		markers.Name = append(markers.Name, ts.intern(m.NameIndex))
		markers.StartTime = append(markers.StartTime, m.Timing.StartTime)
		markers.EndTime = append(markers.EndTime, m.Timing.EndTime)
		markers.Data = append(markers.Data, m.Payload)
	}

	return geckoThread{
		PID:             rec.PID,
		TID:             rec.TID,
		Name:            rec.Name,
		RegisterTime:    rec.RegisterTime,
		UnregisterTime:  rec.UnregisterTime,
		ProcessedOffCPU: rec.OffCPUTime,
		Samples:         samples,
		Markers:         markers,
		StackTable:      st,
		FrameTable:      ft,
		StringTable:     ts.table.Strings(),
	}
}

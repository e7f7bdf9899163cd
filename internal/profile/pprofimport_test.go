package profile

import (
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportPprofBuildsLibrariesFramesAndSamples(t *testing.T) {
	mapping := &profile.Mapping{ID: 1, File: "/lib/libfoo.so", BuildID: "ABC0", Start: 0x1000}
	fn := &profile.Function{ID: 1, Name: "do_work", Filename: "foo.c"}
	loc := &profile.Location{ID: 1, Mapping: mapping, Address: 0x1500, Line: []profile.Line{{Function: fn, Line: 42}}}

	p := &profile.Profile{
		SampleType:    []*profile.ValueType{{Type: "samples", Unit: "count"}, {Type: "cpu", Unit: "nanoseconds"}},
		Period:        int64(10 * 1e6),
		TimeNanos:     int64(1000 * 1e6),
		DurationNanos: int64(5000 * 1e6),
		Mapping:       []*profile.Mapping{mapping},
		Function:      []*profile.Function{fn},
		Location:      []*profile.Location{loc},
		Sample: []*profile.Sample{
			{Location: []*profile.Location{loc}, Value: []int64{1, int64(10 * 1e6)}},
		},
	}

	doc, err := ImportPprof(p)
	require.NoError(t, err)

	require.Len(t, doc.Libraries, 1)
	assert.Equal(t, "ABC0", doc.Libraries[0].DebugID)
	assert.Equal(t, "/lib/libfoo.so", doc.Libraries[0].Path)

	require.Len(t, doc.Frames, 1)
	frame := doc.Frames[0]
	assert.True(t, frame.HasLib)
	assert.Equal(t, uint32(0x500), frame.RVA)
	require.GreaterOrEqual(t, frame.FuncNameIndex, 0)
	assert.Equal(t, "do_work", doc.Strings[frame.FuncNameIndex])

	require.Len(t, doc.Threads, 1)
	require.Len(t, doc.Threads[0].Samples, 1)
	sample := doc.Threads[0].Samples[0]
	assert.Equal(t, Timestamp(10), sample.CPUDelta)
	require.GreaterOrEqual(t, sample.StackNode, 0)
	assert.Equal(t, frame, doc.Frames[doc.Stacks[sample.StackNode].Frame])
}

func TestImportPprofSharesStackNodesAcrossSamplesWithCommonSuffix(t *testing.T) {
	fnA := &profile.Function{ID: 1, Name: "a"}
	fnB := &profile.Function{ID: 2, Name: "b"}
	locA := &profile.Location{ID: 1, Line: []profile.Line{{Function: fnA}}}
	locB := &profile.Location{ID: 2, Line: []profile.Line{{Function: fnB}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples"}},
		Function:   []*profile.Function{fnA, fnB},
		Location:   []*profile.Location{locA, locB},
		Sample: []*profile.Sample{
			{Location: []*profile.Location{locA, locB}, Value: []int64{1}},
			{Location: []*profile.Location{locB}, Value: []int64{1}},
		},
	}

	doc, err := ImportPprof(p)
	require.NoError(t, err)

	require.Len(t, doc.Threads[0].Samples, 2)
	firstStack := doc.Threads[0].Samples[0].StackNode
	secondStack := doc.Threads[0].Samples[1].StackNode
	assert.Equal(t, doc.Stacks[firstStack].Parent, secondStack)
}

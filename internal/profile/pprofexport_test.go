package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportPprofBuildsLocationsAndSamples(t *testing.T) {
	doc := buildTestDocument(t)

	p, err := ExportPprof(doc)
	require.NoError(t, err)

	require.Len(t, p.Sample, 1)
	require.Len(t, p.Sample[0].Location, 1)
	loc := p.Sample[0].Location[0]
	require.NotNil(t, loc.Mapping)
	assert.Equal(t, "ABC0", loc.Mapping.BuildID)
	assert.Equal(t, "/lib/libfoo.so", loc.Mapping.File)
	assert.Equal(t, uint64(0x500), loc.Address)
	assert.Equal(t, []int64{1, int64(1 * 1e6)}, p.Sample[0].Value)

	require.Len(t, p.SampleType, 2)
	assert.Equal(t, "samples", p.SampleType[0].Type)
	assert.Equal(t, "cpu", p.SampleType[1].Type)
}

func TestExportPprofRejectsOutOfRangeStackNode(t *testing.T) {
	doc := &Document{
		Threads: []ThreadRecord{
			{Samples: []SampleRecord{{StackNode: 99}}},
		},
	}
	_, err := ExportPprof(doc)
	assert.Error(t, err)
}

package profile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func buildTestDocument(t *testing.T) *Document {
	t.Helper()
	a := NewAssembler(zerolog.Nop(), RecordingProps{})
	ctx := context.Background()

	require.NoError(t, a.Ingest(ctx, Event{Kind: EventThreadStart, ThreadStart: &ThreadStart{PID: 1, TID: 1, Name: "main"}}))
	require.NoError(t, a.Ingest(ctx, Event{Kind: EventLibMapping, LibMapping: &LibMapping{
		PID: 1, Timestamp: 0, Kind: LibMappingAdd,
		StartAVMA: 0x1000, EndAVMA: 0x2000,
		Info: LibMappingInfo{DebugName: "libfoo.so", DebugID: "ABC0", Path: "/lib/libfoo.so"},
	}}))
	require.NoError(t, a.Ingest(ctx, Event{Kind: EventSample, Sample: &Sample{
		PID: 1, TID: 1, Timestamp: 10, CPUDelta: 1, Stack: []uint64{0x1500},
	}}))
	require.NoError(t, a.Ingest(ctx, Event{Kind: EventMarker, Marker: &Marker{
		TID: 1, Name: "GC", Timing: MarkerTiming{StartTime: 5},
	}}))
	a.Close()

	doc, err := a.Run(ctx)
	require.NoError(t, err)
	return doc
}

func TestEncodeGeckoProducesValidJSON(t *testing.T) {
	doc := buildTestDocument(t)

	data, err := EncodeGecko(doc)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	meta, ok := decoded["meta"].(map[string]any)
	require.True(t, ok)
	cats, ok := meta["categories"].([]any)
	require.True(t, ok)
	require.Len(t, cats, 5)

	threads, ok := decoded["threads"].([]any)
	require.True(t, ok)
	require.Len(t, threads, 1)

	thread := threads[0].(map[string]any)
	samples := thread["samples"].(map[string]any)
	require.Equal(t, float64(1), samples["length"])

	markers := thread["markers"].(map[string]any)
	require.Equal(t, float64(1), markers["length"])

	libs, ok := decoded["libs"].([]any)
	require.True(t, ok)
	require.Len(t, libs, 1)
	lib := libs[0].(map[string]any)
	require.Equal(t, "libfoo.so", lib["debugName"])
}

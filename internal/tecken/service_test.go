package tecken

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/breakpad"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

const testSym = `MODULE Linux x86_64 112233445566778899AABBCCDDEEFF002 mylib.so
FILE 0 /src/mylib.c
FUNC 1000 100 0 my_function
1000 100 42 0
PUBLIC 2000 0 other_symbol
`

// fakeManager serves a single fixed SymbolMap regardless of the
// requested debugName/debugID, standing in for a resolver-backed
// manager in tests that only care about the facade's request/response
// shaping.
type fakeManager struct {
	sm  symbolicate.SymbolMap
	err error

	externalInfo *symbolicate.AddressInfo
	externalErr  error
	externalRef  *symbolicate.ExternalFileAddressRef
}

func (f *fakeManager) SymbolMapFor(ctx context.Context, debugName, debugID string) (symbolicate.SymbolMap, error) {
	return f.sm, f.err
}

func (f *fakeManager) LookupExternal(ref symbolicate.ExternalFileAddressRef, trustedForAbsolutePaths bool) (*symbolicate.AddressInfo, error) {
	f.externalRef = &ref
	return f.externalInfo, f.externalErr
}

func newFakeManager(t *testing.T) *fakeManager {
	t.Helper()
	sm, err := breakpad.Open(location.NewBytesContents([]byte(testSym)), location.LocalFile("mylib.so.sym"), nil, symbolicate.MultiArchDisambiguator{})
	require.NoError(t, err)
	return &fakeManager{sm: sm}
}

// externalSymbolMap is a minimal SymbolMap stub whose only job is
// returning a FramesExternal result, so the facade's OSO-indirection
// handling can be exercised without a real Mach-O/OSO fixture.
type externalSymbolMap struct {
	ref symbolicate.ExternalFileAddressRef
	loc location.FileLocation
}

func (m *externalSymbolMap) DebugID() ids.DebugID { return ids.DebugID{} }
func (m *externalSymbolMap) LookupRelativeAddress(rva uint32, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return &symbolicate.AddressInfo{
		Symbol: symbolicate.Symbol{RVA: rva, Name: "covering_symbol"},
		Frames: symbolicate.External(m.ref),
	}, nil
}
func (m *externalSymbolMap) LookupSVMA(svma uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return nil, nil
}
func (m *externalSymbolMap) LookupOffset(offset uint64, opts symbolicate.LookupOptions) (*symbolicate.AddressInfo, error) {
	return nil, nil
}
func (m *externalSymbolMap) IterSymbols(yield func(symbolicate.Symbol) bool) {}
func (m *externalSymbolMap) SymbolCount() int                                { return 1 }
func (m *externalSymbolMap) DebugFileLocation() location.FileLocation       { return m.loc }

func TestSymbolicateResolvesKnownAddress(t *testing.T) {
	mgr := newFakeManager(t)
	req := SymbolicateRequest{
		Jobs: []SymbolicateJob{
			{
				MemoryMap: [][2]string{{"mylib.so", "112233445566778899AABBCCDDEEFF002"}},
				Stacks:    [][][2]uint64{{{0, 0x1010}}},
			},
		},
	}

	resp := Symbolicate(context.Background(), mgr, req)

	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Results[0].Stacks, 1)
	require.Len(t, resp.Results[0].Stacks[0], 1)
	frame := resp.Results[0].Stacks[0][0]
	assert.Equal(t, "my_function", frame.Function)
	assert.Equal(t, "0x10", frame.FunctionOffset)
	assert.Empty(t, frame.Error)
}

func TestSymbolicateReportsPerFrameErrorForBadModuleIndex(t *testing.T) {
	mgr := newFakeManager(t)
	req := SymbolicateRequest{
		Jobs: []SymbolicateJob{
			{
				MemoryMap: [][2]string{{"mylib.so", "112233445566778899AABBCCDDEEFF002"}},
				Stacks:    [][][2]uint64{{{7, 0x1000}}},
			},
		},
	}

	resp := Symbolicate(context.Background(), mgr, req)

	frame := resp.Results[0].Stacks[0][0]
	assert.NotEmpty(t, frame.Error)
	assert.Empty(t, frame.Function)
}

func TestSymbolicateResolvesFrameViaExternalFile(t *testing.T) {
	extRef := symbolicate.ExternalFileAddressRef{
		FileRef:          symbolicate.ExternalFileRef{Name: "/build/lib.a(object.o)"},
		SymbolName:       "covering_symbol",
		OffsetFromSymbol: 0x10,
	}
	sm := &externalSymbolMap{ref: extRef, loc: location.LocalFile("mylib.so")}
	mgr := &fakeManager{
		sm: sm,
		externalInfo: &symbolicate.AddressInfo{
			Symbol: symbolicate.Symbol{Name: "inner_function"},
			Frames: symbolicate.Unavailable(),
		},
	}

	req := SymbolicateRequest{
		Jobs: []SymbolicateJob{
			{
				MemoryMap: [][2]string{{"mylib.so", "112233445566778899AABBCCDDEEFF002"}},
				Stacks:    [][][2]uint64{{{0, 0x1010}}},
			},
		},
	}

	resp := Symbolicate(context.Background(), mgr, req)

	frame := resp.Results[0].Stacks[0][0]
	assert.Equal(t, "inner_function", frame.Function)
	assert.Empty(t, frame.Error)
	require.NotNil(t, mgr.externalRef)
	assert.Equal(t, extRef, *mgr.externalRef)
}

func TestSourceReturnsStructuredErrorNotHTTPFailure(t *testing.T) {
	mgr := newFakeManager(t)
	resp := Source(context.Background(), mgr, SourceRequest{DebugName: "mylib.so", DebugID: "112233445566778899AABBCCDDEEFF002"})
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Content)
}

package symbolicate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
	"github.com/coral-mesh/symbolicore/internal/testutil"
)

// fakeSymbolMap is a minimal SymbolMap used to exercise the resolver
// without depending on any real format parser.
type fakeSymbolMap struct {
	debugID ids.DebugID
	loc     location.FileLocation
}

func (f *fakeSymbolMap) DebugID() ids.DebugID { return f.debugID }
func (f *fakeSymbolMap) LookupRelativeAddress(rva uint32, opts LookupOptions) (*AddressInfo, error) {
	return nil, symerr.New(symerr.NotFound, "no symbols")
}
func (f *fakeSymbolMap) LookupSVMA(svma uint64, opts LookupOptions) (*AddressInfo, error) {
	return nil, symerr.New(symerr.UnsupportedLookup, "svma")
}
func (f *fakeSymbolMap) LookupOffset(offset uint64, opts LookupOptions) (*AddressInfo, error) {
	return nil, symerr.New(symerr.UnsupportedLookup, "offset")
}
func (f *fakeSymbolMap) IterSymbols(yield func(Symbol) bool) {}
func (f *fakeSymbolMap) SymbolCount() int                    { return 0 }
func (f *fakeSymbolMap) DebugFileLocation() location.FileLocation { return f.loc }

func TestResolverFirstMatchingCandidateWins(t *testing.T) {
	debugID := ids.DebugID{UUID: uuid.New()}
	dir := t.TempDir()

	// c1 doesn't exist; c2 does and matches; the resolver must pick c2
	// without ever trying a (nonexistent) symbol server.
	path := location.CandidateInCacheDir(dir, "libfoo.so", debugID).Path
	require.NoError(t, writeFile(t, path, []byte("fake bytes")))

	r := &Resolver{
		CacheDirs: []string{dir + "-missing", dir},
		Logger:    testutil.NewTestLogger(t),
		Open: func(contents location.FileContents, loc location.FileLocation, expected *ids.DebugID, disambiguator MultiArchDisambiguator) (SymbolMap, error) {
			return &fakeSymbolMap{debugID: debugID, loc: loc}, nil
		},
	}

	info := LibraryInfo{DebugName: "libfoo.so", DebugID: &debugID}
	sm, err := r.LoadSymbolMap(context.Background(), info, MultiArchDisambiguator{})
	require.NoError(t, err)
	assert.Equal(t, debugID, sm.DebugID())
	assert.Equal(t, path, sm.DebugFileLocation().Path)
}

func TestResolverSwallowsUnmatchedAndSurfacesMostInformative(t *testing.T) {
	wantID := ids.DebugID{UUID: uuid.New()}
	gotID := ids.DebugID{UUID: uuid.New()}
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	p1 := location.CandidateInCacheDir(dir1, "libfoo.so", wantID).Path
	require.NoError(t, writeFile(t, p1, []byte("wrong id")))

	r := &Resolver{
		CacheDirs: []string{dir1, dir2},
		Logger:    testutil.NewTestLogger(t),
		Open: func(contents location.FileContents, loc location.FileLocation, expected *ids.DebugID, disambiguator MultiArchDisambiguator) (SymbolMap, error) {
			return nil, symerr.New(symerr.UnmatchedDebugID, "got %s want %s", gotID, *expected)
		},
	}

	info := LibraryInfo{DebugName: "libfoo.so", DebugID: &wantID}
	_, err := r.LoadSymbolMap(context.Background(), info, MultiArchDisambiguator{})
	require.Error(t, err)

	kind, ok := symerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, symerr.UnmatchedDebugID, kind)
}

func TestResolverNotFoundWhenNoCandidates(t *testing.T) {
	r := &Resolver{Logger: testutil.NewTestLogger(t)}
	_, err := r.LoadSymbolMap(context.Background(), LibraryInfo{DebugName: "x"}, MultiArchDisambiguator{})
	require.Error(t, err)
	kind, ok := symerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, symerr.NotFound, kind)
}

func writeFile(t *testing.T, path string, data []byte) error {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

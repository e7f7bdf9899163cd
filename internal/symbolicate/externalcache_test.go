package symbolicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExternalSymbolMap struct {
	name string
}

func (f *fakeExternalSymbolMap) LookupSymbol(name string, offset uint64) (*AddressInfo, error) {
	fn := f.name + ":" + name
	return &AddressInfo{Symbol: Symbol{Name: fn}}, nil
}

func TestExternalFileCacheReusesLastEntry(t *testing.T) {
	opens := 0
	cache := NewExternalFileCache(func(ref ExternalFileRef, trusted bool) (ExternalSymbolMap, error) {
		opens++
		return &fakeExternalSymbolMap{name: ref.Name}, nil
	})

	ref := ExternalFileAddressRef{FileRef: ExternalFileRef{Name: "/build/foo.o"}, SymbolName: "_bar", OffsetFromSymbol: 0x10}

	info1, err := cache.LookupExternal(ref, true)
	require.NoError(t, err)
	assert.Equal(t, "/build/foo.o:_bar", info1.Symbol.Name)
	assert.Equal(t, 1, opens)

	info2, err := cache.LookupExternal(ref, true)
	require.NoError(t, err)
	assert.Equal(t, "/build/foo.o:_bar", info2.Symbol.Name)
	assert.Equal(t, 1, opens, "same file ref must reuse the cached entry")

	other := ExternalFileAddressRef{FileRef: ExternalFileRef{Name: "/build/baz.o"}, SymbolName: "_qux"}
	_, err = cache.LookupExternal(other, true)
	require.NoError(t, err)
	assert.Equal(t, 2, opens, "different file ref must evict the cached entry")
}

package breakpad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

const sampleSym = `MODULE Linux x86_64 112233445566778899AABBCCDDEEFF002 mylib.so
FILE 0 /src/mylib.c
FILE 1 /src/helper.c
INLINE_ORIGIN 0 helper_inlined
FUNC 1000 100 0 my_function
1000 10 42 0
1010 f0 43 1
INLINE 0 42 0 1 1010 20
PUBLIC 1000 0 my_function_public
PUBLIC 2000 0 other_symbol
`

func TestParseModuleHeader(t *testing.T) {
	sm, err := parse([]byte(sampleSym))
	require.NoError(t, err)
	assert.Equal(t, "Linux", sm.os)
	assert.Equal(t, "x86_64", sm.arch)
	assert.Equal(t, "mylib.so", sm.debugName)
	assert.Equal(t, "112233445566778899AABBCCDDEEFF002", sm.debugID.String())
}

func TestLookupPublicTakesPrecedenceOverFunc(t *testing.T) {
	sm, err := parse([]byte(sampleSym))
	require.NoError(t, err)

	info, err := sm.LookupRelativeAddress(0x1000, symbolicate.DefaultLookupOptions())
	require.NoError(t, err)
	assert.Equal(t, "my_function_public", info.Symbol.Name)
}

func TestLookupFuncWithInlineFrames(t *testing.T) {
	sm, err := parse([]byte(sampleSym))
	require.NoError(t, err)

	opts := symbolicate.LookupOptions{WithFrames: true}
	info, err := sm.LookupRelativeAddress(0x1015, opts)
	require.NoError(t, err)
	assert.Equal(t, "my_function", info.Symbol.Name)
	require.Equal(t, symbolicate.FramesAvailable, info.Frames.Kind)
	require.Len(t, info.Frames.Frames, 2)
	assert.Equal(t, "my_function", *info.Frames.Frames[0].Function)
	assert.Equal(t, "helper_inlined", *info.Frames.Frames[1].Function)
}

func TestLookupUnknownAddress(t *testing.T) {
	sm, err := parse([]byte(sampleSym))
	require.NoError(t, err)

	_, err = sm.LookupRelativeAddress(0xffff, symbolicate.DefaultLookupOptions())
	assert.Error(t, err)
}

func TestOpenRejectsMismatchedDebugID(t *testing.T) {
	contents := location.NewBytesContents([]byte(sampleSym))
	other, err := ids.Parse("00112233445566778899AABBCCDDEEFF1")
	require.NoError(t, err)

	_, err = Open(contents, location.FileLocation{}, &other, symbolicate.MultiArchDisambiguator{})
	assert.Error(t, err)
}

package kallsyms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

const sampleKallsyms = `0000000000000000 T ignored_zero_address
ffffffff81000000 T _stext
ffffffff81000100 T do_syscall_64
ffffffff81001000 t some_static_fn
ffffffff81002000 t module_fn [nvidia]
`

func TestParseSkipsZeroAddresses(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleKallsyms))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "_stext", entries[0].Name)
}

func TestParseExtractsModuleName(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleKallsyms))
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, "module_fn", last.Name)
	assert.Equal(t, "nvidia", last.Module)
}

func TestOpenRejectsEmptyTable(t *testing.T) {
	_, err := Open(strings.NewReader("0000000000000000 T x\n"), "6.1.0", location.LocalFile("/proc/kallsyms"))
	assert.Error(t, err)
}

func TestLookupSVMAResolvesCoveringSymbol(t *testing.T) {
	sm, err := Open(strings.NewReader(sampleKallsyms), "6.1.0-test", location.LocalFile("/proc/kallsyms"))
	require.NoError(t, err)

	info, err := sm.LookupSVMA(0xffffffff81000150, symbolicate.DefaultLookupOptions())
	require.NoError(t, err)
	assert.Equal(t, "do_syscall_64", info.Symbol.Name)
}

func TestLookupSVMABelowFirstSymbolErrors(t *testing.T) {
	sm, err := Open(strings.NewReader(sampleKallsyms), "6.1.0-test", location.LocalFile("/proc/kallsyms"))
	require.NoError(t, err)

	_, err = sm.LookupSVMA(0x1000, symbolicate.DefaultLookupOptions())
	assert.Error(t, err)
}

func TestLookupRelativeAddressUsesSynthesizedBase(t *testing.T) {
	sm, err := Open(strings.NewReader(sampleKallsyms), "6.1.0-test", location.LocalFile("/proc/kallsyms"))
	require.NoError(t, err)

	info, err := sm.LookupRelativeAddress(0x100, symbolicate.DefaultLookupOptions())
	require.NoError(t, err)
	assert.Equal(t, "do_syscall_64", info.Symbol.Name)
}

func TestDebugIDIsStableForSameRelease(t *testing.T) {
	sm1, err := Open(strings.NewReader(sampleKallsyms), "6.1.0-test", location.LocalFile("/proc/kallsyms"))
	require.NoError(t, err)
	sm2, err := Open(strings.NewReader(sampleKallsyms), "6.1.0-test", location.LocalFile("/proc/kallsyms"))
	require.NoError(t, err)
	assert.Equal(t, sm1.DebugID(), sm2.DebugID())
}

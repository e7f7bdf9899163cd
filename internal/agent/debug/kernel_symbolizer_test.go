//go:build linux
// +build linux

package debug

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/kallsyms"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

const sampleKallsyms = `ffffffff81000000 T _stext
ffffffff81000100 T do_syscall_64
ffffffffb0000000 t module_func [test_module]
`

func TestKernelSymbolizerResolvesThroughSymbolMap(t *testing.T) {
	sm, err := kallsyms.Open(strings.NewReader(sampleKallsyms), "6.1.0-test", location.LocalFile("/proc/kallsyms"))
	require.NoError(t, err)

	ks := &KernelSymbolizer{sm: sm, logger: zerolog.Nop()}
	assert.Equal(t, 3, ks.SymbolCount())

	info, err := ks.SymbolMap().LookupSVMA(0xffffffff81000150, symbolicate.DefaultLookupOptions())
	require.NoError(t, err)
	assert.Equal(t, "do_syscall_64", info.Symbol.Name)
}

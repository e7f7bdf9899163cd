package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessJitInfoAddAndLookup(t *testing.T) {
	j := NewProcessJitInfo(LibHandle(1))

	j.AddMethod(0xA000, 0x50, "Baseline_foo", ClassifyJitTier("Baseline_foo"))
	j.AddMethod(0xB000, 0x30, "Opt_bar", ClassifyJitTier("Opt_bar"))

	sym, ok := j.LookupAVMA(0xA000)
	require.True(t, ok)
	assert.Equal(t, "Baseline_foo", sym.name)
	assert.Equal(t, uint32(0), sym.rva)
	assert.Equal(t, JitTierBaseline, sym.tier)

	sym, ok = j.LookupAVMA(0xB000)
	require.True(t, ok)
	assert.Equal(t, "Opt_bar", sym.name)
	assert.Equal(t, uint32(0x50), sym.rva)
	assert.Equal(t, JitTierOptimizing, sym.tier)

	assert.Equal(t, uint32(0x80), j.NextRelativeAddress)
}

func TestProcessJitInfoLookupRVABoundary(t *testing.T) {
	j := NewProcessJitInfo(LibHandle(1))
	j.AddMethod(0x1000, 0x10, "m", JitTierUnknown)

	_, ok := j.LookupRVA(0x0f)
	assert.True(t, ok)
	_, ok = j.LookupRVA(0x10)
	assert.False(t, ok)
}

func TestClassifyJitTier(t *testing.T) {
	assert.Equal(t, JitTierInterpreter, ClassifyJitTier("Interpreter_Run"))
	assert.Equal(t, JitTierBaseline, ClassifyJitTier("Sparkplug_Compile"))
	assert.Equal(t, JitTierOptimizing, ClassifyJitTier("Turbofan_Optimize"))
	assert.Equal(t, JitTierUnknown, ClassifyJitTier("SomeRandomName"))
}

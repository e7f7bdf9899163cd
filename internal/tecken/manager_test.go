package tecken

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/dispatch"
)

func TestResolverSymbolManagerResolvesAndCaches(t *testing.T) {
	dir := t.TempDir()
	debugName := "mylib.so"
	debugID := "112233445566778899AABBCCDDEEFF002"
	sub := filepath.Join(dir, debugName, debugID)
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, debugName), []byte(testSym), 0o644))

	resolver := symbolicate.NewResolver(zerolog.Nop(), dispatch.Open)
	resolver.CacheDirs = []string{dir}

	mgr := NewResolverSymbolManager(resolver)

	sm1, err := mgr.SymbolMapFor(context.Background(), debugName, debugID)
	require.NoError(t, err)
	require.NotNil(t, sm1)

	sm2, err := mgr.SymbolMapFor(context.Background(), debugName, debugID)
	require.NoError(t, err)
	assert.Same(t, sm1, sm2, "second lookup should be served from cache")
}

func TestResolverSymbolManagerCachesFailure(t *testing.T) {
	resolver := symbolicate.NewResolver(zerolog.Nop(), dispatch.Open)
	mgr := NewResolverSymbolManager(resolver)

	_, err1 := mgr.SymbolMapFor(context.Background(), "nope.so", "00000000000000000000000000000000")
	require.Error(t, err1)

	_, err2 := mgr.SymbolMapFor(context.Background(), "nope.so", "00000000000000000000000000000000")
	require.Error(t, err2)
	assert.Same(t, err1, err2, "second lookup should be served from the cached failure")
}

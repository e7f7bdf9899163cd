package tecken

import (
	"context"
	"sync"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/externalfile"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
)

// SymbolManager resolves a (debugName, debugID) pair to an opened
// SymbolMap. It is the seam between the JSON facade (which only knows
// string identities from the wire) and the resolver (which knows how
// to find and parse the matching artifact).
type SymbolManager interface {
	SymbolMapFor(ctx context.Context, debugName, debugID string) (symbolicate.SymbolMap, error)

	// LookupExternal resolves the second half of an OSO indirection:
	// ref names a Mach-O .o or archive member and a symbol inside it.
	// trustedForAbsolutePaths gates whether an absolute path in ref is
	// honored, mirroring the origin the covering debug file resolved
	// from.
	LookupExternal(ref symbolicate.ExternalFileAddressRef, trustedForAbsolutePaths bool) (*symbolicate.AddressInfo, error)
}

// ResolverSymbolManager adapts a *symbolicate.Resolver into a
// SymbolManager, caching opened SymbolMaps by debugName+debugID so a
// batch of jobs referencing the same module only resolves it once.
type ResolverSymbolManager struct {
	resolver *symbolicate.Resolver
	external *symbolicate.ExternalFileCache

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	sm  symbolicate.SymbolMap
	err error
}

// NewResolverSymbolManager wraps resolver with a per-process cache. The
// external-file cache it builds internally is reused across every
// OSO indirection the resolver's maps produce.
func NewResolverSymbolManager(resolver *symbolicate.Resolver) *ResolverSymbolManager {
	return &ResolverSymbolManager{
		resolver: resolver,
		external: symbolicate.NewExternalFileCache(externalfile.Open),
		cache:    make(map[string]cacheEntry),
	}
}

// LookupExternal delegates to the shared external-file cache.
func (m *ResolverSymbolManager) LookupExternal(ref symbolicate.ExternalFileAddressRef, trustedForAbsolutePaths bool) (*symbolicate.AddressInfo, error) {
	return m.external.LookupExternal(ref, trustedForAbsolutePaths)
}

// SymbolMapFor parses debugID, builds a LibraryInfo, and delegates to
// the resolver's candidate search, caching the outcome (success or
// failure) for the lifetime of this manager.
func (m *ResolverSymbolManager) SymbolMapFor(ctx context.Context, debugName, debugID string) (symbolicate.SymbolMap, error) {
	key := debugName + "\x00" + debugID

	m.mu.Lock()
	if entry, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return entry.sm, entry.err
	}
	m.mu.Unlock()

	sm, err := m.resolve(ctx, debugName, debugID)

	m.mu.Lock()
	m.cache[key] = cacheEntry{sm: sm, err: err}
	m.mu.Unlock()

	return sm, err
}

func (m *ResolverSymbolManager) resolve(ctx context.Context, debugName, debugID string) (symbolicate.SymbolMap, error) {
	parsed, err := ids.Parse(debugID)
	if err != nil {
		return nil, err
	}

	info := symbolicate.LibraryInfo{
		DebugName: debugName,
		DebugID:   &parsed,
		Name:      debugName,
	}

	return m.resolver.LoadSymbolMap(ctx, info, symbolicate.MultiArchDisambiguator{DebugID: &parsed})
}

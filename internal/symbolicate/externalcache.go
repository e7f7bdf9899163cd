package symbolicate

import "sync"

// ExternalSymbolMap is the narrow view of an opened external file
// (Mach-O OSO .o / archive member) needed to resolve the second half of
// an OSO indirection: a per-symbol-name relative lookup.
type ExternalSymbolMap interface {
	// LookupSymbol resolves name to its debug info, honoring offset as
	// the distance from the symbol's start the original address fell
	// at (so line lookups land on the right instruction).
	LookupSymbol(name string, offset uint64) (*AddressInfo, error)
}

// ExternalFileOpenFunc loads the external file named by ref, trusting
// absolute paths only when the origin says so: absolute paths from OSO
// entries are honored only when the SymbolFileOrigin is trusted.
type ExternalFileOpenFunc func(ref ExternalFileRef, trustedForAbsolutePaths bool) (ExternalSymbolMap, error)

// ExternalFileCache caches the single most recently opened external
// file. Batched, RVA-sorted lookups against one OSO object are common
// (consecutive samples in the same function), so a one-entry cache
// turns those into a single open. The cache is not safe for concurrent
// use from multiple goroutines without the mutex below; the
// symbolication core is otherwise single-threaded cooperative, but
// tests and the JSON facade may call concurrently.
type ExternalFileCache struct {
	open ExternalFileOpenFunc

	mu      sync.Mutex
	lastRef ExternalFileRef
	lastMap ExternalSymbolMap
}

// NewExternalFileCache builds a cache that uses open to load a miss.
func NewExternalFileCache(open ExternalFileOpenFunc) *ExternalFileCache {
	return &ExternalFileCache{open: open}
}

// LookupExternal resolves ref.SymbolName inside the external file named
// by ref.FileRef, opening (or reusing the cached) file as needed.
func (c *ExternalFileCache) LookupExternal(ref ExternalFileAddressRef, trustedForAbsolutePaths bool) (*AddressInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastMap == nil || c.lastRef != ref.FileRef {
		m, err := c.open(ref.FileRef, trustedForAbsolutePaths)
		if err != nil {
			return nil, err
		}
		c.lastRef = ref.FileRef
		c.lastMap = m
	}

	return c.lastMap.LookupSymbol(ref.SymbolName, ref.OffsetFromSymbol)
}

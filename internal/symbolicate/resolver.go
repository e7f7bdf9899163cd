package symbolicate

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/server"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

// OpenSymbolMapFunc parses contents (opened from loc) into a SymbolMap,
// dispatching on the format's magic bytes, and verifies its debug_id
// against expectedID when expectedID is non-nil. Implementations live
// outside this package (see internal/symbolicate/dispatch) to avoid an
// import cycle between this package and the per-format builders that
// implement SymbolMap.
type OpenSymbolMapFunc func(contents location.FileContents, loc location.FileLocation, expectedID *ids.DebugID, disambiguator MultiArchDisambiguator) (SymbolMap, error)

// DyldCacheOpenFunc extracts one image from a macOS dyld shared cache.
// Non-darwin builds leave this nil; the resolver skips step 4 when so.
type DyldCacheOpenFunc func(cachePath, installName, arch string) (location.FileContents, error)

// Resolver turns a LibraryInfo into an opened SymbolMap by trying each
// candidate location in turn until one opens and its identity matches.
type Resolver struct {
	// CacheDirs are local symbol cache directories, consulted in order.
	CacheDirs []string
	// Servers are remote symbol servers, consulted in order after the
	// local caches.
	Servers []server.Config
	// DebuginfodURL, if set, is consulted last on Linux, keyed by
	// code_id.
	DebuginfodURL string
	// DyldCacheRoot, if set, is the path to the macOS dyld shared
	// cache to search when CodePath looks like a system library.
	DyldCacheRoot string

	Open          OpenSymbolMapFunc
	OpenDyldCache DyldCacheOpenFunc
	HTTPClient    *server.Client

	Logger zerolog.Logger
}

// NewResolver builds a Resolver with the given symbol acquisition
// wiring. HTTPClient may be nil if Servers and DebuginfodURL are both
// unused.
func NewResolver(logger zerolog.Logger, open OpenSymbolMapFunc) *Resolver {
	return &Resolver{
		Open:       open,
		HTTPClient: server.NewClient(logger),
		Logger:     logger.With().Str("component", "resolver").Logger(),
	}
}

// candidate is one place the Resolver tries before giving up.
type candidate struct {
	loc      location.FileLocation
	contents location.FileContents
	err      error
}

// LoadSymbolMap implements the ordered candidate-generation algorithm:
// explicit debug_path, then each local cache directory, then each
// symbol server, then (macOS) the dyld shared cache, then (Linux)
// debuginfod. The first candidate that opens and whose derived debug_id
// matches info.DebugID wins.
func (r *Resolver) LoadSymbolMap(ctx context.Context, info LibraryInfo, disambiguator MultiArchDisambiguator) (SymbolMap, error) {
	var failures []error

	for _, c := range r.candidates(ctx, info) {
		if c.err != nil {
			failures = append(failures, c.err)
			continue
		}

		sm, err := r.Open(c.contents, c.loc, info.DebugID, disambiguator)
		if err != nil {
			_ = c.contents.Close()
			failures = append(failures, classifyOpenError(err))
			continue
		}

		r.Logger.Debug().
			Str("debug_name", info.DebugName).
			Str("location", c.loc.String()).
			Msg("symbol map resolved")
		return sm, nil
	}

	if len(failures) == 0 {
		return nil, symerr.New(symerr.NotFound, "no candidates generated for %s", info.DebugName)
	}
	return nil, symerr.MostInformative(failures)
}

// candidates yields every candidate location in resolution order,
// opening its bytes eagerly (a swallowed open failure just becomes the
// next candidate's err field).
func (r *Resolver) candidates(ctx context.Context, info LibraryInfo) []candidate {
	var out []candidate

	// 1. Explicit debug_path.
	if info.DebugPath != "" {
		loc := location.LocalFile(info.DebugPath)
		out = append(out, r.openLocalCandidate(loc))
	}

	// 2. Local symbol cache directories (requires debug_name + debug_id).
	if info.DebugName != "" && info.DebugID != nil {
		for _, dir := range r.CacheDirs {
			loc := location.CandidateInCacheDir(dir, info.DebugName, *info.DebugID)
			out = append(out, r.openLocalCandidate(loc))
		}
	}

	// 3. Symbol servers.
	if info.DebugName != "" && info.DebugID != nil {
		for _, srv := range r.Servers {
			out = append(out, r.fetchServerCandidate(ctx, srv, info))
		}
	}

	// 4. macOS dyld shared cache, only for system libraries.
	if r.OpenDyldCache != nil && r.DyldCacheRoot != "" && isSystemLibraryPath(info.CodePath) {
		out = append(out, r.openDyldCacheCandidate(info))
	}

	// 5. Linux debuginfod, keyed on code_id.
	if r.DebuginfodURL != "" && info.CodeID != "" {
		out = append(out, r.fetchDebuginfodCandidate(ctx, info))
	}

	return out
}

func (r *Resolver) openLocalCandidate(loc location.FileLocation) candidate {
	contents, err := location.Open(loc)
	if err != nil {
		if os.IsNotExist(err) {
			return candidate{loc: loc, err: symerr.Wrap(symerr.NotFound, err, "%s", loc.String())}
		}
		return candidate{loc: loc, err: symerr.Wrap(symerr.IOError, err, "%s", loc.String())}
	}
	return candidate{loc: loc, contents: contents}
}

func (r *Resolver) fetchServerCandidate(ctx context.Context, srv server.Config, info LibraryInfo) candidate {
	loc := location.CandidateOnServer(srv.URL, srv.TrustedForAbsolutePaths, info.DebugName, *info.DebugID)

	data, err := r.HTTPClient.Fetch(ctx, srv, info.DebugName, *info.DebugID)
	if err != nil {
		if server.IsNotFound(err) {
			return candidate{loc: loc, err: symerr.Wrap(symerr.NotFound, err, "%s", loc.String())}
		}
		return candidate{loc: loc, err: symerr.Wrap(symerr.NetworkError, err, "%s", loc.String())}
	}

	if srv.CacheDir != "" {
		if path, werr := location.WriteCacheFile(srv.CacheDir, info.DebugName, *info.DebugID, bytes.NewReader(data)); werr == nil {
			loc = location.LocalSymbolCacheFile(path, loc.Origin)
		}
	}

	return candidate{loc: loc, contents: location.NewBytesContents(data)}
}

func (r *Resolver) openDyldCacheCandidate(info LibraryInfo) candidate {
	loc := location.DyldCacheImage(r.DyldCacheRoot, info.CodePath)
	contents, err := r.OpenDyldCache(r.DyldCacheRoot, info.CodePath, info.Arch)
	if err != nil {
		return candidate{loc: loc, err: symerr.Wrap(symerr.HelperError, err, "%s", loc.String())}
	}
	return candidate{loc: loc, contents: contents}
}

func (r *Resolver) fetchDebuginfodCandidate(ctx context.Context, info LibraryInfo) candidate {
	loc := location.UrlForSymbolServer(r.DebuginfodURL, info.CodeID, location.Origin{TrustedForAbsolutePaths: false, Description: "debuginfod"})

	data, err := r.HTTPClient.FetchDebuginfod(ctx, r.DebuginfodURL, info.CodeID)
	if err != nil {
		if server.IsNotFound(err) {
			return candidate{loc: loc, err: symerr.Wrap(symerr.NotFound, err, "%s", loc.String())}
		}
		return candidate{loc: loc, err: symerr.Wrap(symerr.NetworkError, err, "%s", loc.String())}
	}
	return candidate{loc: loc, contents: location.NewBytesContents(data)}
}

// classifyOpenError turns a format-opener failure into the taxonomy the
// propagation policy understands. ParseError and UnmatchedDebugID are
// passed through as-is (the opener already classifies them); anything
// else is wrapped as HelperError.
func classifyOpenError(err error) error {
	if _, ok := err.(*symerr.Error); ok {
		return err
	}
	return symerr.Wrap(symerr.HelperError, err, "opening candidate")
}

func isSystemLibraryPath(codePath string) bool {
	return strings.HasPrefix(codePath, "/usr/") || strings.HasPrefix(codePath, "/System/")
}

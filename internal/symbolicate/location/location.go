// Package location implements FileLocation, the closed set of places a
// debug artifact can be found, and FileContents, the random-access byte
// blob a location opens into.
package location

import (
	"fmt"
	"path/filepath"

	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
)

// Origin describes where a symbol file came from, for the purposes of
// deciding whether absolute paths it contains (e.g. Mach-O OSO entries)
// may be trusted. Files obtained from the local filesystem or a local
// symbol cache are trusted; files fetched from a remote symbol server
// are not, unless that server was explicitly configured as trusted.
type Origin struct {
	// TrustedForAbsolutePaths is true when absolute paths embedded in
	// this file (OSO records, PDB source paths) may be dereferenced.
	TrustedForAbsolutePaths bool
	// Description is a short human-readable label for logging, e.g. a
	// cache directory or symbol server URL.
	Description string
}

// Kind discriminates the FileLocation variants.
type Kind int

const (
	// KindLocalFile is a path the caller handed in directly (debug_path).
	KindLocalFile Kind = iota
	// KindLocalSymbolCacheFile is a path inside a configured local
	// symbol cache directory, laid out with the Breakpad convention.
	KindLocalSymbolCacheFile
	// KindURLForSymbolServer is a relative path to fetch from a
	// configured symbol server.
	KindURLForSymbolServer
	// KindDyldCacheImage is an image extracted from a macOS dyld
	// shared cache file.
	KindDyldCacheImage
)

func (k Kind) String() string {
	switch k {
	case KindLocalFile:
		return "local_file"
	case KindLocalSymbolCacheFile:
		return "local_symbol_cache_file"
	case KindURLForSymbolServer:
		return "url_for_symbol_server"
	case KindDyldCacheImage:
		return "dyld_cache_image"
	default:
		return "unknown"
	}
}

// FileLocation names exactly one candidate place to find a debug
// artifact. It is a closed variant: exactly the fields relevant to Kind
// are populated.
type FileLocation struct {
	Kind Kind

	// Path is populated for KindLocalFile and KindLocalSymbolCacheFile.
	Path string
	// Origin is populated for KindLocalSymbolCacheFile and
	// KindURLForSymbolServer.
	Origin Origin

	// ServerURL and RelPath are populated for KindURLForSymbolServer.
	ServerURL string
	RelPath   string

	// CachePath and ImagePath are populated for KindDyldCacheImage.
	CachePath string
	ImagePath string
}

// LocalFile builds a FileLocation for a path the caller supplied
// directly (LibraryInfo.debug_path).
func LocalFile(path string) FileLocation {
	return FileLocation{Kind: KindLocalFile, Path: path}
}

// LocalSymbolCacheFile builds a FileLocation for a path resolved inside
// a configured local symbol cache directory.
func LocalSymbolCacheFile(path string, origin Origin) FileLocation {
	return FileLocation{Kind: KindLocalSymbolCacheFile, Path: path, Origin: origin}
}

// UrlForSymbolServer builds a FileLocation naming a relative path to
// fetch from a symbol server.
func UrlForSymbolServer(serverURL, relPath string, origin Origin) FileLocation {
	return FileLocation{Kind: KindURLForSymbolServer, ServerURL: serverURL, RelPath: relPath, Origin: origin}
}

// DyldCacheImage builds a FileLocation naming an image inside a macOS
// dyld shared cache file.
func DyldCacheImage(cachePath, imagePath string) FileLocation {
	return FileLocation{Kind: KindDyldCacheImage, CachePath: cachePath, ImagePath: imagePath}
}

// String renders a location for logging.
func (l FileLocation) String() string {
	switch l.Kind {
	case KindLocalFile:
		return l.Path
	case KindLocalSymbolCacheFile:
		return l.Path
	case KindURLForSymbolServer:
		return l.ServerURL + "/" + l.RelPath
	case KindDyldCacheImage:
		return l.CachePath + "!" + l.ImagePath
	default:
		return "<invalid file location>"
	}
}

// BreakpadRelativePath computes the Breakpad convention relative layout
// shared by local symbol caches and symbol servers:
// <debug_name>/<debug_id>/<debug_name>.
func BreakpadRelativePath(debugName string, debugID ids.DebugID) string {
	return filepath.Join(debugName, debugID.String(), debugName)
}

// CandidateInCacheDir builds the KindLocalSymbolCacheFile location for
// debugName/debugID inside one configured cache directory.
func CandidateInCacheDir(cacheDir, debugName string, debugID ids.DebugID) FileLocation {
	path := filepath.Join(cacheDir, BreakpadRelativePath(debugName, debugID))
	return LocalSymbolCacheFile(path, Origin{TrustedForAbsolutePaths: true, Description: cacheDir})
}

// CandidateOnServer builds the KindURLForSymbolServer location for
// debugName/debugID on one configured symbol server.
func CandidateOnServer(serverURL string, trusted bool, debugName string, debugID ids.DebugID) FileLocation {
	rel := BreakpadRelativePath(debugName, debugID)
	return UrlForSymbolServer(serverURL, rel, Origin{TrustedForAbsolutePaths: trusted, Description: serverURL})
}

// errLocationKindMismatch is returned by helpers that only make sense
// for a specific Kind.
func errLocationKindMismatch(want, got Kind) error {
	return fmt.Errorf("location: expected kind %s, got %s", want, got)
}

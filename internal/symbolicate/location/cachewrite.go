package location

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
)

// WriteCacheFile persists data under cacheDir using the Breakpad
// relative layout (debug_name/debug_id/debug_name), so that a later
// CandidateInCacheDir lookup for the same (debugName, debugID) finds
// it. The write is atomic: data lands in a temp file beside the final
// path first, then is renamed into place, so a concurrent reader never
// observes a partially written cache entry.
func WriteCacheFile(cacheDir, debugName string, debugID ids.DebugID, data io.Reader) (string, error) {
	finalPath := filepath.Join(cacheDir, BreakpadRelativePath(debugName, debugID))
	dir := filepath.Dir(finalPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("location: create cache dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+debugName+"-*")
	if err != nil {
		return "", fmt.Errorf("location: create temp cache file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("location: write temp cache file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("location: close temp cache file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("location: rename %s to %s: %w", tmpPath, finalPath, err)
	}

	return finalPath, nil
}

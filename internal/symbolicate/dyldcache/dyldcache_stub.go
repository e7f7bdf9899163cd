//go:build !darwin
// +build !darwin

package dyldcache

import (
	"fmt"

	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

// Open is only supported on darwin: the dyld shared cache is a
// macOS-only artifact.
func Open(cachePath, installName, arch string) (location.FileContents, error) {
	return nil, fmt.Errorf("dyldcache: dyld shared cache extraction is only supported on darwin")
}

// Package dispatch wires the per-format SymbolMap builders
// (internal/symbolicate/elfsym, machosym, pesym, breakpad) behind a
// single symbolicate.OpenSymbolMapFunc, selected by sniffing the
// artifact's magic bytes. It exists separately from
// internal/symbolicate to avoid an import cycle: the format builders
// import symbolicate for its SymbolMap interface and types, so nothing
// that imports a format builder can live inside symbolicate itself.
package dispatch

import (
	"bytes"
	"encoding/binary"

	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/breakpad"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/elfsym"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/machosym"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/pesym"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/symerr"
)

const (
	elfMagic       = "\x7fELF"
	peMagicDOS     = "MZ"
	breakpadPrefix = "MODULE "
	msfMagicPrefix = "Microsoft C/C++ MSF 7.00"
	portablePDBMagic = "BSJB"

	machoMagic32    = 0xfeedface
	machoMagic64    = 0xfeedfacf
	machoMagic32BE  = 0xcefaedfe
	machoMagic64BE  = 0xcffaedfe
	machoFatMagic   = 0xcafebabe
	machoFatMagicBE = 0xbebafeca

	// headBufSize must cover the longest magic prefix sniffed below:
	// the MSF container signature is 24 characters.
	headBufSize = 32
)

// Open sniffs contents' magic bytes and dispatches to the matching
// format builder. It implements symbolicate.OpenSymbolMapFunc.
func Open(contents location.FileContents, loc location.FileLocation, expectedID *ids.DebugID, disambiguator symbolicate.MultiArchDisambiguator) (symbolicate.SymbolMap, error) {
	head := make([]byte, headBufSize)
	n, err := contents.ReadAt(head, 0)
	if err != nil && n == 0 {
		return nil, symerr.Wrap(symerr.ParseError, err, "reading magic bytes")
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte(elfMagic)):
		return elfsym.Open(contents, loc, expectedID, disambiguator)

	case bytes.HasPrefix(head, []byte(msfMagicPrefix)):
		return pesym.OpenPDB(contents, loc, expectedID, disambiguator)

	case bytes.HasPrefix(head, []byte(portablePDBMagic)):
		return nil, symerr.New(symerr.ParseError, "portable PDB format is not supported")

	case len(head) >= 2 && string(head[:2]) == peMagicDOS:
		return pesym.Open(contents, loc, expectedID, disambiguator)

	case isMachOMagic(head):
		return machosym.Open(contents, loc, expectedID, disambiguator)

	case bytes.HasPrefix(head, []byte(breakpadPrefix)):
		return breakpad.Open(contents, loc, expectedID, disambiguator)

	default:
		return nil, symerr.New(symerr.ParseError, "unrecognized artifact magic %x", head)
	}
}

func isMachOMagic(head []byte) bool {
	if len(head) < 4 {
		return false
	}
	magic := binary.LittleEndian.Uint32(head[:4])
	switch magic {
	case machoMagic32, machoMagic64, machoMagic32BE, machoMagic64BE, machoFatMagic, machoFatMagicBE:
		return true
	default:
		return false
	}
}

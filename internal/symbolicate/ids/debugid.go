// Package ids implements the Debug ID / Breakpad ID identity used to
// match a requested library against an opened debug artifact, and the
// per-format derivation rules described in the symbolication glossary:
// Mach-O UUID, ELF build-id with endian flip, and PE GUID+age.
package ids

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Size is the length in bytes of the UUID payload carried by a DebugID.
const Size = 16

// DebugID identifies one debug artifact: a 16-byte UUID plus an
// architecture-specific "age" nibble that only Windows PDBs populate
// with a nonzero value.
type DebugID struct {
	UUID uuid.UUID
	Age  uint32
}

// String renders the Breakpad text form: uppercase hex UUID bytes
// (as laid out, not canonical UUID dashes) followed by the age in
// lowercase hex, with no separator. This is the form used both for
// on-disk symbol cache paths and for the Tecken JSON wire format.
func (d DebugID) String() string {
	return strings.ToUpper(hex.EncodeToString(d.UUID[:])) + fmt.Sprintf("%x", d.Age)
}

// IsZero reports whether d carries no identity at all.
func (d DebugID) IsZero() bool {
	return d.UUID == uuid.Nil && d.Age == 0
}

// Parse parses the Breakpad text form produced by String. It accepts
// exactly 32 or more hex characters: the first 32 are the UUID, any
// remainder is the age in hex.
//
// Parse(id.String()) == id for every id produced by New or the
// per-format derivations below; this is the round-trip law from the
// symbolication properties.
func Parse(s string) (DebugID, error) {
	if len(s) < 32 {
		return DebugID{}, fmt.Errorf("ids: debug id %q too short", s)
	}
	uuidPart := s[:32]
	agePart := s[32:]

	raw, err := hex.DecodeString(uuidPart)
	if err != nil {
		return DebugID{}, fmt.Errorf("ids: invalid uuid hex in %q: %w", s, err)
	}
	var u uuid.UUID
	copy(u[:], raw)

	var age uint64
	if agePart != "" {
		age, err = parseHexUint(agePart)
		if err != nil {
			return DebugID{}, fmt.Errorf("ids: invalid age hex in %q: %w", s, err)
		}
	}

	return DebugID{UUID: u, Age: uint32(age)}, nil
}

func parseHexUint(s string) (uint64, error) {
	var v uint64
	for _, c := range s {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint64(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uint64(c-'A') + 10
		default:
			return 0, fmt.Errorf("not a hex digit: %q", c)
		}
	}
	return v, nil
}

// FromMachOUUID builds a DebugID directly from a Mach-O LC_UUID payload.
// Mach-O carries no age; it is always zero.
func FromMachOUUID(raw [Size]byte) DebugID {
	return DebugID{UUID: uuid.UUID(raw)}
}

// FromPECodeView builds the Breakpad ID for a PE's CodeView RSDS record:
// the GUID bytes as written (already in Breakpad's expected field order
// for saferwall/pe's GUID struct) plus the PDB age.
//
// Open question (preserved from the source this was distilled from):
// some toolchains expect age - 1 here rather than age verbatim. This
// implementation keeps age as reported by the PE; validate against a
// real PDB corpus before depending on exact equality with another
// symbol server's IDs.
func FromPECodeView(guid [Size]byte, age uint32) DebugID {
	return DebugID{UUID: uuid.UUID(guid), Age: age}
}

// FromELFBuildID derives the Breakpad-compatible debug id for an ELF
// build-id note or text-section hash, per the ELF derivation rule:
// the first 16 bytes of the identifier, byte-reversed in the first
// three UUID fields when the ELF is little-endian, with the age
// nibble fixed at 0.
func FromELFBuildID(identifier []byte, littleEndian bool) DebugID {
	var data [Size]byte
	n := len(identifier)
	if n > Size {
		n = Size
	}
	copy(data[:n], identifier[:n])

	if littleEndian {
		reverse(data[0:4])
		reverse(data[4:6])
		reverse(data[6:8])
	}

	return DebugID{UUID: uuid.UUID(data)}
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// HashELFTextPage computes the Breakpad fallback identifier for an ELF
// object with no build-id note: XOR successive 16-byte chunks of the
// first page (4096 bytes) of the .text section into a 16-byte
// accumulator.
func HashELFTextPage(text []byte) []byte {
	const pageSize = 4096
	acc := make([]byte, Size)
	n := len(text)
	if n > pageSize {
		n = pageSize
	}
	for i := 0; i < n; i++ {
		acc[i%Size] ^= text[i]
	}
	return acc
}

package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   DebugID
	}{
		{"zero age", DebugID{UUID: uuid.New()}},
		{"nonzero age", DebugID{UUID: uuid.New(), Age: 7}},
		{"large age", DebugID{UUID: uuid.New(), Age: 0xABCDEF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.id.String())
			require.NoError(t, err)
			assert.Equal(t, tt.id, got)
		})
	}
}

func TestFromELFBuildIDLittleEndianFlipIsInvolution(t *testing.T) {
	// Applying the endian flip twice must be the identity: derive once
	// with the flip, then feed the resulting UUID bytes back through
	// the same flip and expect the original identifier back out.
	identifier := []byte{0xa0, 0xb1, 0xc2, 0xd3, 0xe4, 0xf5, 0x06, 0x17, 0x28, 0x39, 0x4a, 0x5b, 0x6c, 0x7d, 0x8e, 0x9f}

	flipped := FromELFBuildID(identifier, true)
	twiceFlipped := FromELFBuildID(flipped.UUID[:], true)

	assert.Equal(t, identifier, twiceFlipped.UUID[:])
}

func TestFromELFBuildIDBigEndianNoFlip(t *testing.T) {
	identifier := []byte{0xa0, 0xb1, 0xc2, 0xd3, 0xe4, 0xf5, 0x06, 0x17, 0x28, 0x39, 0x4a, 0x5b, 0x6c, 0x7d, 0x8e, 0x9f}

	id := FromELFBuildID(identifier, false)

	assert.Equal(t, identifier, id.UUID[:])
	assert.Equal(t, uint32(0), id.Age)
}

func TestFromPECodeViewRoundTrip(t *testing.T) {
	// {11223344-5566-7788-99AA-BBCCDDEEFF00}, age 2.
	guidStr := "112233445566778899AABBCCDDEEFF00"
	_ = guidStr // documented shape; constructed below byte-for-byte
	guid := [Size]byte{
		0x11, 0x22, 0x33, 0x44,
		0x55, 0x66,
		0x77, 0x88,
		0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00,
	}

	id := FromPECodeView(guid, 2)
	assert.Equal(t, "112233445566778899AABBCCDDEEFF002", id.String())

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestHashELFTextPage(t *testing.T) {
	// A page shorter than 4096 bytes hashes only the bytes present.
	text := []byte("hello world")
	hash := HashELFTextPage(text)
	require.Len(t, hash, Size)

	// Deterministic: same input hashes identically.
	assert.Equal(t, hash, HashELFTextPage(text))

	// Different input hashes differently (not a strict guarantee in
	// general, but true for this input under XOR folding).
	assert.NotEqual(t, hash, HashELFTextPage([]byte("goodbye world")))
}

package symerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMostInformativePrefersUnmatchedOverNotFound(t *testing.T) {
	errs := []error{
		New(NotFound, "cache miss"),
		New(UnmatchedDebugID, "wrong id"),
		New(NotFound, "another cache miss"),
	}

	got := MostInformative(errs)
	kind, ok := KindOf(got)
	assert.True(t, ok)
	assert.Equal(t, UnmatchedDebugID, kind)
}

func TestMostInformativeEmpty(t *testing.T) {
	assert.Nil(t, MostInformative(nil))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IOError, cause, "writing cache file")

	assert.True(t, errors.Is(err, cause))
	assert.True(t, Is(err, IOError))
}

func TestKindOfNonSymerr(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

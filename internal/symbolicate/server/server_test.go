package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/testutil"
)

func TestFetchSuccess(t *testing.T) {
	debugID := ids.DebugID{UUID: uuid.New()}
	wantPath := "/libfoo.so/" + debugID.String() + "/libfoo.so"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantPath, r.URL.Path)
		_, _ = w.Write([]byte("symbol bytes"))
	}))
	defer srv.Close()

	c := NewClient(testutil.NewTestLogger(t))
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	got, err := c.Fetch(ctx, Config{URL: srv.URL}, "libfoo.so", debugID)
	require.NoError(t, err)
	assert.Equal(t, "symbol bytes", string(got))
}

func TestFetchNotFoundNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testutil.NewTestLogger(t))
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	_, err := c.Fetch(ctx, Config{URL: srv.URL}, "libfoo.so", ids.DebugID{UUID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFetchServerErrorRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testutil.NewTestLogger(t))
	c.retryCfg.InitialBackoff = 1
	c.retryCfg.MaxBackoff = 1
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	_, err := c.Fetch(ctx, Config{URL: srv.URL}, "libfoo.so", ids.DebugID{UUID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, c.retryCfg.MaxRetries, calls)
}

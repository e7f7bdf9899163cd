// Package server implements remote symbol acquisition: fetching a
// candidate debug artifact from a configured symbol server or from a
// Linux debuginfod instance, with exponential-backoff retry over
// transient network failures.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symbolicore/internal/retry"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/ids"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/location"
)

// Config names one symbol server: its base URL, the local cache
// directory used to stash fetched artifacts, and whether paths it
// reports (inside OSO/PDB records of files it serves) may be trusted.
type Config struct {
	URL                     string `yaml:"url"`
	CacheDir                string `yaml:"cache_dir"`
	TrustedForAbsolutePaths bool   `yaml:"trusted_for_absolute_paths"`
}

// DefaultRetryConfig is the backoff policy applied to symbol server
// fetches: three attempts, starting at 200ms, capped at 2s.
var DefaultRetryConfig = retry.Config{
	MaxRetries:     3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Jitter:         0.2,
}

// Client fetches candidate debug artifacts over HTTP, either from a
// configured symbol server's Breakpad-layout URL or from a debuginfod
// instance.
type Client struct {
	httpClient *http.Client
	retryCfg   retry.Config
	logger     zerolog.Logger
}

// NewClient builds a Client with the default HTTP timeout and retry
// policy.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   DefaultRetryConfig,
		logger:     logger.With().Str("component", "symbol_server_client").Logger(),
	}
}

// Fetch retrieves debugName/debugID from cfg's symbol server, using the
// Breakpad relative layout, and returns the response body. Transient
// network and 5xx failures are retried; 404 and other 4xx responses
// fail immediately since a retry cannot change the outcome.
func (c *Client) Fetch(ctx context.Context, cfg Config, debugName string, debugID ids.DebugID) ([]byte, error) {
	relPath := location.BreakpadRelativePath(debugName, debugID)
	url := cfg.URL + "/" + relPath

	var body []byte
	err := retry.Do(ctx, c.retryCfg, func() error {
		b, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	}, isRetryableFetchError)

	if err != nil {
		return nil, fmt.Errorf("server: fetch %s: %w", url, err)
	}
	return body, nil
}

// FetchDebuginfod retrieves the debuginfo file for codeID from a
// debuginfod instance (Linux), keyed on the ELF build-id code_id rather
// than the Breakpad debug_id.
func (c *Client) FetchDebuginfod(ctx context.Context, debuginfodURL, codeID string) ([]byte, error) {
	url := fmt.Sprintf("%s/buildid/%s/debuginfo", debuginfodURL, codeID)

	var body []byte
	err := retry.Do(ctx, c.retryCfg, func() error {
		b, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	}, isRetryableFetchError)

	if err != nil {
		return nil, fmt.Errorf("server: fetch debuginfod %s: %w", url, err)
	}
	return body, nil
}

// notFoundError marks a 404-equivalent response so callers (the
// resolver) can swallow it per the error-propagation policy instead of
// surfacing it as a network error.
type notFoundError struct {
	url string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("server: %s not found", e.url)
}

// IsNotFound reports whether err indicates the artifact does not exist
// on the server (as opposed to a transient failure).
func IsNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

// clientError marks a non-404 4xx response: the request itself is
// malformed or rejected, so retrying it would not help.
type clientError struct {
	url    string
	status int
}

func (e *clientError) Error() string {
	return fmt.Sprintf("server: %s returned %d", e.url, e.status)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", url).Msg("symbol server fetch failed")
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusNotFound:
		return nil, &notFoundError{url: url}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	default:
		return nil, &clientError{url: url, status: resp.StatusCode}
	}
}

// isRetryableFetchError decides which failures are worth a backoff
// retry: transport-level errors and 5xx responses, never a 404 or
// other 4xx since the artifact simply isn't there or the request
// cannot succeed by retrying.
func isRetryableFetchError(err error) bool {
	if IsNotFound(err) {
		return false
	}
	var ce *clientError
	return !errors.As(err, &ce)
}

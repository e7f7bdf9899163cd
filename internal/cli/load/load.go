// Package load implements the `symbolicore load` subcommand: serve a
// previously recorded Gecko profile JSON file, plus the Tecken
// symbolication API the Firefox Profiler UI calls back into while
// displaying it, over HTTP.
package load

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/symbolicore/internal/config"
	"github.com/coral-mesh/symbolicore/internal/logging"
	"github.com/coral-mesh/symbolicore/internal/symbolicate"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/dispatch"
	"github.com/coral-mesh/symbolicore/internal/symbolicate/dyldcache"
	"github.com/coral-mesh/symbolicore/internal/tecken"
)

// NewCommand builds the load command.
func NewCommand() *cobra.Command {
	var (
		addr          string
		unlinkAux     bool
		debuginfodURL string
	)

	cmd := &cobra.Command{
		Use:   "load <profile.json>",
		Short: "Serve a recorded profile and its symbolication API",
		Long: `Load reads a Gecko processed profile written by 'symbolicore
record', and serves it over HTTP at GET /profile, alongside the Tecken
symbolication endpoints (POST /symbolicate/v5, POST /source/v1) the
Firefox Profiler UI queries on demand while a profile is displayed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			//nolint:gosec // G304: path is a command-line argument, not web input.
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read profile %s: %w", path, err)
			}

			logger := logging.New(logging.DefaultConfig())
			resolver, err := buildResolver(logger, debuginfodURL)
			if err != nil {
				return fmt.Errorf("build resolver: %w", err)
			}
			mgr := tecken.NewResolverSymbolManager(resolver)

			mux := http.NewServeMux()
			mux.HandleFunc("/profile", serveProfile(data))
			mux.HandleFunc("/symbolicate/v5", serveSymbolicate(mgr))
			mux.HandleFunc("/source/v1", serveSource(mgr))

			if unlinkAux {
				defer func() {
					if err := os.Remove(path); err != nil {
						logger.Warn().Err(err).Str("path", path).Msg("failed to unlink profile file")
					}
				}()
			}

			logger.Info().Str("addr", addr).Str("profile", path).Msg("serving profile")
			server := &http.Server{Addr: addr, Handler: mux}
			return server.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&addr, "listen", "127.0.0.1:8765", "Address to serve the profile and symbolication API on")
	cmd.Flags().BoolVar(&unlinkAux, "unlink-aux-files", false, "Delete the profile file once the server exits")
	cmd.Flags().StringVar(&debuginfodURL, "debuginfod-url", "", "Debuginfod server to consult for symbols not found locally")

	return cmd
}

func buildResolver(logger zerolog.Logger, debuginfodURL string) (*symbolicate.Resolver, error) {
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	resolver := symbolicate.NewResolver(logger, dispatch.Open)
	resolver.CacheDirs = []string{cfg.CacheDir}
	resolver.Servers = cfg.Servers
	resolver.DebuginfodURL = debuginfodURL
	resolver.OpenDyldCache = dyldcache.Open
	return resolver, nil
}

func serveProfile(data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}

func serveSymbolicate(mgr tecken.SymbolManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req tecken.SymbolicateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}
		resp := tecken.Symbolicate(r.Context(), mgr, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func serveSource(mgr tecken.SymbolManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req tecken.SourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}
		resp := tecken.Source(r.Context(), mgr, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

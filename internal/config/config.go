// Package config loads symbolicore's symbol-server configuration:
// a list of remote servers to consult and the local cache directory
// layout, layered from ~/.symbolicore/config.yaml plus environment
// overrides on top of a loaded YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/symbolicore/internal/symbolicate/server"
)

const (
	defaultDir    = ".symbolicore"
	configFile    = "config.yaml"
	fallbackDir   = "/tmp/symbolicore-fallback"
	envCacheDir   = "SYMBOLICORE_CACHE_DIR"
	envConfigHome = "SYMBOLICORE_CONFIG"
)

// SymbolConfig is ~/.symbolicore/config.yaml: the default local symbol
// cache directory and the list of remote symbol servers to consult
// after it.
type SymbolConfig struct {
	CacheDir string          `yaml:"cache_dir"`
	Servers  []server.Config `yaml:"servers,omitempty"`
}

// DefaultSymbolConfig returns the configuration used when no config
// file exists yet: just the default local cache directory, no remote
// servers.
func DefaultSymbolConfig(homeDir string) SymbolConfig {
	return SymbolConfig{
		CacheDir: filepath.Join(homeDir, defaultDir, "cache"),
	}
}

// Loader resolves and reads symbolicore's config file.
type Loader struct {
	homeDir string
}

// NewLoader builds a Loader, resolving the base directory in order:
// SYMBOLICORE_CONFIG env var, the user home directory, or a fixed
// fallback directory in containerized environments with no home dir.
// This never fails: missing config just means defaults apply.
func NewLoader() *Loader {
	if dir := os.Getenv(envConfigHome); dir != "" {
		return &Loader{homeDir: dir}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return &Loader{homeDir: home}
	}
	return &Loader{homeDir: fallbackDir}
}

// ConfigPath returns the path to the config file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.homeDir, defaultDir, configFile)
}

// Load reads the config file if present, falling back to defaults,
// then applies environment variable overrides.
func (l *Loader) Load() (SymbolConfig, error) {
	cfg := DefaultSymbolConfig(l.homeDir)

	path := l.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		//nolint:gosec // G304: path is from the trusted config directory.
		data, err := os.ReadFile(path)
		if err != nil {
			return SymbolConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return SymbolConfig{}, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return SymbolConfig{}, fmt.Errorf("stat config: %w", err)
	}

	if dir := os.Getenv(envCacheDir); dir != "" {
		cfg.CacheDir = dir
	}

	return cfg, nil
}

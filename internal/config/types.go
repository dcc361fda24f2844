package config

import (
	"errors"
	"path/filepath"
)

// ErrAmbiguousPin reports two fragments at the same scope level disagreeing
// about the same tool. This is surfaced, never silently resolved.
var ErrAmbiguousPin = errors.New("ambiguous tool pin")

// FragmentError wraps a parse failure with the offending fragment location.
type FragmentError struct {
	Path string
	Err  error
}

func (e *FragmentError) Error() string {
	return "config fragment " + e.Path + ": " + e.Err.Error()
}

func (e *FragmentError) Unwrap() error { return e.Err }

// ToolConfig is the declarative pin for one tool as written in a fragment's
// `tools` table. A later fragment's entry fully replaces an earlier one;
// fields are never blended across fragments.
type ToolConfig struct {
	Version  string   `toml:"version"`
	Features []string `toml:"features"`
	Registry string   `toml:"registry"`
	Git      string   `toml:"git"`
	Branch   string   `toml:"branch"`
	Tag      string   `toml:"tag"`
	Rev      string   `toml:"rev"`
}

// RegistryConfig declares a named registry's metadata API endpoint.
type RegistryConfig struct {
	API string `toml:"api"`
}

// fragment is the on-disk shape of one cgx.toml file. The `tools` table
// accepts either a bare version string or a detailed table per entry, so it
// is decoded loosely and coerced afterwards.
type fragment struct {
	BinDir          string                    `toml:"bin_dir"`
	CacheDir        string                    `toml:"cache_dir"`
	DefaultRegistry string                    `toml:"default_registry"`
	Registries      map[string]RegistryConfig `toml:"registries"`
	Tools           map[string]any            `toml:"tools"`
	Aliases         map[string]string         `toml:"aliases"`
}

// Config is the effective configuration after merging every scope. It is
// rebuilt on each invocation and never persisted.
type Config struct {
	// BinDir holds installed binaries, one subdirectory per resolved target.
	BinDir string

	// CacheDir is the root for the installation manifest and lock files.
	CacheDir string

	// DefaultRegistry names the registry used when a tool does not specify
	// one. Empty means the built-in default registry.
	DefaultRegistry string

	// Registries maps registry names to their declared endpoints.
	Registries map[string]RegistryConfig

	// Tools maps tool names to their effective pin. At most one entry per
	// tool survives the merge.
	Tools map[string]ToolConfig

	// Aliases maps short names to tool names, e.g. rg -> ripgrep.
	Aliases map[string]string
}

// Overrides carries the command-line values that participate in the config
// merge at the highest precedence level.
type Overrides struct {
	// ConfigFile, when set, is read as the only fragment; discovery of
	// system, user, and directory fragments is disabled.
	ConfigFile string

	BinDir          string
	CacheDir        string
	DefaultRegistry string
}

// ManifestPath returns the location of the installation manifest append log.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.CacheDir, "manifest.jsonl")
}

// LocksDir returns the directory holding per-target install lock files.
func (c *Config) LocksDir() string {
	return filepath.Join(c.CacheDir, "locks")
}

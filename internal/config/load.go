package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"

	"github.com/anelson-labs/cgx/internal/logger"
	"github.com/anelson-labs/cgx/internal/toolspec"
)

// Fragment file names recognized at the directory scope. Both may exist in
// one directory; they form a single scope level and must not disagree.
var dirFragmentNames = []string{"cgx.toml", ".cgx.toml"}

// Load builds the effective configuration for an invocation started in
// startDir. Fragments are merged in ascending precedence: system fragment,
// user fragment, one scope per directory from the filesystem root down to
// startDir, then the command-line overrides. Missing fragments are skipped
// silently; a malformed fragment or an ambiguous same-scope pin fails the
// whole load.
func Load(startDir string, ov Overrides) (*Config, error) {
	scopes, err := discoverScopes(startDir, ov)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Registries: make(map[string]RegistryConfig),
		Tools:      make(map[string]ToolConfig),
		Aliases:    make(map[string]string),
	}

	for _, scope := range scopes {
		if err := applyScope(cfg, scope); err != nil {
			return nil, err
		}
	}

	applyOverrides(cfg, ov)

	if err := applyDefaultDirs(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// discoverScopes returns fragment paths grouped by scope level, lowest
// precedence first. Every path returned exists on disk.
func discoverScopes(startDir string, ov Overrides) ([][]string, error) {
	// An explicit config file disables all discovery.
	if ov.ConfigFile != "" {
		if _, err := os.Stat(ov.ConfigFile); err != nil {
			return nil, &FragmentError{Path: ov.ConfigFile, Err: err}
		}
		return [][]string{{ov.ConfigFile}}, nil
	}

	var scopes [][]string

	if p := systemFragmentPath(); p != "" && fileExists(p) {
		scopes = append(scopes, []string{p})
	}

	if userDir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(userDir, "cgx", "cgx.toml")
		if fileExists(p) {
			scopes = append(scopes, []string{p})
		}
	}

	abs, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("resolving start directory: %w", err)
	}

	// Walk root to leaf so closer directories take precedence.
	var dirs []string
	for d := abs; ; d = filepath.Dir(d) {
		dirs = append([]string{d}, dirs...)
		if filepath.Dir(d) == d {
			break
		}
	}

	for _, dir := range dirs {
		var scope []string
		for _, name := range dirFragmentNames {
			p := filepath.Join(dir, name)
			if fileExists(p) {
				scope = append(scope, p)
			}
		}
		if len(scope) > 0 {
			scopes = append(scopes, scope)
		}
	}

	return scopes, nil
}

// applyScope merges every fragment of one scope level into cfg. Two
// fragments at the same level pinning the same tool is an ambiguity error.
func applyScope(cfg *Config, paths []string) error {
	// Tool names pinned earlier within this same scope, by fragment path.
	pinnedBy := make(map[string]string)

	for _, path := range paths {
		frag, tools, err := parseFragment(path)
		if err != nil {
			return err
		}

		for name := range tools {
			if other, dup := pinnedBy[name]; dup {
				return &FragmentError{
					Path: path,
					Err:  fmt.Errorf("%w: tool %q also pinned by %s", ErrAmbiguousPin, name, other),
				}
			}
			pinnedBy[name] = path
		}

		logger.Debug("[DEBUG] merging config fragment %s (%d tools, %d aliases)\n",
			path, len(tools), len(frag.Aliases))

		if frag.BinDir != "" {
			cfg.BinDir = expandHome(frag.BinDir)
		}
		if frag.CacheDir != "" {
			cfg.CacheDir = expandHome(frag.CacheDir)
		}
		if frag.DefaultRegistry != "" {
			cfg.DefaultRegistry = frag.DefaultRegistry
		}
		for name, reg := range frag.Registries {
			cfg.Registries[name] = reg
		}
		// Full replacement per tool: no field-level blending across scopes.
		for name, tc := range tools {
			cfg.Tools[name] = tc
		}
		for alias, target := range frag.Aliases {
			cfg.Aliases[alias] = target
		}
	}

	return nil
}

func applyOverrides(cfg *Config, ov Overrides) {
	if ov.BinDir != "" {
		cfg.BinDir = ov.BinDir
	}
	if ov.CacheDir != "" {
		cfg.CacheDir = ov.CacheDir
	}
	if ov.DefaultRegistry != "" {
		cfg.DefaultRegistry = ov.DefaultRegistry
	}
}

func applyDefaultDirs(cfg *Config) error {
	if cfg.BinDir != "" && cfg.CacheDir != "" {
		return nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return fmt.Errorf("locating user cache directory: %w", err)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(base, "cgx")
	}
	if cfg.BinDir == "" {
		cfg.BinDir = filepath.Join(base, "cgx", "bins")
	}
	return nil
}

// parseFragment reads one fragment and coerces its tools table, which
// accepts either `name = "1.2"` or a detailed `[tools.name]` table.
func parseFragment(path string) (*fragment, map[string]ToolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &FragmentError{Path: path, Err: err}
	}

	var frag fragment
	if err := toml.Unmarshal(data, &frag); err != nil {
		return nil, nil, &FragmentError{Path: path, Err: err}
	}

	tools := make(map[string]ToolConfig, len(frag.Tools))
	for name, raw := range frag.Tools {
		tc, err := coerceToolEntry(raw)
		if err != nil {
			return nil, nil, &FragmentError{Path: path, Err: fmt.Errorf("tools.%s: %w", name, err)}
		}
		tools[name] = tc
	}

	return &frag, tools, nil
}

func coerceToolEntry(raw any) (ToolConfig, error) {
	switch v := raw.(type) {
	case string:
		// A pin that can never resolve is this fragment's mistake, not a
		// bad specifier at invocation time.
		if _, err := toolspec.ParseConstraint(v); err != nil {
			return ToolConfig{}, err
		}
		return ToolConfig{Version: v}, nil
	case map[string]any:
		var tc ToolConfig
		for key, val := range v {
			switch key {
			case "version":
				if err := asString(val, &tc.Version); err != nil {
					return tc, err
				}
				if _, err := toolspec.ParseConstraint(tc.Version); err != nil {
					return tc, err
				}
			case "features":
				list, ok := val.([]any)
				if !ok {
					return tc, fmt.Errorf("features must be a list of strings")
				}
				for _, f := range list {
					s, ok := f.(string)
					if !ok {
						return tc, fmt.Errorf("features must be a list of strings")
					}
					tc.Features = append(tc.Features, s)
				}
			case "registry":
				if err := asString(val, &tc.Registry); err != nil {
					return tc, err
				}
			case "git":
				if err := asString(val, &tc.Git); err != nil {
					return tc, err
				}
			case "branch":
				if err := asString(val, &tc.Branch); err != nil {
					return tc, err
				}
			case "tag":
				if err := asString(val, &tc.Tag); err != nil {
					return tc, err
				}
			case "rev":
				if err := asString(val, &tc.Rev); err != nil {
					return tc, err
				}
			default:
				return tc, fmt.Errorf("unknown key %q", key)
			}
		}
		return tc, nil
	default:
		return ToolConfig{}, fmt.Errorf("entry must be a version string or a table")
	}
}

func asString(val any, dst *string) error {
	s, ok := val.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", val)
	}
	*dst = s
	return nil
}

func systemFragmentPath() string {
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			return filepath.Join(pd, "cgx", "cgx.toml")
		}
		return ""
	}
	return "/etc/cgx.toml"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func expandHome(path string) string {
	if len(path) >= 2 && path[0] == '~' && os.IsPathSeparator(path[1]) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

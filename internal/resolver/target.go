package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/anelson-labs/cgx/internal/source"
)

// SourceKind tags the variants of a tool's origin.
type SourceKind string

const (
	// SourceRegistry covers both the default registry and named registries;
	// the API URL makes the source fully qualified.
	SourceRegistry SourceKind = "registry"

	// SourceGit is a git repository pinned to an exact commit.
	SourceGit SourceKind = "git"
)

// Source is the fully qualified origin of a resolved target.
type Source struct {
	Kind SourceKind `json:"kind"`

	// Registry fields (Kind == SourceRegistry).
	RegistryName string `json:"registry_name,omitempty"`
	RegistryAPI  string `json:"registry_api,omitempty"`

	// Git fields (Kind == SourceGit). Commit is the exact resolved hash,
	// never a branch or tag.
	GitRepo string `json:"git_repo,omitempty"`
	Commit  string `json:"commit,omitempty"`
}

// Target is the single concrete, installable identity a specifier resolves
// to. Two targets are equal iff every field matches exactly; that equality
// is the installation cache key. Targets are never mutated after creation.
type Target struct {
	Name   string `json:"name"`
	Source Source `json:"source"`

	// Version is the exact resolved version for registry sources; empty for
	// git sources, where Source.Commit plays the same structural role.
	Version string `json:"version,omitempty"`

	// Features is the resolved feature set, sorted for stable equality.
	Features []string `json:"features,omitempty"`

	AllFeatures       bool `json:"all_features,omitempty"`
	NoDefaultFeatures bool `json:"no_default_features,omitempty"`
}

// NewTarget builds a target with a canonically sorted feature set.
func NewTarget(name string, src Source, version string, features []string, allFeatures, noDefault bool) Target {
	sorted := append([]string(nil), features...)
	sort.Strings(sorted)
	return Target{
		Name:              name,
		Source:            src,
		Version:           version,
		Features:          sorted,
		AllFeatures:       allFeatures,
		NoDefaultFeatures: noDefault,
	}
}

// CacheKey returns a stable digest of every identity field. It keys the
// installation cache and the per-target install locks, so installs of
// different resolved versions of one tool never contend.
func (t Target) CacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%t\x00%t",
		t.Name, t.Source.Kind, t.Source.RegistryName, t.Source.RegistryAPI,
		t.Source.GitRepo, t.Source.Commit, t.Version,
		t.AllFeatures, t.NoDefaultFeatures)
	for _, f := range t.Features {
		fmt.Fprintf(h, "\x00%s", f)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// DisplayVersion is the version-like identity shown to users: the exact
// version for registry sources, the abbreviated commit for git sources.
func (t Target) DisplayVersion() string {
	if t.Source.Kind == SourceGit {
		if len(t.Source.Commit) >= 12 {
			return t.Source.Commit[:12]
		}
		return t.Source.Commit
	}
	return t.Version
}

func (t Target) String() string {
	switch t.Source.Kind {
	case SourceGit:
		return fmt.Sprintf("%s (%s@%s)", t.Name, t.Source.GitRepo, t.DisplayVersion())
	default:
		reg := t.Source.RegistryName
		if reg == "" {
			reg = "default registry"
		}
		s := fmt.Sprintf("%s@%s (%s)", t.Name, t.Version, reg)
		if len(t.Features) > 0 {
			s += " features=" + strings.Join(t.Features, ",")
		}
		return s
	}
}

// Request carries the per-invocation source and feature overrides supplied
// on the command line. They take precedence over the configured pin.
type Request struct {
	Features          []string
	AllFeatures       bool
	NoDefaultFeatures bool

	Git      string
	Branch   string
	Tag      string
	Rev      string
	Registry string
}

// refSelector converts branch/tag/rev fields to a ref query. Exactly one of
// branch, tag, rev may be set; none means the default branch.
func refSelector(branch, tag, rev string) (source.RefKind, string, error) {
	set := 0
	for _, s := range []string{branch, tag, rev} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return "", "", fmt.Errorf("branch, tag, and rev are mutually exclusive")
	}
	switch {
	case branch != "":
		return source.RefBranch, branch, nil
	case tag != "":
		return source.RefTag, tag, nil
	case rev != "":
		return source.RefCommit, rev, nil
	default:
		return source.RefDefaultBranch, "", nil
	}
}

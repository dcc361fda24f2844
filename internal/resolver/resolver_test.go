package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anelson-labs/cgx/internal/config"
	"github.com/anelson-labs/cgx/internal/source"
	"github.com/anelson-labs/cgx/internal/toolspec"
)

type fakeLister struct {
	versions map[string][]source.VersionInfo
}

func (f fakeLister) ListVersions(name string) ([]source.VersionInfo, error) {
	vs, ok := f.versions[name]
	if !ok {
		return nil, fmt.Errorf("crate %s not found", name)
	}
	return vs, nil
}

type fakeRefResolver struct {
	commits map[string]string
	err     error
}

func (f fakeRefResolver) ResolveRef(repo string, kind source.RefKind, ref string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if c, ok := f.commits[ref]; ok {
		return c, nil
	}
	if c, ok := f.commits[""]; ok && ref == "" {
		return c, nil
	}
	return "", fmt.Errorf("ref %q not found in %s", ref, repo)
}

func fakeSources(lister fakeLister, git fakeRefResolver) Sources {
	return Sources{
		NewLister: func(api string) source.VersionLister { return lister },
		Git:       git,
	}
}

func emptyConfig() *config.Config {
	return &config.Config{
		Registries: map[string]config.RegistryConfig{},
		Tools:      map[string]config.ToolConfig{},
		Aliases:    map[string]string{},
	}
}

func versions(nums ...string) []source.VersionInfo {
	out := make([]source.VersionInfo, len(nums))
	for i, n := range nums {
		out[i] = source.VersionInfo{Num: n}
	}
	return out
}

func mustSpec(t *testing.T, token string) toolspec.Spec {
	t.Helper()
	spec, err := toolspec.Parse(token)
	require.NoError(t, err)
	return spec
}

func TestResolveLatestStable(t *testing.T) {
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"ripgrep": versions("13.0.0", "14.1.0", "14.0.0"),
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "ripgrep"), Request{}, emptyConfig(), srcs)
	require.NoError(t, err)
	assert.Equal(t, "14.1.0", target.Version)
	assert.Equal(t, SourceRegistry, target.Source.Kind)
}

func TestResolvePrereleaseExcludedByDefault(t *testing.T) {
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": versions("1.0.0", "2.0.0-rc.1"),
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "tool"), Request{}, emptyConfig(), srcs)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", target.Version)
}

func TestResolvePrereleaseWhenTargetedExplicitly(t *testing.T) {
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": versions("1.0.0", "2.0.0-rc.1"),
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "tool@2.0.0-rc.1"), Request{}, emptyConfig(), srcs)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0-rc.1", target.Version)
}

func TestResolveYankedSkipped(t *testing.T) {
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": {
			{Num: "1.0.0"},
			{Num: "1.1.0", Yanked: true},
		},
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "tool"), Request{}, emptyConfig(), srcs)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", target.Version)
}

func TestResolveBareMajorPicksHighestCompatible(t *testing.T) {
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"ripgrep": versions("13.0.0", "14.0.0", "14.1.1", "15.0.0"),
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "ripgrep@14"), Request{}, emptyConfig(), srcs)
	require.NoError(t, err)
	assert.Equal(t, "14.1.1", target.Version)
}

func TestResolveNoMatchingVersion(t *testing.T) {
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": versions("1.0.0"),
	}}, fakeRefResolver{})

	_, err := Resolve(mustSpec(t, "tool@99"), Request{}, emptyConfig(), srcs)
	assert.ErrorIs(t, err, ErrNoMatchingVersion)
}

func TestResolveUnknownToolIsUnknownSource(t *testing.T) {
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{}}, fakeRefResolver{})

	_, err := Resolve(mustSpec(t, "nope"), Request{}, emptyConfig(), srcs)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestResolvePinSuppliesConstraint(t *testing.T) {
	cfg := emptyConfig()
	cfg.Tools["tool"] = config.ToolConfig{Version: "1.2"}
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": versions("1.2.0", "1.5.0", "2.0.0"),
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "tool"), Request{}, cfg, srcs)
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", target.Version)
}

func TestResolveExplicitConstraintOverridesPin(t *testing.T) {
	cfg := emptyConfig()
	cfg.Tools["tool"] = config.ToolConfig{Version: "1.2"}
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": versions("1.2.0", "1.5.0", "2.0.0"),
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "tool@2"), Request{}, cfg, srcs)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", target.Version)
}

func TestResolveRequestFeaturesReplacePinFeatures(t *testing.T) {
	cfg := emptyConfig()
	cfg.Tools["tool"] = config.ToolConfig{Features: []string{"alpha"}}
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": {{Num: "1.0.0", Features: []string{"alpha", "beta"}}},
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "tool"), Request{Features: []string{"beta"}}, cfg, srcs)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, target.Features)
}

func TestResolveUnknownFeatureRejected(t *testing.T) {
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": {{Num: "1.0.0", Features: []string{"alpha"}}},
	}}, fakeRefResolver{})

	_, err := Resolve(mustSpec(t, "tool"), Request{Features: []string{"nope"}}, emptyConfig(), srcs)
	assert.ErrorIs(t, err, ErrAmbiguousFeatures)
}

func TestResolveUndeclaredRegistryRejected(t *testing.T) {
	_, err := Resolve(mustSpec(t, "tool"), Request{Registry: "internal"}, emptyConfig(),
		fakeSources(fakeLister{}, fakeRefResolver{}))
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestResolveDeclaredRegistryUsed(t *testing.T) {
	cfg := emptyConfig()
	cfg.Registries["internal"] = config.RegistryConfig{API: "https://crates.example.com/api/v1"}

	var gotAPI string
	srcs := Sources{
		NewLister: func(api string) source.VersionLister {
			gotAPI = api
			return fakeLister{versions: map[string][]source.VersionInfo{
				"tool": versions("1.0.0"),
			}}
		},
		Git: fakeRefResolver{},
	}

	target, err := Resolve(mustSpec(t, "tool"), Request{Registry: "internal"}, cfg, srcs)
	require.NoError(t, err)
	assert.Equal(t, "https://crates.example.com/api/v1", gotAPI)
	assert.Equal(t, "internal", target.Source.RegistryName)
}

func TestResolveDefaultRegistryNameFromConfig(t *testing.T) {
	cfg := emptyConfig()
	cfg.DefaultRegistry = "internal"
	cfg.Registries["internal"] = config.RegistryConfig{API: "https://crates.example.com/api/v1"}
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"tool": versions("1.0.0"),
	}}, fakeRefResolver{})

	target, err := Resolve(mustSpec(t, "tool"), Request{}, cfg, srcs)
	require.NoError(t, err)
	assert.Equal(t, "internal", target.Source.RegistryName)
}

func TestResolveGitTagToCommit(t *testing.T) {
	const commit = "0123456789abcdef0123456789abcdef01234567"
	srcs := fakeSources(fakeLister{}, fakeRefResolver{commits: map[string]string{"v1.0.0": commit}})

	target, err := Resolve(mustSpec(t, "oha"),
		Request{Git: "https://github.com/hatoo/oha", Tag: "v1.0.0"}, emptyConfig(), srcs)
	require.NoError(t, err)
	assert.Equal(t, SourceGit, target.Source.Kind)
	assert.Equal(t, commit, target.Source.Commit)
	assert.Empty(t, target.Version)
	assert.Equal(t, commit[:12], target.DisplayVersion())
}

func TestResolveGitDefaultBranch(t *testing.T) {
	const commit = "fedcba9876543210fedcba9876543210fedcba98"
	srcs := fakeSources(fakeLister{}, fakeRefResolver{commits: map[string]string{"": commit}})

	target, err := Resolve(mustSpec(t, "oha"),
		Request{Git: "https://github.com/hatoo/oha"}, emptyConfig(), srcs)
	require.NoError(t, err)
	assert.Equal(t, commit, target.Source.Commit)
}

func TestResolveConstraintWithGitFlagRejected(t *testing.T) {
	srcs := fakeSources(fakeLister{}, fakeRefResolver{commits: map[string]string{
		"": "0123456789abcdef0123456789abcdef01234567",
	}})

	_, err := Resolve(mustSpec(t, "tool@2"),
		Request{Git: "https://example.com/tool"}, emptyConfig(), srcs)
	assert.ErrorIs(t, err, ErrUncheckableConstraint)
}

func TestResolveConstraintWithGitPinRejected(t *testing.T) {
	// An explicit version against a git-pinned tool is never silently
	// dropped in favor of whatever the commit contains.
	cfg := emptyConfig()
	cfg.Tools["tool"] = config.ToolConfig{Git: "https://example.com/tool", Tag: "v1.0.0"}
	srcs := fakeSources(fakeLister{}, fakeRefResolver{commits: map[string]string{
		"v1.0.0": "0123456789abcdef0123456789abcdef01234567",
	}})

	_, err := Resolve(mustSpec(t, "tool@2"), Request{}, cfg, srcs)
	assert.ErrorIs(t, err, ErrUncheckableConstraint)

	// Without the constraint the same pin resolves fine.
	_, err = Resolve(mustSpec(t, "tool"), Request{}, cfg, srcs)
	assert.NoError(t, err)
}

func TestResolveGitRefSelectorsMutuallyExclusive(t *testing.T) {
	srcs := fakeSources(fakeLister{}, fakeRefResolver{})
	_, err := Resolve(mustSpec(t, "oha"),
		Request{Git: "https://github.com/hatoo/oha", Branch: "main", Tag: "v1"}, emptyConfig(), srcs)
	assert.Error(t, err)
}

func TestResolveRequestGitClearsPinnedRefs(t *testing.T) {
	cfg := emptyConfig()
	cfg.Tools["oha"] = config.ToolConfig{Git: "https://old.example.com/oha", Tag: "v0.1.0"}
	const commit = "00000000000000000000000000000000deadbeef"
	srcs := fakeSources(fakeLister{}, fakeRefResolver{commits: map[string]string{"": commit}})

	// A command-line git source replaces the pinned repo and its ref fields.
	target, err := Resolve(mustSpec(t, "oha"),
		Request{Git: "https://new.example.com/oha"}, cfg, srcs)
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com/oha", target.Source.GitRepo)
	assert.Equal(t, commit, target.Source.Commit)
}

func TestCacheKeyStableUnderFeatureOrder(t *testing.T) {
	src := Source{Kind: SourceRegistry, RegistryAPI: source.DefaultRegistryAPI}
	a := NewTarget("tool", src, "1.0.0", []string{"b", "a"}, false, false)
	b := NewTarget("tool", src, "1.0.0", []string{"a", "b"}, false, false)
	assert.Equal(t, a.CacheKey(), b.CacheKey())
}

func TestCacheKeyDistinguishesIdentityFields(t *testing.T) {
	src := Source{Kind: SourceRegistry, RegistryAPI: source.DefaultRegistryAPI}
	base := NewTarget("tool", src, "1.0.0", nil, false, false)

	variants := []Target{
		NewTarget("other", src, "1.0.0", nil, false, false),
		NewTarget("tool", src, "1.0.1", nil, false, false),
		NewTarget("tool", src, "1.0.0", []string{"x"}, false, false),
		NewTarget("tool", src, "1.0.0", nil, true, false),
		NewTarget("tool", src, "1.0.0", nil, false, true),
		NewTarget("tool", Source{Kind: SourceGit, GitRepo: "r", Commit: "c"}, "1.0.0", nil, false, false),
	}
	for i, v := range variants {
		assert.NotEqual(t, base.CacheKey(), v.CacheKey(), "variant %d", i)
	}
}

func TestAliasEquivalence(t *testing.T) {
	// rg@14 and ripgrep@14 resolve to the same target once the alias table
	// is applied.
	cfg := emptyConfig()
	cfg.Aliases["rg"] = "ripgrep"
	srcs := fakeSources(fakeLister{versions: map[string][]source.VersionInfo{
		"ripgrep": versions("14.1.0"),
	}}, fakeRefResolver{})

	direct, err := Resolve(mustSpec(t, "ripgrep@14"), Request{}, cfg, srcs)
	require.NoError(t, err)

	aliased, err := toolspec.ResolveAlias(mustSpec(t, "rg@14"), cfg.Aliases)
	require.NoError(t, err)
	viaAlias, err := Resolve(aliased, Request{}, cfg, srcs)
	require.NoError(t, err)

	assert.Equal(t, direct, viaAlias)
	assert.Equal(t, direct.CacheKey(), viaAlias.CacheKey())
}

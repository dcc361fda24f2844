// Package resolver combines a parsed tool specifier with the effective
// configuration to produce a single concrete, installable target.
package resolver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/anelson-labs/cgx/internal/config"
	"github.com/anelson-labs/cgx/internal/logger"
	"github.com/anelson-labs/cgx/internal/source"
	"github.com/anelson-labs/cgx/internal/toolspec"
)

// ErrNoMatchingVersion reports a constraint unsatisfiable against the
// source's known versions. Never silently falls back to another version.
var ErrNoMatchingVersion = errors.New("no matching version")

// ErrUnknownSource reports an undeclared named registry or an unreachable
// source host.
var ErrUnknownSource = errors.New("unknown source")

// ErrAmbiguousFeatures reports a requested feature the target does not
// expose. Reported, not ignored.
var ErrAmbiguousFeatures = errors.New("unknown feature")

// ErrUncheckableConstraint reports a version constraint combined with a git
// source. A git source carries no registry metadata to check a constraint
// against, and dropping the constraint would silently override the user's
// stated intent.
var ErrUncheckableConstraint = errors.New("version constraint cannot be checked against a git source")

// Sources bundles the read-only metadata collaborators the resolver queries.
type Sources struct {
	// NewLister returns a version lister for the given registry API URL.
	NewLister func(api string) source.VersionLister

	// Git resolves git refs to commit hashes.
	Git source.RefResolver
}

// DefaultSources wires the real registry client and git CLI.
func DefaultSources() Sources {
	return Sources{
		NewLister: func(api string) source.VersionLister { return source.NewRegistryClient(api) },
		Git:       source.GitCLI{},
	}
}

// Resolve turns a specifier plus configuration into a Target.
//
// The configured pin for the tool supplies the baseline version, features,
// and source. An explicit invocation constraint overrides the configured
// constraint entirely; invocation feature or source flags likewise fully
// replace the configured values, never blend with them. With no constraint
// from either side, the implicit constraint is "latest stable". A version
// constraint combined with a git source is ErrUncheckableConstraint.
func Resolve(spec toolspec.Spec, req Request, cfg *config.Config, srcs Sources) (Target, error) {
	pin := cfg.Tools[spec.Name]

	constraint := spec.Constraint
	constraintText := spec.ConstraintText
	if constraint == nil && pin.Version != "" {
		c, err := toolspec.ParseConstraint(pin.Version)
		if err != nil {
			return Target{}, fmt.Errorf("configured pin for %s: %w", spec.Name, err)
		}
		constraint, constraintText = c, pin.Version
	}

	features := pin.Features
	if len(req.Features) > 0 {
		features = req.Features
	}

	gitRepo := pin.Git
	branch, tag, rev := pin.Branch, pin.Tag, pin.Rev
	if req.Git != "" {
		gitRepo = req.Git
		branch, tag, rev = "", "", ""
	}
	if req.Branch != "" || req.Tag != "" || req.Rev != "" {
		branch, tag, rev = req.Branch, req.Tag, req.Rev
	}

	if gitRepo != "" {
		if constraint != nil {
			return Target{}, fmt.Errorf("%w: %s@%s resolves from %s; pin the source with --tag or --rev instead",
				ErrUncheckableConstraint, spec.Name, constraintText, gitRepo)
		}
		return resolveGit(spec.Name, gitRepo, branch, tag, rev, features, req, srcs)
	}

	registryName := pin.Registry
	if req.Registry != "" {
		registryName = req.Registry
	}
	if registryName == "" {
		registryName = cfg.DefaultRegistry
	}

	api := source.DefaultRegistryAPI
	if registryName != "" {
		reg, ok := cfg.Registries[registryName]
		if !ok || reg.API == "" {
			return Target{}, fmt.Errorf("%w: registry %q is not declared in any config fragment",
				ErrUnknownSource, registryName)
		}
		api = reg.API
	}

	return resolveRegistry(spec.Name, registryName, api, constraint, constraintText, features, req, srcs)
}

func resolveRegistry(name, registryName, api string, constraint *semver.Constraints,
	constraintText string, features []string, req Request, srcs Sources) (Target, error) {

	available, err := srcs.NewLister(api).ListVersions(name)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrUnknownSource, err)
	}

	best, info, err := maxSatisfying(available, constraint)
	if err != nil {
		if constraintText == "" {
			constraintText = "*"
		}
		return Target{}, fmt.Errorf("%w: %s has no version matching %q (%d available)",
			ErrNoMatchingVersion, name, constraintText, len(available))
	}

	if err := checkFeatures(name, best.String(), features, info.Features); err != nil {
		return Target{}, err
	}

	logger.Debug("[DEBUG] resolved %s %q -> %s\n", name, constraintText, best)

	src := Source{Kind: SourceRegistry, RegistryName: registryName, RegistryAPI: api}
	return NewTarget(name, src, best.String(), features, req.AllFeatures, req.NoDefaultFeatures), nil
}

func resolveGit(name, repo, branch, tag, rev string, features []string, req Request, srcs Sources) (Target, error) {
	kind, ref, err := refSelector(branch, tag, rev)
	if err != nil {
		return Target{}, err
	}

	commit, err := srcs.Git.ResolveRef(repo, kind, ref)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrUnknownSource, err)
	}

	logger.Debug("[DEBUG] resolved %s %s %s -> %s\n", name, repo, ref, commit)

	src := Source{Kind: SourceGit, GitRepo: repo, Commit: commit}
	return NewTarget(name, src, "", features, req.AllFeatures, req.NoDefaultFeatures), nil
}

// maxSatisfying picks the highest non-yanked version satisfying the
// constraint under semantic-version ordering. With no constraint, the
// highest stable version wins and pre-releases are excluded; a constraint
// only admits pre-releases when it targets one explicitly, which the
// constraint matcher already enforces.
func maxSatisfying(available []source.VersionInfo, constraint *semver.Constraints) (*semver.Version, source.VersionInfo, error) {
	type candidate struct {
		ver  *semver.Version
		info source.VersionInfo
	}
	var candidates []candidate

	for _, info := range available {
		if info.Yanked {
			continue
		}
		v, err := semver.NewVersion(info.Num)
		if err != nil {
			continue
		}
		if constraint == nil {
			if v.Prerelease() != "" {
				continue
			}
		} else if !constraint.Check(v) {
			continue
		}
		candidates = append(candidates, candidate{ver: v, info: info})
	}

	if len(candidates) == 0 {
		return nil, source.VersionInfo{}, ErrNoMatchingVersion
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ver.GreaterThan(candidates[j].ver)
	})
	return candidates[0].ver, candidates[0].info, nil
}

// checkFeatures validates requested features against the feature set the
// resolved version exposes.
func checkFeatures(name, version string, requested, exposed []string) error {
	if len(requested) == 0 {
		return nil
	}
	known := make(map[string]bool, len(exposed))
	for _, f := range exposed {
		known[f] = true
	}
	for _, f := range requested {
		if !known[f] {
			return fmt.Errorf("%w: %s@%s does not expose feature %q", ErrAmbiguousFeatures, name, version, f)
		}
	}
	return nil
}

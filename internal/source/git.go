package source

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/anelson-labs/cgx/internal/logger"
)

// RefKind selects how a git ref value is interpreted.
type RefKind string

const (
	RefDefaultBranch RefKind = "default-branch"
	RefBranch        RefKind = "branch"
	RefTag           RefKind = "tag"
	RefCommit        RefKind = "commit"
)

// RefResolver resolves a git ref to a concrete commit hash.
type RefResolver interface {
	ResolveRef(repo string, kind RefKind, ref string) (string, error)
}

// GitCLI resolves refs by invoking `git ls-remote` against the remote
// repository. The subprocess is the collaborator boundary: URL and ref in,
// commit hash out.
type GitCLI struct{}

// ResolveRef implements RefResolver.
func (GitCLI) ResolveRef(repo string, kind RefKind, ref string) (string, error) {
	// A full commit hash needs no remote round trip.
	if kind == RefCommit && len(ref) == 40 {
		return ref, nil
	}

	var pattern string
	switch kind {
	case RefDefaultBranch:
		pattern = "HEAD"
	case RefBranch:
		pattern = "refs/heads/" + ref
	case RefTag:
		pattern = "refs/tags/" + ref
	case RefCommit:
		// Abbreviated hash: list everything and match by prefix below.
		pattern = ""
	default:
		return "", fmt.Errorf("unknown ref kind %q", kind)
	}

	args := []string{"ls-remote", repo}
	if pattern != "" {
		args = append(args, pattern)
	}
	cmd := exec.Command("git", args...)
	logger.Debug("[DEBUG] running: git %s\n", strings.Join(args, " "))

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git ls-remote %s: %w", repo, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		commit := fields[0]
		if kind == RefCommit {
			if strings.HasPrefix(commit, ref) {
				return commit, nil
			}
			continue
		}
		return commit, nil
	}

	if kind == RefDefaultBranch {
		return "", fmt.Errorf("repository %s has no HEAD", repo)
	}
	return "", fmt.Errorf("ref %q not found in %s", ref, repo)
}

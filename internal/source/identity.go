package source

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/anelson-labs/cgx/internal/logger"
)

// IdentityProber reports the identity a binary claims for itself. The cache
// uses it to confirm that a recorded binary still matches its target before
// trusting a hit.
type IdentityProber interface {
	// ProbeVersion runs the binary and returns the version it reports.
	ProbeVersion(binaryPath string) (string, error)
}

// VersionFlagProber probes identity by running `<binary> --version` and
// parsing the conventional "name x.y.z" first line.
type VersionFlagProber struct{}

// ProbeVersion implements IdentityProber.
func (VersionFlagProber) ProbeVersion(binaryPath string) (string, error) {
	cmd := exec.Command(binaryPath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("probing %s --version: %w", binaryPath, err)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	logger.Debug("[DEBUG] identity probe %s: %q\n", binaryPath, line)

	fields := strings.Fields(line)
	for i := len(fields) - 1; i >= 0; i-- {
		v := strings.TrimPrefix(fields[i], "v")
		if looksLikeVersion(v) {
			return v, nil
		}
	}
	return "", fmt.Errorf("no version in %s --version output %q", binaryPath, line)
}

// looksLikeVersion accepts tokens of the form N[.N[.N[-pre]]].
func looksLikeVersion(s string) bool {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '+':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// Package installer decides install vs. reuse, serializes concurrent
// installs of the same resolved target, invokes the external installer
// collaborators, and records completed installs in the installation cache.
package installer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anelson-labs/cgx/internal/cache"
	"github.com/anelson-labs/cgx/internal/logger"
	"github.com/anelson-labs/cgx/internal/resolver"
)

// ErrInstallTimeout reports that the per-target install lock could not be
// acquired within the bounded wait. Never a silent duplicate install.
var ErrInstallTimeout = errors.New("timed out waiting for install lock")

// ErrNoPrebuilt is returned by a binary-distribution installer when no
// pre-built binary exists for the target; the orchestrator falls back to
// building from source. Any other installer error is surfaced verbatim.
var ErrNoPrebuilt = errors.New("no pre-built binary available")

// DefaultLockTimeout bounds the wait on another process's install.
const DefaultLockTimeout = 10 * time.Minute

const lockPollInterval = 100 * time.Millisecond

// Installer is an external install capability: given a resolved target and
// a destination directory, produce a binary and return its path.
type Installer interface {
	Install(target resolver.Target, destDir string) (string, error)
	Method() cache.InstallMethod
}

// Orchestrator guarantees a usable local binary per resolved target with
// at most one physical installation, tolerating concurrent invocations.
type Orchestrator struct {
	Manifest *cache.Manifest

	// BinDir holds one subdirectory per target cache key.
	BinDir string

	// LocksDir holds the per-target lock files.
	LocksDir string

	// LockTimeout bounds the wait on a concurrent installer; zero means
	// DefaultLockTimeout.
	LockTimeout time.Duration

	// ForceBuild skips the binary-distribution path (--unlocked).
	ForceBuild bool

	// Distribution is the pre-built binary installer; may be nil.
	Distribution Installer

	// Builder is the build-from-source installer.
	Builder Installer
}

// EnsureInstalled returns the path to a binary for target, installing it if
// necessary. Check, lock, re-check: a concurrent invocation of the same
// target blocks on the lock and then finds the finished install in the
// cache, so N concurrent calls perform exactly one physical install and all
// return the same path.
func (o *Orchestrator) EnsureInstalled(target resolver.Target) (string, error) {
	if rec, ok := o.Manifest.Lookup(target); ok {
		logger.Debug("[DEBUG] cache hit for %s: %s\n", target, rec.BinaryPath)
		return rec.BinaryPath, nil
	}

	timeout := o.LockTimeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}

	lockPath := filepath.Join(o.LocksDir, target.CacheKey()+".lock")
	lock, err := acquireLock(lockPath, timeout)
	if err != nil {
		return "", err
	}
	defer lock.Release()

	// Another holder may have finished this exact install while we waited.
	if rec, ok := o.Manifest.Lookup(target); ok {
		logger.Debug("[DEBUG] cache hit after lock for %s: %s\n", target, rec.BinaryPath)
		return rec.BinaryPath, nil
	}

	destDir := filepath.Join(o.BinDir, target.CacheKey())
	binaryPath, method, err := o.install(target, destDir)
	if err != nil {
		// No retry: a missing version or a broken build does not succeed
		// on a blind second attempt. The lock is released by the defer
		// regardless, so a failure never wedges later invocations.
		return "", err
	}

	// The record is written only once the binary is confirmed on disk, so
	// an interrupted install never leaves a record pointing at nothing.
	if info, err := os.Stat(binaryPath); err != nil || info.IsDir() {
		return "", fmt.Errorf("installer reported success but binary %s is missing", binaryPath)
	}

	if err := o.Manifest.Record(target, binaryPath, method); err != nil {
		return "", fmt.Errorf("recording install of %s: %w", target, err)
	}

	logger.Info("[INFO] installed %s -> %s\n", target, binaryPath)
	return binaryPath, nil
}

// install runs the preferred install strategy: the binary distribution when
// eligible and not overridden, otherwise a build from source.
func (o *Orchestrator) install(target resolver.Target, destDir string) (string, cache.InstallMethod, error) {
	if o.Distribution != nil && !o.ForceBuild && prebuiltEligible(target) {
		path, err := o.Distribution.Install(target, destDir)
		if err == nil {
			return path, o.Distribution.Method(), nil
		}
		if !errors.Is(err, ErrNoPrebuilt) {
			return "", "", fmt.Errorf("binary distribution install of %s: %w", target, err)
		}
		logger.Debug("[DEBUG] no pre-built binary for %s, building from source\n", target)
	}

	path, err := o.Builder.Install(target, destDir)
	if err != nil {
		return "", "", fmt.Errorf("source install of %s: %w", target, err)
	}
	return path, o.Builder.Method(), nil
}

// prebuiltEligible reports whether a pre-built binary can represent the
// target. Any customization (features, git source) requires a source build.
func prebuiltEligible(target resolver.Target) bool {
	return target.Source.Kind == resolver.SourceRegistry &&
		len(target.Features) == 0 &&
		!target.AllFeatures &&
		!target.NoDefaultFeatures
}

//go:build !unix

package installer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/anelson-labs/cgx/internal/logger"
)

// installLock is the non-Unix fallback: exclusive creation of the lock file
// with the holder's PID inside. Unlike flock there is no kernel-side release
// on crash, so staleness is detected by probing whether the recorded holder
// is still alive, and a stale lock is reclaimed rather than honored.
type installLock struct {
	path string
	held bool
}

func acquireLock(path string, timeout time.Duration) (*installLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)
	logged := false
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return &installLock{path: path, held: true}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock file %s: %w", path, err)
		}

		if holder := readLockHolder(path); holder > 0 && !processAlive(holder) {
			logger.Warn("[WARN] reclaiming stale install lock %s held by dead pid %d\n", path, holder)
			_ = os.Remove(path)
			continue
		}

		if !logged {
			logger.Info("[INFO] waiting for another cgx process to finish installing...\n")
			logged = true
		}
		if time.Now().After(deadline) {
			holder := readLockHolder(path)
			if holder > 0 {
				return nil, fmt.Errorf("%w after %s: held by pid %d, which may still be installing",
					ErrInstallTimeout, timeout, holder)
			}
			return nil, fmt.Errorf("%w after %s: another process may be installing", ErrInstallTimeout, timeout)
		}
		time.Sleep(lockPollInterval)
	}
}

// Release removes the lock file. Safe to call more than once.
func (l *installLock) Release() {
	if l == nil || !l.held {
		return
	}
	if err := os.Remove(l.path); err != nil {
		logger.Debug("[DEBUG] removing lock file %s: %v\n", l.path, err)
	}
	l.held = false
}

func readLockHolder(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// processAlive reports whether a process with the given pid exists. Without
// Unix signal 0 probing this is best effort.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Windows FindProcess fails for dead pids; elsewhere Signal probing
	// is unavailable on this build, so presence of a handle is the answer.
	_ = proc.Release()
	return true
}

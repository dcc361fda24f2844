//go:build unix

package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/anelson-labs/cgx/internal/logger"
)

// installLock serializes installs of one resolved target across processes
// via an exclusive flock on a per-target lock file. The kernel releases the
// flock when the holding process exits, crashed or not, so a dead holder
// can never wedge later invocations. The zero-byte lock file left behind
// after release is harmless.
type installLock struct {
	file *os.File
	path string
}

// acquireLock takes the exclusive flock at path, polling until timeout.
// The holder's PID is written into the file for diagnostics. Exceeding the
// timeout returns ErrInstallTimeout naming the current holder.
func acquireLock(path string, timeout time.Duration) (*installLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	logged := false
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			writeHolder(f)
			return &installLock{file: f, path: path}, nil
		}
		if err != unix.EWOULDBLOCK {
			_ = f.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}

		if !logged {
			logger.Info("[INFO] waiting for another cgx process to finish installing...\n")
			logged = true
		}
		if time.Now().After(deadline) {
			holder := readHolder(path)
			_ = f.Close()
			if holder > 0 {
				return nil, fmt.Errorf("%w after %s: held by pid %d, which may still be installing",
					ErrInstallTimeout, timeout, holder)
			}
			return nil, fmt.Errorf("%w after %s: another process may be installing", ErrInstallTimeout, timeout)
		}
		time.Sleep(lockPollInterval)
	}
}

// Release drops the flock. Safe to call more than once.
func (l *installLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		logger.Debug("[DEBUG] unlocking %s: %v\n", l.path, err)
	}
	if err := l.file.Close(); err != nil {
		logger.Debug("[DEBUG] closing lock file %s: %v\n", l.path, err)
	}
	l.file = nil
}

func writeHolder(f *os.File) {
	if err := f.Truncate(0); err != nil {
		return
	}
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
}

func readHolder(path string) int {
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

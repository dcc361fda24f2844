//go:build unix

package installer

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLockWritesHolderPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.lock")

	lock, err := acquireLock(path, time.Second)
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAcquireLockTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.lock")

	// flock contends between separate file descriptions even within one
	// process, so holding via a second open handle models another holder.
	held, err := acquireLock(path, time.Second)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = acquireLock(path, 300*time.Millisecond)
	require.ErrorIs(t, err, ErrInstallTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))
}

func TestAcquireLockAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.lock")

	first, err := acquireLock(path, time.Second)
	require.NoError(t, err)
	first.Release()

	second, err := acquireLock(path, time.Second)
	require.NoError(t, err)
	second.Release()
}

func TestReleaseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.lock")

	lock, err := acquireLock(path, time.Second)
	require.NoError(t, err)
	lock.Release()
	lock.Release()
}

func TestAcquireLockCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "deep", "target.lock")

	lock, err := acquireLock(path, time.Second)
	require.NoError(t, err)
	defer lock.Release()
	assert.FileExists(t, path)
}

package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "sync.lock")
}

func TestAcquireRelease(t *testing.T) {
	l := New(lockPath(t))

	require.NoError(t, l.Acquire())
	require.NoError(t, l.Release())

	// Released lock can be taken again.
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Release())
}

func TestAcquireHeldByLiveProcess(t *testing.T) {
	path := lockPath(t)

	first := New(path)
	require.NoError(t, first.Acquire())
	defer first.Release()

	// Our own pid is in the file and we are obviously alive.
	second := New(path)
	err := second.Acquire()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeld)
}

func TestAcquireStealsStaleLock(t *testing.T) {
	path := lockPath(t)

	// A lock file left behind by a pid that no longer runs.
	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0644))

	l := New(path)
	require.NoError(t, l.Acquire())
	defer l.Release()

	// The file now carries our pid.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "999999\n", string(data))
}

func TestAcquireStealsUnreadableLock(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0644))

	l := New(path)
	require.NoError(t, l.Acquire())
	defer l.Release()
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	l := New(lockPath(t))
	assert.NoError(t, l.Release())
}

package lockfile

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := ForSession(dir, "s1")

	require.NoError(t, lock.TryAcquire())
	assert.True(t, lock.Held())
	require.NoError(t, lock.TryAcquire())

	data, err := os.ReadFile(lock.Path())
	require.NoError(t, err)
	var o owner
	require.NoError(t, json.Unmarshal(data, &o))
	assert.Equal(t, os.Getpid(), o.PID)
	assert.Equal(t, "s1", o.SessionID)

	require.NoError(t, lock.Release())
	assert.False(t, lock.Held())
	_, err = os.Stat(lock.Path())
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, lock.Release())
}

func TestSecondHolderIsRejected(t *testing.T) {
	dir := t.TempDir()
	first := ForSession(dir, "s1")
	require.NoError(t, first.TryAcquire())
	defer first.Release()

	err := ForSession(dir, "s1").TryAcquire()
	assert.ErrorIs(t, err, ErrLocked)

	other := ForSession(dir, "s2")
	require.NoError(t, other.TryAcquire())
	require.NoError(t, other.Release())
}

func TestStaleLockIsTakenOver(t *testing.T) {
	tests := map[string][]byte{
		"garbage":      []byte("not json"),
		"dead process": mustJSON(t, owner{PID: 1 << 30, SessionID: "s1", AcquiredAt: time.Now()}),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			lock := ForSession(t.TempDir(), "s1")
			require.NoError(t, os.WriteFile(lock.Path(), content, 0o644))
			require.NoError(t, lock.TryAcquire())
			require.NoError(t, lock.Release())
		})
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLiveness reports liveness from a fixed pid set.
type fakeLiveness struct {
	alive map[int]bool
}

func (f fakeLiveness) Alive(pid int) bool { return f.alive[pid] }

func newTestManager(t *testing.T, alive map[int]bool) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return m.WithLiveness(fakeLiveness{alive: alive})
}

func writeDescriptor(t *testing.T, m *Manager, job string, info Info) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(m.path(job), data, 0o644))
}

func TestAcquireFreeLock(t *testing.T) {
	m := newTestManager(t, map[int]bool{os.Getpid(): true})

	ok, err := m.Acquire("sync")
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := m.Holder("sync")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.Hostname)
	assert.NotEmpty(t, info.Runtime)
	assert.False(t, info.StartedAt.IsZero())
}

func TestAcquireBlockedByLiveHolder(t *testing.T) {
	m := newTestManager(t, map[int]bool{4242: true})
	writeDescriptor(t, m, "sync", Info{PID: 4242, Hostname: "other", StartedAt: time.Now()})

	ok, err := m.Acquire("sync")
	require.NoError(t, err)
	assert.False(t, ok)

	// Holder untouched.
	info, err := m.Holder("sync")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 4242, info.PID)
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	m := newTestManager(t, map[int]bool{os.Getpid(): true})
	writeDescriptor(t, m, "sync", Info{PID: 99999, Hostname: "dead", StartedAt: time.Now().Add(-time.Hour)})

	ok, err := m.Acquire("sync")
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := m.Holder("sync")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestAcquireReclaimsMalformedDescriptor(t *testing.T) {
	m := newTestManager(t, map[int]bool{os.Getpid(): true})
	require.NoError(t, os.WriteFile(m.path("sync"), []byte("{truncated"), 0o644))

	ok, err := m.Acquire("sync")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseIdempotent(t *testing.T) {
	m := newTestManager(t, map[int]bool{os.Getpid(): true})

	ok, err := m.Acquire("sync")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Release("sync"))
	require.NoError(t, m.Release("sync"))

	info, err := m.Holder("sync")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestHolderNilForStale(t *testing.T) {
	m := newTestManager(t, map[int]bool{})
	writeDescriptor(t, m, "sync", Info{PID: 777, StartedAt: time.Now()})

	info, err := m.Holder("sync")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCleanupStale(t *testing.T) {
	m := newTestManager(t, map[int]bool{100: true})
	writeDescriptor(t, m, "alive", Info{PID: 100, StartedAt: time.Now()})
	writeDescriptor(t, m, "dead-a", Info{PID: 200, StartedAt: time.Now()})
	writeDescriptor(t, m, "dead-b", Info{PID: 300, StartedAt: time.Now()})
	require.NoError(t, os.WriteFile(m.path("garbled"), []byte("not json"), 0o644))

	count, err := m.CleanupStale()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Live lock survives.
	info, err := m.Holder("alive")
	require.NoError(t, err)
	assert.NotNil(t, info)

	entries, err := os.ReadDir(filepath.Dir(m.path("alive")))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSanitizeJobName(t *testing.T) {
	m := newTestManager(t, map[int]bool{})
	assert.Equal(t, "daily_sync__.lock", filepath.Base(m.path("daily sync/全")))
}

func TestHeldErrorMessage(t *testing.T) {
	err := &HeldError{
		Job:    "sync",
		Holder: Info{PID: 42, Hostname: "host-1", StartedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)},
	}
	assert.Contains(t, err.Error(), `"sync"`)
	assert.Contains(t, err.Error(), "pid 42")
	assert.Contains(t, err.Error(), "host-1")
}

// Package lockfile implements cross-process mutual exclusion for named jobs.
//
// A lock is a JSON descriptor file in a shared directory. Liveness of the
// recorded owner pid decides whether an existing lock blocks an acquire or is
// reclaimed as stale. Descriptor writes go through a temp file and rename so a
// crash mid-write can never produce a readable-but-malformed lock; anything
// that fails to parse is treated as stale.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Info describes the owner of a held lock.
type Info struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	User      string    `json:"user"`
	StartedAt time.Time `json:"started_at"`
	Runtime   string    `json:"runtime"`
}

// Liveness probes whether a pid belongs to a running process on this host.
type Liveness interface {
	Alive(pid int) bool
}

// Manager acquires and releases job locks under a single directory.
type Manager struct {
	dir      string
	liveness Liveness
	now      func() time.Time
}

// NewManager creates a Manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	return &Manager{dir: dir, liveness: signalLiveness{}, now: time.Now}, nil
}

// WithLiveness replaces the liveness prober. Intended for tests.
func (m *Manager) WithLiveness(l Liveness) *Manager {
	m.liveness = l
	return m
}

func (m *Manager) path(job string) string {
	return filepath.Join(m.dir, sanitize(job)+".lock")
}

// Acquire attempts to take the lock for job. It returns false when a live
// holder exists; that is a normal outcome, not an error. Stale locks (dead
// owner or malformed descriptor) are silently reclaimed first. Storage
// failures propagate as errors.
func (m *Manager) Acquire(job string) (bool, error) {
	path := m.path(job)

	if holder, err := m.readInfo(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			if errors.Is(err, errMalformed) {
				// Crash mid-write or manual tampering: reclaim.
				_ = os.Remove(path)
			} else {
				return false, err
			}
		}
	} else if m.liveness.Alive(holder.PID) {
		return false, nil
	} else {
		// Owner is gone; reclaim before taking a fresh lock.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("failed to reclaim stale lock %s: %w", path, err)
		}
	}

	info := Info{
		PID:       os.Getpid(),
		Hostname:  hostname(),
		User:      username(),
		StartedAt: m.now().UTC(),
		Runtime:   runtime.Version(),
	}
	if err := writeAtomic(path, info); err != nil {
		return false, err
	}
	return true, nil
}

// Release removes the lock for job. Idempotent: releasing an absent lock is
// not an error, so it is safe to call from deferred cleanup paths.
func (m *Manager) Release(job string) error {
	err := os.Remove(m.path(job))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock for %s: %w", job, err)
	}
	return nil
}

// Holder returns the descriptor of a live holder of job, or nil when the lock
// is free or stale.
func (m *Manager) Holder(job string) (*Info, error) {
	info, err := m.readInfo(m.path(job))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, errMalformed) {
			return nil, nil
		}
		return nil, err
	}
	if !m.liveness.Alive(info.PID) {
		return nil, nil
	}
	return &info, nil
}

// CleanupStale scans every lock in the directory and removes those whose
// owner is not alive, returning the count reclaimed. Operational tooling calls
// this out of band; the pipeline itself relies on reclaim-on-acquire.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan lock directory %s: %w", m.dir, err)
	}

	reclaimed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		info, err := m.readInfo(path)
		if err == nil && m.liveness.Alive(info.PID) {
			continue
		}
		if err != nil && !errors.Is(err, errMalformed) && !errors.Is(err, os.ErrNotExist) {
			return reclaimed, err
		}
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return reclaimed, fmt.Errorf("failed to remove stale lock %s: %w", path, rmErr)
		}
		reclaimed++
	}
	return reclaimed, nil
}

var errMalformed = errors.New("malformed lock descriptor")

func (m *Manager) readInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, os.ErrNotExist
		}
		return Info{}, fmt.Errorf("failed to read lock %s: %w", path, err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil || info.PID <= 0 {
		return Info{}, errMalformed
	}
	return info, nil
}

// writeAtomic writes the descriptor via temp file + rename in the same
// directory, so readers observe either no file or a complete one.
func writeAtomic(path string, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock descriptor: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".lock-*")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write lock descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish lock file %s: %w", path, err)
	}
	return nil
}

// sanitize keeps job-derived file names flat and portable.
func sanitize(job string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, job)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func username() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}

// Package lockmgr implements the server-side per-path exclusive
// advisory lock. A lock is a plain file, sibling to the wiki file it
// guards, named by replacing the wiki basename's "_" prefix with
// "LOCK_". Pinning locks to the filesystem rather than an in-memory
// table lets them survive server restarts and keeps lock state
// visible to anyone who can browse the content root.
package lockmgr

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oschuett/wikifs/internal/wikierr"
	"github.com/oschuett/wikifs/internal/wikipath"
)

// Manager owns the lock files under a single content root.
type Manager struct {
	root string

	// mu serializes acquire/release for the whole tree. Lock contention
	// at the traffic levels this system targets doesn't warrant
	// per-path locks on top of per-path lock *files*.
	mu sync.Mutex
}

// New returns a Manager rooted at root, the server's content root.
func New(root string) *Manager {
	return &Manager{root: root}
}

// lockFile returns the filesystem path of path's sibling lock file.
func (m *Manager) lockFile(path string) string {
	dir := filepath.Dir(path)
	base := wikipath.LockName(wikipath.Base(path))
	return filepath.Join(m.root, dir, base)
}

// owner returns the username recorded in path's lock file, or "" if
// the file does not exist (the path is unlocked).
func (m *Manager) owner(path string) (string, error) {
	data, err := os.ReadFile(m.lockFile(path))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", wikierr.E("lockmgr.owner", wikierr.Path(path), wikierr.IO, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// UserHasLock reports whether user currently holds path's lock.
func (m *Manager) UserHasLock(path, user string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, err := m.owner(path)
	if err != nil {
		return false, err
	}
	return owner != "" && owner == user, nil
}

// Owner returns the username currently holding path's lock, or "" if
// the path is unlocked.
func (m *Manager) Owner(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner(path)
}

// Acquire claims path's lock for user. Re-acquiring one's own lock is
// a no-op. Acquiring a lock held by a different user fails with
// wikierr.LockedByOther.
func (m *Manager) Acquire(path, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireLocked(path, user)
}

func (m *Manager) acquireLocked(path, user string) error {
	owner, err := m.owner(path)
	if err != nil {
		return err
	}
	if owner == user {
		return nil
	}
	if owner != "" {
		return wikierr.E("lockmgr.Acquire", wikierr.Path(path), wikierr.User(user), wikierr.LockedByOther)
	}
	lf := m.lockFile(path)
	if err := os.MkdirAll(filepath.Dir(lf), 0755); err != nil {
		return wikierr.E("lockmgr.Acquire", wikierr.Path(path), wikierr.IO, err)
	}
	if err := os.WriteFile(lf, []byte(user), 0644); err != nil {
		return wikierr.E("lockmgr.Acquire", wikierr.Path(path), wikierr.IO, err)
	}
	return nil
}

// Release drops path's lock if user holds it. Releasing a lock you do
// not hold, or one that doesn't exist, is a no-op: a client must never
// be able to drop another user's lock by mistake.
func (m *Manager) Release(path, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(path, user)
}

func (m *Manager) releaseLocked(path, user string) error {
	owner, err := m.owner(path)
	if err != nil {
		return err
	}
	if owner != user {
		return nil
	}
	if err := os.Remove(m.lockFile(path)); err != nil && !os.IsNotExist(err) {
		return wikierr.E("lockmgr.Release", wikierr.Path(path), wikierr.IO, err)
	}
	return nil
}

// AcquireBoth atomically (with respect to other Manager calls)
// acquires the locks on both old and new, used by the wiki-to-wiki
// rename handler. It reports whether each path's lock was already
// held by user before this call, which the caller needs to decide
// which locks to drop afterwards.
func (m *Manager) AcquireBoth(oldPath, newPath, user string) (oldHeld, newHeld bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldOwner, err := m.owner(oldPath)
	if err != nil {
		return false, false, err
	}
	newOwner, err := m.owner(newPath)
	if err != nil {
		return false, false, err
	}
	oldWasMine := oldOwner == user
	newWasMine := newOwner == user

	if err := m.acquireLocked(oldPath, user); err != nil {
		return false, false, err
	}
	if err := m.acquireLocked(newPath, user); err != nil {
		// Undo the old acquisition if we hadn't held it before.
		if !oldWasMine {
			m.releaseLocked(oldPath, user)
		}
		return false, false, err
	}
	return oldWasMine, newWasMine, nil
}

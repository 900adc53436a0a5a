package lockmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oschuett/wikifs/internal/wikierr"
)

func TestAcquireAndUserHasLock(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	require.NoError(t, m.Acquire("/notes/_a", "u1"))
	has, err := m.UserHasLock("/notes/_a", "u1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = m.UserHasLock("/notes/_a", "u2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestAcquireIsIdempotentForOwner(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Acquire("/_a", "u1"))
	require.NoError(t, m.Acquire("/_a", "u1"))
}

func TestAcquireByOtherUserFails(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Acquire("/_a", "u1"))
	err := m.Acquire("/_a", "u2")
	require.Error(t, err)
	assert.Equal(t, wikierr.LockedByOther, wikierr.KindOf(err))
}

func TestReleaseByNonOwnerIsNoop(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Acquire("/_a", "u1"))
	require.NoError(t, m.Release("/_a", "u2"))
	has, _ := m.UserHasLock("/_a", "u1")
	assert.True(t, has, "u1's lock must survive u2's no-op release")
}

func TestReleaseWhenUnlockedIsNoop(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Release("/_never_locked", "u1"))
}

func TestLockFileNaming(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Acquire("/notes/_a", "u1"))
	_, err := os.Stat(filepath.Join(root, "notes", "LOCK_a"))
	require.NoError(t, err, "lock file must be a LOCK_-prefixed sibling")
}

func TestAcquireBothOnRename(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Acquire("/_old", "u1"))

	oldWasMine, newWasMine, err := m.AcquireBoth("/_old", "/_new", "u1")
	require.NoError(t, err)
	assert.True(t, oldWasMine)
	assert.False(t, newWasMine)

	has, _ := m.UserHasLock("/_new", "u1")
	assert.True(t, has)
}

func TestAcquireBothFailsIfEitherLockedByOther(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.Acquire("/_new", "u2"))

	_, _, err := m.AcquireBoth("/_old", "/_new", "u1")
	require.Error(t, err)
	assert.Equal(t, wikierr.LockedByOther, wikierr.KindOf(err))

	// Must not have left a dangling lock on /_old.
	has, _ := m.UserHasLock("/_old", "u1")
	assert.False(t, has)
}

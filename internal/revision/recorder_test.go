package revision

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a fresh git repository in a temp directory for a
// test to commit into.
func initRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	return root
}

func log(t *testing.T, root string) string {
	t.Helper()
	cmd := exec.Command("git", "log", "--oneline")
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	return string(out)
}

func TestCommitIfDirtyOnNewFile(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "_a"), []byte("hello"), 0644))

	r := New(root)
	require.NoError(t, r.CommitIfDirty("/_a", "tester"))
	assert.Contains(t, log(t, root), "New /_a")
}

func TestCommitIfDirtyNoopWhenUnchanged(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "_a"), []byte("hello"), 0644))

	r := New(root)
	require.NoError(t, r.CommitIfDirty("/_a", "tester"))
	before := log(t, root)
	require.NoError(t, r.CommitIfDirty("/_a", "tester"))
	after := log(t, root)
	assert.Equal(t, before, after, "second call with no changes must not add a commit")
}

func TestCommitIfDirtyOnEditedFile(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "_a"), []byte("hello"), 0644))
	r := New(root)
	require.NoError(t, r.CommitIfDirty("/_a", "tester"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "_a"), []byte("hello world"), 0644))
	require.NoError(t, r.CommitIfDirty("/_a", "tester"))
	assert.Contains(t, log(t, root), "Edit /_a")
}

func TestRemoveTrackedFileCommits(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "_a"), []byte("hello"), 0644))
	r := New(root)
	require.NoError(t, r.CommitIfDirty("/_a", "tester"))

	require.NoError(t, r.Remove("/_a", "tester"))
	assert.Contains(t, log(t, root), "Remove /_a")
	_, err := os.Stat(filepath.Join(root, "_a"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveUntrackedFileIsPlainUnlink(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "_a"), []byte("hello"), 0644))
	r := New(root)

	require.NoError(t, r.Remove("/_a", "tester"))
	assert.NotContains(t, log(t, root), "Remove")
	_, err := os.Stat(filepath.Join(root, "_a"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenameTrackedFileCommits(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "_a"), []byte("hello"), 0644))
	r := New(root)
	require.NoError(t, r.CommitIfDirty("/_a", "tester"))

	require.NoError(t, r.Rename("/_a", "/_b", "tester"))
	assert.Contains(t, log(t, root), "Rename /_a -> /_b")
	_, err := os.Stat(filepath.Join(root, "_b"))
	assert.NoError(t, err)
}

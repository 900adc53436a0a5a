// Package revision wraps the server's content root as a git
// repository and records each writable-to-read-only transition (and
// each destructive change) as a commit under the acting user's
// identity. git is driven with os/exec rather than a Go git library:
// a small type serializing command sequences, each run with the
// repository root as its working directory, a non-zero exit mapped to
// an IO error.
package revision

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/oschuett/wikifs/internal/wikierr"
)

// Recorder commits changes to a single content root.
type Recorder struct {
	root string

	// mu serializes every call sequence that touches the repository
	// index: concurrent add/commit pairs from two handlers must not
	// interleave.
	mu sync.Mutex
}

// New returns a Recorder for the git repository at root. It does not
// initialize the repository; that is an operational concern handled
// once, out of band, when the server's content root is provisioned.
func New(root string) *Recorder {
	return &Recorder{root: root}
}

const gitTimeout = 30 * time.Second

// run executes git with args, rooted at r.root, and returns its
// combined output. A non-zero exit from commit, add, mv, or rm fails
// the call with wikierr.IO.
func (r *Recorder) run(identity string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	if identity != "" {
		env := append(os.Environ(),
			"GIT_AUTHOR_NAME="+identity,
			"GIT_AUTHOR_EMAIL="+identity,
			"GIT_COMMITTER_NAME="+identity,
			"GIT_COMMITTER_EMAIL="+identity,
		)
		cmd.Env = env
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), wikierr.E("revision.run", wikierr.IO,
			wikierr.Str(fmt.Sprintf("git %v: %v: %s", args, err, out.String())))
	}
	return out.Bytes(), nil
}

// rel strips the leading "/" from a mount-relative path so it can be
// passed to git (run with cwd=r.root) as a path relative to the
// repository root rather than the filesystem root.
func rel(path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}

// isTracked reports whether path is known to the git index.
func (r *Recorder) isTracked(path string) (bool, error) {
	_, err := r.run("", "ls-files", "--error-unmatch", "--", rel(path))
	if err != nil {
		// "did not match any file(s) known to git" - not an I/O
		// failure, just "not tracked."
		return false, nil
	}
	return true, nil
}

// isDirty reports whether path's working-tree content differs from
// the last commit that touched it.
func (r *Recorder) isDirty(path string) (bool, error) {
	_, err := r.run("", "diff", "--quiet", "--", rel(path))
	if err == nil {
		return false, nil
	}
	// git diff --quiet exits 1 (not a git failure) when there is a
	// difference; our run() can't distinguish that from a real error,
	// so re-run without --quiet to decide, trusting a non-empty diff
	// body over the exit status.
	out, _ := r.run("", "diff", "--", rel(path))
	return len(out) > 0, nil
}

// CommitIfDirty stages and commits path if it is new or changed, using
// the message "New <path>" for a first commit or "Edit <path>" for a
// later one. It is a no-op if path is already tracked and unchanged.
func (r *Recorder) CommitIfDirty(path, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracked, err := r.isTracked(path)
	if err != nil {
		return err
	}
	if !tracked {
		if _, err := r.run(identity, "add", "--", rel(path)); err != nil {
			return err
		}
		_, err := r.run(identity, "commit", "-m", "New "+path, "--", rel(path))
		return err
	}

	dirty, err := r.isDirty(path)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	if _, err := r.run(identity, "add", "--", rel(path)); err != nil {
		return err
	}
	_, err = r.run(identity, "commit", "-m", "Edit "+path, "--", rel(path))
	return err
}

// Remove deletes path. If it is tracked, the removal is staged and
// committed with message "Remove <path>"; otherwise it is a plain
// unlink.
func (r *Recorder) Remove(path, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracked, err := r.isTracked(path)
	if err != nil {
		return err
	}
	if !tracked {
		if err := os.Remove(filepathJoin(r.root, path)); err != nil && !os.IsNotExist(err) {
			return wikierr.E("revision.Remove", wikierr.Path(path), wikierr.IO, err)
		}
		return nil
	}
	if _, err := r.run(identity, "rm", "--", rel(path)); err != nil {
		return err
	}
	_, err = r.run(identity, "commit", "-m", "Remove "+path)
	return err
}

// Rename moves old to new. If old is tracked, the move is staged and
// committed with message "Rename <old> -> <new>"; otherwise it is a
// plain rename.
func (r *Recorder) Rename(old, new, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracked, err := r.isTracked(old)
	if err != nil {
		return err
	}
	if !tracked {
		if err := os.Rename(filepathJoin(r.root, old), filepathJoin(r.root, new)); err != nil {
			return wikierr.E("revision.Rename", wikierr.Path(old), wikierr.IO, err)
		}
		return nil
	}
	if _, err := r.run(identity, "mv", rel(old), rel(new)); err != nil {
		return err
	}
	_, err = r.run(identity, "commit", "-m", fmt.Sprintf("Rename %s -> %s", old, new))
	return err
}

func filepathJoin(root, path string) string {
	return root + "/" + rel(path)
}

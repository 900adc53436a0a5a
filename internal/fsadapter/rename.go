package fsadapter

import (
	"context"
	"os"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/google/uuid"

	"github.com/oschuett/wikifs/internal/wikierr"
	"github.com/oschuett/wikifs/internal/wikilog"
	"github.com/oschuett/wikifs/internal/wikipath"
	"github.com/oschuett/wikifs/internal/wikiproto"
)

// Rename implements fs.NodeRenamer. Four cases exist depending on
// which domain the old and new paths classify into; only the
// local-local and wiki-wiki cases are atomic with respect to a crash.
// The two cross-domain cases copy bytes client-side and are therefore
// non-atomic by design: a crash mid-copy can leave both the source and
// a partial destination on disk.
func (n *Node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	dst, ok := newDir.(*Node)
	if !ok {
		return n.errno(wikierr.E("fsadapter.Rename", wikierr.IO, wikierr.Str("unexpected destination node type")))
	}
	oldPath := joinChild(n.path, req.OldName)
	newPath := joinChild(dst.path, req.NewName)

	oldWiki := wikipath.IsWiki(oldPath)
	newWiki := wikipath.IsWiki(newPath)

	switch {
	case !oldWiki && !newWiki:
		if err := os.Rename(n.fsys.localPath(oldPath), n.fsys.localPath(newPath)); err != nil {
			return n.errno(wikierr.E("fsadapter.Rename", wikierr.Path(oldPath), wikierr.IO, err))
		}
		return nil
	case oldWiki && newWiki:
		if err := n.fsys.client.Rename(oldPath, newPath); err != nil {
			return n.errno(err)
		}
		return nil
	case oldWiki && !newWiki:
		return n.errno(n.fsys.renameWikiToLocal(oldPath, newPath))
	default:
		return n.errno(n.fsys.renameLocalToWiki(oldPath, newPath))
	}
}

// sentinelName returns a per-attempt suffix; renameWikiToLocal appends
// it to the local destination path to name a marker file that exists
// while the copy is in flight, so
// future crash-recovery tooling can tell a half-finished rename apart
// from a file the user created directly.
func sentinelName() string {
	return ".wikifs-rename-" + uuid.New().String()
}

// renameWikiToLocal copies a wiki file's current content out to a
// plain local file and then removes the wiki original. The content is
// fetched directly from the server rather than through the mirror
// cache; once the original is removed, any mirror entry still held
// for it is dropped with Forget, whatever its refcount.
func (f *FileSystem) renameWikiToLocal(oldPath, newPath string) error {
	content, _, mode, err := f.client.Download(oldPath)
	if err != nil {
		return wikierr.E("fsadapter.Rename", wikierr.Path(oldPath), err)
	}

	localNew := f.localPath(newPath)
	sentinel := localNew + sentinelName()
	if err := os.WriteFile(sentinel, nil, 0644); err != nil {
		return wikierr.E("fsadapter.Rename", wikierr.Path(newPath), wikierr.IO, err)
	}
	defer os.Remove(sentinel)

	if err := os.WriteFile(localNew, content, os.FileMode(mode&0o777)); err != nil {
		return wikierr.E("fsadapter.Rename", wikierr.Path(newPath), wikierr.IO, err)
	}

	if err := f.client.Remove(oldPath); err != nil {
		wikilog.Error.Printf("fsadapter.Rename: %s: source removal after copy failed: %v", oldPath, err)
		return wikierr.E("fsadapter.Rename", wikierr.Path(oldPath), err)
	}
	f.mirror.Forget(oldPath)
	return nil
}

// renameLocalToWiki copies a plain local file's content into a newly
// created wiki file, then drops the write bit so the chmod-triggered
// commit-if-dirty fires and the new file settles at its resting,
// released mode, before removing the local original.
func (f *FileSystem) renameLocalToWiki(oldPath, newPath string) error {
	content, err := os.ReadFile(f.localPath(oldPath))
	if err != nil {
		return wikierr.E("fsadapter.Rename", wikierr.Path(oldPath), wikierr.IO, err)
	}

	if err := f.client.Create(newPath); err != nil {
		return wikierr.E("fsadapter.Rename", wikierr.Path(newPath), err)
	}
	if err := f.client.Upload(newPath, content); err != nil {
		return wikierr.E("fsadapter.Rename", wikierr.Path(newPath), err)
	}
	if err := f.client.Chmod(newPath, wikiproto.ReadOnlyMode); err != nil {
		return wikierr.E("fsadapter.Rename", wikierr.Path(newPath), err)
	}

	if err := os.Remove(f.localPath(oldPath)); err != nil {
		wikilog.Error.Printf("fsadapter.Rename: %s: source removal after copy failed: %v", oldPath, err)
		return wikierr.E("fsadapter.Rename", wikierr.Path(oldPath), wikierr.IO, err)
	}
	return nil
}

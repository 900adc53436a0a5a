// Package fsadapter implements the FUSE view of a mounted wiki: it
// classifies every path with wikipath, routes wiki file I/O through
// wireclient and mirror, and passes everything else straight through
// to the local directory backing the mount. Node is deliberately
// path-based rather than typed by kind, since a path's classification
// can only be decided by looking at the string itself.
package fsadapter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	wpath "path"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/oschuett/wikifs/internal/mirror"
	"github.com/oschuett/wikifs/internal/wikierr"
	"github.com/oschuett/wikifs/internal/wikilog"
	"github.com/oschuett/wikifs/internal/wikipath"
	"github.com/oschuett/wikifs/internal/wikiproto"
	"github.com/oschuett/wikifs/internal/wireclient"
)

// FileSystem is the root of the mounted tree, shared by every Node.
type FileSystem struct {
	localRoot string
	client    *wireclient.Client
	mirror    *mirror.Cache

	// ioMu serializes the positional ReadAt/WriteAt calls Read and
	// Write perform against backing files, so two concurrent requests
	// never transfer at the same time.
	ioMu sync.Mutex
}

// New returns a FileSystem serving localRoot for plain paths and
// client/mirrorCache for wiki paths.
func New(localRoot string, client *wireclient.Client, mirrorCache *mirror.Cache) *FileSystem {
	return &FileSystem{localRoot: localRoot, client: client, mirror: mirrorCache}
}

// Root implements fs.FS.
func (f *FileSystem) Root() (fs.Node, error) {
	return &Node{path: "/", isDir: true, fsys: f}, nil
}

func (f *FileSystem) localPath(p string) string {
	return filepath.Join(f.localRoot, p)
}

func joinChild(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return wpath.Join(dir, name)
}

// Node is one entry in the mounted tree, wiki file, local file, or
// directory, identified purely by its mount-relative path.
type Node struct {
	path  string
	isDir bool
	fsys  *FileSystem
}

var _ fs.Node = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeStringLookuper = (*Node)(nil)
var _ fs.HandleReadDirAller = (*Node)(nil)
var _ fs.NodeCreator = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeRemover = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)
var _ fs.NodeGetxattrer = (*Node)(nil)

// errno maps an adapter-level error to the syscall.Errno FUSE expects.
// It does not record the error anywhere: the only errors the
// wikifs_error xattr can report are the refresh and upload failures
// the mirror cache records itself.
func (n *Node) errno(err error) error {
	if err == nil {
		return nil
	}
	return wikierr.Errno(err)
}

// Attr implements fs.Node.
func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	if n.isDir {
		return n.dirAttr(a)
	}
	if wikipath.IsWiki(n.path) {
		return n.wikiAttr(a)
	}
	return n.localAttr(a)
}

func (n *Node) dirAttr(a *fuse.Attr) error {
	local := n.fsys.localPath(n.path)
	if err := os.MkdirAll(local, 0755); err != nil {
		return n.errno(wikierr.E("fsadapter.Attr", wikierr.Path(n.path), wikierr.IO, err))
	}
	fi, err := os.Stat(local)
	if err != nil {
		return n.errno(wikierr.E("fsadapter.Attr", wikierr.Path(n.path), wikierr.IO, err))
	}
	fillAttrFromFileInfo(a, fi)
	return nil
}

func (n *Node) localAttr(a *fuse.Attr) error {
	fi, err := os.Stat(n.fsys.localPath(n.path))
	if os.IsNotExist(err) {
		return fuse.ENOENT
	}
	if err != nil {
		return n.errno(wikierr.E("fsadapter.Attr", wikierr.Path(n.path), wikierr.IO, err))
	}
	fillAttrFromFileInfo(a, fi)
	return nil
}

func (n *Node) wikiAttr(a *fuse.Attr) error {
	st, err := n.fsys.client.GetAttr(n.path)
	if err != nil {
		return n.errno(err)
	}
	fillAttrFromStat(a, st)
	return nil
}

func fillAttrFromFileInfo(a *fuse.Attr, fi os.FileInfo) {
	a.Size = uint64(fi.Size())
	a.Mode = fi.Mode()
	a.Mtime = fi.ModTime()
	a.Ctime = fi.ModTime()
	a.Atime = fi.ModTime()
	a.Nlink = 1
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		a.Inode = st.Ino
		a.Uid = st.Uid
		a.Gid = st.Gid
	}
}

func fillAttrFromStat(a *fuse.Attr, st wikiproto.Stat) {
	a.Size = uint64(st.Size)
	a.Mode = os.FileMode(st.Mode & 0o777)
	a.Mtime = time.Unix(st.Mtime, 0)
	a.Ctime = time.Unix(st.Ctime, 0)
	a.Atime = time.Unix(st.Atime, 0)
	a.Nlink = st.Nlink
	a.Uid = st.Uid
	a.Gid = st.Gid
}

// Setattr implements fs.NodeSetattrer, handling truncate (Size) and
// chmod (Mode); wiki paths route a mode change through the server so
// it is recorded as a lock acquire or release.
func (n *Node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	wiki := !n.isDir && wikipath.IsWiki(n.path)

	if req.Valid.Size() && !n.isDir {
		if wiki {
			fname, err := n.fsys.mirror.Acquire(n.path)
			if err != nil {
				return n.errno(err)
			}
			truncErr := os.Truncate(fname, int64(req.Size))
			relErr := n.fsys.mirror.Release(n.path)
			if truncErr != nil {
				return n.errno(wikierr.E("fsadapter.Setattr", wikierr.Path(n.path), wikierr.IO, truncErr))
			}
			if relErr != nil {
				return n.errno(relErr)
			}
		} else {
			if err := os.Truncate(n.fsys.localPath(n.path), int64(req.Size)); err != nil {
				return n.errno(wikierr.E("fsadapter.Setattr", wikierr.Path(n.path), wikierr.IO, err))
			}
		}
	}

	if req.Valid.Mode() {
		if wiki {
			if err := n.fsys.client.Chmod(n.path, uint32(req.Mode.Perm())); err != nil {
				return n.errno(err)
			}
		} else if err := os.Chmod(n.fsys.localPath(n.path), req.Mode.Perm()); err != nil {
			return n.errno(wikierr.E("fsadapter.Setattr", wikierr.Path(n.path), wikierr.IO, err))
		}
	}

	return n.Attr(ctx, &resp.Attr)
}

// Lookup implements fs.NodeStringLookuper. Directories always live
// locally, so a local stat decides directory-ness before wiki
// classification of a file is even considered.
func (n *Node) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child := joinChild(n.path, name)
	localPath := n.fsys.localPath(child)

	if fi, err := os.Stat(localPath); err == nil {
		return &Node{path: child, isDir: fi.IsDir(), fsys: n.fsys}, nil
	} else if !os.IsNotExist(err) {
		return nil, n.errno(wikierr.E("fsadapter.Lookup", wikierr.Path(child), wikierr.IO, err))
	}

	if !wikipath.IsWiki(child) {
		return nil, fuse.ENOENT
	}
	if _, err := n.fsys.client.GetAttr(child); err != nil {
		return nil, n.errno(err)
	}
	return &Node{path: child, isDir: false, fsys: n.fsys}, nil
}

// ReadDirAll implements fs.HandleReadDirAller. The listing is the
// union of the local directory's entries (excluding lock sibling
// files) and the server's wiki file names for the same directory.
func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	local := n.fsys.localPath(n.path)
	if err := os.MkdirAll(local, 0755); err != nil {
		return nil, n.errno(wikierr.E("fsadapter.ReadDirAll", wikierr.Path(n.path), wikierr.IO, err))
	}
	localEntries, err := os.ReadDir(local)
	if err != nil {
		return nil, n.errno(wikierr.E("fsadapter.ReadDirAll", wikierr.Path(n.path), wikierr.IO, err))
	}

	seen := make(map[string]bool, len(localEntries))
	dirents := make([]fuse.Dirent, 0, len(localEntries))
	for _, e := range localEntries {
		if wikipath.IsLockName(e.Name()) {
			continue
		}
		seen[e.Name()] = true
		dt := fuse.DT_File
		if e.IsDir() {
			dt = fuse.DT_Dir
		}
		dirents = append(dirents, fuse.Dirent{Name: e.Name(), Type: dt})
	}

	names, err := n.fsys.client.ReadDir(n.path)
	if err != nil {
		wikilog.Debug.Printf("fsadapter.ReadDirAll: %s: server listing unavailable: %v", n.path, err)
		return dirents, nil
	}
	for _, name := range names {
		if seen[name] {
			continue
		}
		dirents = append(dirents, fuse.Dirent{Name: name, Type: fuse.DT_File})
	}
	return dirents, nil
}

// Create implements fs.NodeCreator.
func (n *Node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	child := joinChild(n.path, req.Name)

	if wikipath.IsWiki(child) {
		if err := n.fsys.client.Create(child); err != nil {
			return nil, nil, n.errno(err)
		}
		fname, err := n.fsys.mirror.Acquire(child)
		if err != nil {
			return nil, nil, n.errno(err)
		}
		file, err := os.OpenFile(fname, os.O_RDWR, 0)
		if err != nil {
			n.fsys.mirror.Release(child)
			return nil, nil, n.errno(wikierr.E("fsadapter.Create", wikierr.Path(child), wikierr.IO, err))
		}
		cn := &Node{path: child, fsys: n.fsys}
		if err := cn.Attr(ctx, &resp.Attr); err != nil {
			return nil, nil, err
		}
		return cn, &Handle{node: cn, file: file}, nil
	}

	localPath := n.fsys.localPath(child)
	file, err := os.OpenFile(localPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, req.Mode.Perm())
	if err != nil {
		return nil, nil, n.errno(wikierr.E("fsadapter.Create", wikierr.Path(child), wikierr.IO, err))
	}
	cn := &Node{path: child, fsys: n.fsys}
	if err := cn.Attr(ctx, &resp.Attr); err != nil {
		return nil, nil, err
	}
	return cn, &Handle{node: cn, file: file}, nil
}

// Mkdir implements fs.NodeMkdirer. Directories are always local, wiki
// or not: the server only ever stores files.
func (n *Node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	child := joinChild(n.path, req.Name)
	if err := os.Mkdir(n.fsys.localPath(child), req.Mode.Perm()); err != nil {
		return nil, n.errno(wikierr.E("fsadapter.Mkdir", wikierr.Path(child), wikierr.IO, err))
	}
	return &Node{path: child, isDir: true, fsys: n.fsys}, nil
}

// Open implements fs.NodeOpener. Directory handles are the node
// itself, since Node already implements HandleReadDirAller.
func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if n.isDir {
		return n, nil
	}
	if wikipath.IsWiki(n.path) {
		fname, err := n.fsys.mirror.Acquire(n.path)
		if err != nil {
			return nil, n.errno(err)
		}
		file, err := os.OpenFile(fname, os.O_RDWR, 0)
		if err != nil {
			n.fsys.mirror.Release(n.path)
			return nil, n.errno(wikierr.E("fsadapter.Open", wikierr.Path(n.path), wikierr.IO, err))
		}
		return &Handle{node: n, file: file}, nil
	}
	file, err := os.OpenFile(n.fsys.localPath(n.path), int(req.Flags), 0)
	if err != nil {
		return nil, n.errno(wikierr.E("fsadapter.Open", wikierr.Path(n.path), wikierr.IO, err))
	}
	return &Handle{node: n, file: file}, nil
}

// Remove implements fs.NodeRemover, covering both unlink and rmdir.
func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	child := joinChild(n.path, req.Name)

	if req.Dir {
		if err := os.Remove(n.fsys.localPath(child)); err != nil {
			return n.errno(wikierr.E("fsadapter.Remove", wikierr.Path(child), wikierr.IO, err))
		}
		return nil
	}

	if wikipath.IsWiki(child) {
		if n.fsys.mirror.RefCount(child) != 0 {
			return fuse.Errno(syscall.EBUSY)
		}
		if err := n.fsys.client.Remove(child); err != nil {
			return n.errno(err)
		}
		return nil
	}

	if err := os.Remove(n.fsys.localPath(child)); err != nil {
		return n.errno(wikierr.E("fsadapter.Remove", wikierr.Path(child), wikierr.IO, err))
	}
	return nil
}

// Getxattr implements fs.NodeGetxattrer, serving the supplemented
// wikifs_error diagnostic attribute: the last adapter-level error
// recorded against this path's mirror entry, if any. Every other name
// reports ENODATA.
func (n *Node) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	if req.Name != "wikifs_error" {
		return fuse.Errno(syscall.ENODATA)
	}
	err := n.fsys.mirror.LastError(n.path)
	if err == nil {
		return fuse.Errno(syscall.ENODATA)
	}
	resp.Xattr = []byte(err.Error())
	return nil
}

// Handle is an open file, wiki or local; both are backed by a real
// *os.File so Read/Write just delegate to ReadAt/WriteAt.
type Handle struct {
	node *Node
	file *os.File
}

var _ fs.HandleReader = (*Handle)(nil)
var _ fs.HandleWriter = (*Handle)(nil)
var _ fs.HandleFlusher = (*Handle)(nil)
var _ fs.HandleReleaser = (*Handle)(nil)
var _ fs.HandleFsyncer = (*Handle)(nil)

// Read implements fs.HandleReader.
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.node.fsys.ioMu.Lock()
	defer h.node.fsys.ioMu.Unlock()

	buf := make([]byte, req.Size)
	n, err := h.file.ReadAt(buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return h.node.errno(wikierr.E("fsadapter.Read", wikierr.Path(h.node.path), wikierr.IO, err))
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements fs.HandleWriter.
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.node.fsys.ioMu.Lock()
	defer h.node.fsys.ioMu.Unlock()

	n, err := h.file.WriteAt(req.Data, req.Offset)
	resp.Size = n
	if err != nil {
		return h.node.errno(wikierr.E("fsadapter.Write", wikierr.Path(h.node.path), wikierr.IO, err))
	}
	return nil
}

// Flush implements fs.HandleFlusher. It only has to fsync the backing
// file: upload-on-dirty is mirror.Release's job, triggered when the
// handle is released rather than on every flush.
func (h *Handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	if err := h.file.Sync(); err != nil {
		return h.node.errno(wikierr.E("fsadapter.Flush", wikierr.Path(h.node.path), wikierr.IO, err))
	}
	return nil
}

// Fsync implements fs.NodeFsyncer.
func (h *Handle) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	if err := h.file.Sync(); err != nil {
		return h.node.errno(wikierr.E("fsadapter.Fsync", wikierr.Path(h.node.path), wikierr.IO, err))
	}
	return nil
}

// Release implements fs.HandleReleaser. A mirror-release failure other
// than the swallowed lock-lost case (already resolved to nil inside
// mirror.Release) fails the close, per spec.md §7's propagation policy.
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	closeErr := h.file.Close()
	var relErr error
	if wikipath.IsWiki(h.node.path) {
		relErr = h.node.fsys.mirror.Release(h.node.path)
	}
	if closeErr != nil {
		return h.node.errno(wikierr.E("fsadapter.Release", wikierr.Path(h.node.path), wikierr.IO, closeErr))
	}
	if relErr != nil {
		return h.node.errno(relErr)
	}
	return nil
}

// Package mirror implements the client-side mirror cache: one
// temporary backing file per open wiki path, kept in sync with the
// server on acquire/release and refcounted so a kernel file descriptor
// always has somewhere to point.
package mirror

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oschuett/wikifs/internal/wikierr"
	"github.com/oschuett/wikifs/internal/wikilog"
)

// remote is the subset of wireclient.Client the cache needs; an
// interface so tests can fake the server.
type remote interface {
	Download(path string) (content []byte, lockIsYours bool, mode uint32, err error)
	Upload(path string, content []byte) error
}

// entry is the mirror-cache record for one wiki path.
type entry struct {
	fname       string // backing file path
	mtime       time.Time
	haveMtime   bool // false until the first sync, per the "no prior mtime" refresh rule
	refcount    int
	lockIsYours bool
	lastErr     error // most recent adapter-level error, surfaced via the wikifs_error xattr
}

// Cache is the process-wide mirror cache. One Cache instance is
// shared by every FUSE request handler.
type Cache struct {
	mu      sync.Mutex
	dir     string
	client  remote
	entries map[string]*entry
}

// New creates a Cache whose backing files live under dir. dir is
// created if it does not already exist, and any leftover backing
// files from a previous run are removed (the mirror cache owns no
// state across restarts; a clean start is always correct).
func New(dir string, client remote) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, wikierr.E("mirror.New", wikierr.IO, err)
	}
	entriesOnDisk, err := os.ReadDir(dir)
	if err == nil {
		for _, de := range entriesOnDisk {
			os.Remove(filepath.Join(dir, de.Name()))
		}
	}
	return &Cache{dir: dir, client: client, entries: make(map[string]*entry)}, nil
}

// Acquire returns the backing-file path for path, materializing or
// refreshing it as needed, and increments its refcount. A refresh
// happens whenever there is no prior mtime recorded, or the last
// known lock owner was not this client.
func (c *Cache) Acquire(path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		e = &entry{fname: filepath.Join(c.dir, uuid.New().String())}
		c.entries[path] = e
		if err := c.download(path, e); err != nil {
			delete(c.entries, path)
			return "", err
		}
	} else if !e.haveMtime || !e.lockIsYours {
		if err := c.download(path, e); err != nil {
			e.lastErr = err
			return "", err
		}
	}
	e.refcount++
	return e.fname, nil
}

// download fetches path's content from the server and (re)writes it
// into e's backing file, updating e.mtime to the file's new mtime.
func (c *Cache) download(path string, e *entry) error {
	content, lockIsYours, mode, err := c.client.Download(path)
	if err != nil {
		return wikierr.E("mirror.download", wikierr.Path(path), err)
	}
	if err := os.WriteFile(e.fname, content, os.FileMode(mode&0o777)); err != nil {
		return wikierr.E("mirror.download", wikierr.Path(path), wikierr.IO, err)
	}
	fi, err := os.Stat(e.fname)
	if err != nil {
		return wikierr.E("mirror.download", wikierr.Path(path), wikierr.IO, err)
	}
	e.mtime = fi.ModTime()
	e.haveMtime = true
	e.lockIsYours = lockIsYours
	return nil
}

// Release decrements path's refcount. If the backing file's mtime has
// moved since the last sync it is uploaded first; when the refcount
// reaches zero the backing file is unlinked and the entry dropped.
//
// A 403 (lock lost) from the upload is swallowed: the next Acquire
// will observe lockIsYours=false and refresh.
func (c *Cache) Release(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		return wikierr.E("mirror.Release", wikierr.Path(path), wikierr.Str("no such open mirror"))
	}

	var releaseErr error
	fi, err := os.Stat(e.fname)
	if err != nil {
		releaseErr = wikierr.E("mirror.Release", wikierr.Path(path), wikierr.IO, err)
	} else if !fi.ModTime().Equal(e.mtime) {
		content, err := os.ReadFile(e.fname)
		if err != nil {
			releaseErr = wikierr.E("mirror.Release", wikierr.Path(path), wikierr.IO, err)
		} else if err := c.client.Upload(path, content); err != nil {
			if wikierr.Is(err, wikierr.PermissionDenied) {
				wikilog.Info.Printf("mirror: upload of %s lost the lock, will refresh on next acquire", path)
			} else {
				releaseErr = wikierr.E("mirror.Release", wikierr.Path(path), err)
			}
		} else {
			e.mtime = fi.ModTime()
		}
	}

	e.refcount--
	if e.refcount <= 0 {
		os.Remove(e.fname)
		delete(c.entries, path)
	} else if releaseErr != nil {
		e.lastErr = releaseErr
	}
	return releaseErr
}

// RefCount returns the current refcount for path, or 0 if no mirror
// entry exists. Exposed for tests and for unlink's precondition check:
// a wiki path must have refcount=0 before it can be unlinked.
func (c *Cache) RefCount(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return 0
	}
	return e.refcount
}

// LastError returns the most recent adapter-level error recorded
// against path's mirror entry, for the wikifs_error diagnostic xattr.
// It returns nil if there is no entry or no recorded error.
func (c *Cache) LastError(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil
	}
	return e.lastErr
}

// Forget drops path's entry and unlinks its backing file without
// uploading, regardless of refcount. Used by a wiki-to-local rename
// once the wiki original has been removed on the server.
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return
	}
	os.Remove(e.fname)
	delete(c.entries, path)
}

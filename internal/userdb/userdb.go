// Package userdb loads the server's user/token database and supports
// a lazy reload-on-miss lookup: a token not found in memory triggers
// one reload from disk before the request is declined, so a newly
// added user works without a server restart. The line format
// ("username token", "#" comments, blank lines ignored) is a two-field
// variant of the rc-file scanner used for upspin's own context files.
package userdb

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/oschuett/wikifs/internal/wikierr"
)

// User is one entry of the user database.
type User struct {
	Username string
	Token    string
	// Identity is the string used as the git author/committer for
	// this user's commits.
	Identity string
}

// DB is a loaded, reloadable user/token database.
type DB struct {
	path string

	mu      sync.RWMutex
	byToken map[string]User
}

// Load reads path and returns a DB primed with its contents.
func Load(path string) (*DB, error) {
	d := &DB{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the database file from disk, replacing the
// in-memory token map atomically.
func (d *DB) Reload() error {
	f, err := os.Open(d.path)
	if err != nil {
		return wikierr.E("userdb.Reload", wikierr.IO, err)
	}
	defer f.Close()

	byToken := make(map[string]User)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		username, token := fields[0], fields[1]
		byToken[token] = User{
			Username: username,
			Token:    token,
			Identity: username + " <" + username + "@wikifs.local>",
		}
	}
	if err := scanner.Err(); err != nil {
		return wikierr.E("userdb.Reload", wikierr.IO, err)
	}

	d.mu.Lock()
	d.byToken = byToken
	d.mu.Unlock()
	return nil
}

// Lookup returns the user for token without triggering a reload.
func (d *DB) Lookup(token string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byToken[token]
	return u, ok
}

// LookupWithReload looks up token, reloading from disk once and
// retrying if the first lookup misses.
func (d *DB) LookupWithReload(token string) (User, error) {
	if u, ok := d.Lookup(token); ok {
		return u, nil
	}
	if err := d.Reload(); err != nil {
		return User{}, err
	}
	if u, ok := d.Lookup(token); ok {
		return u, nil
	}
	return User{}, wikierr.E("userdb.LookupWithReload", wikierr.Unauthorized)
}

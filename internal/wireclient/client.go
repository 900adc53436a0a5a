// Package wireclient implements the typed HTTP calls the filesystem
// adapter makes against the lock-and-revision server. Each exported
// method corresponds to one server endpoint: it carries the bearer
// token and path, JSON-encodes any body, and translates the HTTP
// status of a non-2xx response into a *wikierr.Error.
package wireclient

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oschuett/wikifs/internal/wikierr"
	"github.com/oschuett/wikifs/internal/wikiproto"
)

const maxBodyBytes = 64 << 20 // 64MB: generous for a wiki-sized text file.

// Client is a typed HTTP client for the wikifs lock-and-revision
// server. It is safe for concurrent use.
type Client struct {
	baseURL string // no trailing slash, e.g. "http://wiki.example.com:5002/wikifs"
	token   string
	http    *http.Client
}

// New returns a Client that talks to serverURL (no trailing slash)
// using token as the bearer credential.
func New(serverURL, token string) *Client {
	return &Client{
		baseURL: serverURL + "/wikifs",
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(method, endpoint, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, wikierr.E("wireclient."+endpoint, wikierr.IO, err)
		}
		reader = bytes.NewReader(buf)
	}

	u := c.baseURL + endpoint + "?path=" + url.QueryEscape(path)
	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return nil, wikierr.E("wireclient."+endpoint, wikierr.IO, err)
	}
	req.Header.Set("Authorization", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wikierr.E("wireclient."+endpoint, wikierr.Path(path), wikierr.IO, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, wikierr.E("wireclient."+endpoint, wikierr.Path(path), wikierr.IO, err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, c.statusError(endpoint, path, resp.StatusCode, data)
	}
	return data, nil
}

// statusError maps a non-2xx HTTP status to a *wikierr.Error.
func (c *Client) statusError(endpoint, path string, status int, body []byte) error {
	var kind wikierr.Kind
	switch status {
	case http.StatusNotFound:
		kind = wikierr.NotFound
	case http.StatusUnauthorized:
		kind = wikierr.Unauthorized
	case http.StatusForbidden:
		kind = wikierr.PermissionDenied
	case http.StatusConflict:
		kind = wikierr.Exist
	case http.StatusLocked, 410: // 423 is canonical; 410 accepted too for older server deployments.
		kind = wikierr.LockedByOther
	default:
		kind = wikierr.IO
	}
	msg := fmt.Sprintf("http %d", status)
	var er wikiproto.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	return wikierr.E("wireclient."+endpoint, wikierr.Path(path), kind, wikierr.Str(msg))
}

// GetAttr fetches the stat tuple for path.
func (c *Client) GetAttr(path string) (wikiproto.Stat, error) {
	var st wikiproto.Stat
	data, err := c.do(http.MethodGet, "/getattr", path, nil)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, wikierr.E("wireclient.GetAttr", wikierr.Path(path), wikierr.IO, err)
	}
	return st, nil
}

// ReadDir lists the "_"-prefixed wiki basenames directly inside dir.
func (c *Client) ReadDir(dir string) ([]string, error) {
	data, err := c.do(http.MethodGet, "/readdir", dir, nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, wikierr.E("wireclient.ReadDir", wikierr.Path(dir), wikierr.IO, err)
	}
	return names, nil
}

// Download returns the current content, lock ownership, and
// synthesized mode for path.
func (c *Client) Download(path string) ([]byte, bool, uint32, error) {
	data, err := c.do(http.MethodGet, "/download", path, nil)
	if err != nil {
		return nil, false, 0, err
	}
	var dr wikiproto.DownloadResponse
	if err := json.Unmarshal(data, &dr); err != nil {
		return nil, false, 0, wikierr.E("wireclient.Download", wikierr.Path(path), wikierr.IO, err)
	}
	content, err := base64.StdEncoding.DecodeString(dr.Content)
	if err != nil {
		return nil, false, 0, wikierr.E("wireclient.Download", wikierr.Path(path), wikierr.IO, err)
	}
	return content, dr.LockIsYour, dr.Mode, nil
}

// Upload writes content to path. It fails with PermissionDenied if
// the caller no longer holds the lock; the mirror cache swallows this
// one non-fatally, but wireclient still reports it so the caller can
// decide.
func (c *Client) Upload(path string, content []byte) error {
	req := wikiproto.UploadRequest{Content: base64.StdEncoding.EncodeToString(content)}
	_, err := c.do(http.MethodPost, "/upload", path, req)
	return err
}

// Create creates an empty wiki file and acquires its lock for the
// caller.
func (c *Client) Create(path string) error {
	_, err := c.do(http.MethodGet, "/create", path, nil)
	return err
}

// Chmod requests a lock-state transition: any write bit in mode
// acquires the lock, its absence releases it and triggers a commit if
// the content changed.
func (c *Client) Chmod(path string, mode uint32) error {
	req := wikiproto.ChmodRequest{Mode: mode}
	_, err := c.do(http.MethodPost, "/chmod", path, req)
	return err
}

// Remove deletes path, recording a revision if it was tracked.
func (c *Client) Remove(path string) error {
	_, err := c.do(http.MethodGet, "/remove", path, nil)
	return err
}

// Rename moves oldPath to newPath server-side; both must be wiki
// paths. Cross-domain renames are handled entirely client-side.
func (c *Client) Rename(oldPath, newPath string) error {
	req := wikiproto.RenameRequest{NewPath: newPath}
	_, err := c.do(http.MethodPost, "/rename", oldPath, req)
	return err
}

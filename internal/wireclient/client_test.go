package wireclient

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oschuett/wikifs/internal/wikierr"
	"github.com/oschuett/wikifs/internal/wikiproto"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(srv.URL, "tok-123")
	return c, srv.Close
}

func TestGetAttrSuccess(t *testing.T) {
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "/notes/_a", r.URL.Query().Get("path"))
		assert.Equal(t, "/wikifs/getattr", r.URL.Path)
		st := wikiproto.Stat{Mode: wikiproto.ReadWriteMode, Size: 4}
		json.NewEncoder(w).Encode(st)
	})
	defer closeFn()

	st, err := c.GetAttr("/notes/_a")
	require.NoError(t, err)
	assert.Equal(t, wikiproto.ReadWriteMode, st.Mode)
	assert.Equal(t, int64(4), st.Size)
}

func TestGetAttrNotFoundMapsToNotFoundKind(t *testing.T) {
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(wikiproto.ErrorResponse{Error: "no such file"})
	})
	defer closeFn()

	_, err := c.GetAttr("/notes/_missing")
	require.Error(t, err)
	assert.Equal(t, wikierr.NotFound, wikierr.KindOf(err))
}

func TestChmodLockedByOtherMapsCorrectly(t *testing.T) {
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLocked)
		json.NewEncoder(w).Encode(wikiproto.ErrorResponse{Error: "locked by u1"})
	})
	defer closeFn()

	err := c.Chmod("/_b", wikiproto.ReadWriteMode)
	require.Error(t, err)
	assert.Equal(t, wikierr.LockedByOther, wikierr.KindOf(err))
}

func TestUploadEncodesContentAsBase64(t *testing.T) {
	var gotBody wikiproto.UploadRequest
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte("{}"))
	})
	defer closeFn()

	require.NoError(t, c.Upload("/_a", []byte("hello")))
	decoded, err := base64.StdEncoding.DecodeString(gotBody.Content)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(decoded))
}

func TestDownloadDecodesContent(t *testing.T) {
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		dr := wikiproto.DownloadResponse{
			Content:    base64.StdEncoding.EncodeToString([]byte("hi")),
			LockIsYour: true,
			Mode:       wikiproto.ReadWriteMode,
		}
		json.NewEncoder(w).Encode(dr)
	})
	defer closeFn()

	content, isYours, mode, err := c.Download("/_a")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
	assert.True(t, isYours)
	assert.Equal(t, wikiproto.ReadWriteMode, mode)
}

func TestRenameSendsNewPathBody(t *testing.T) {
	var gotBody wikiproto.RenameRequest
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "/old", r.URL.Query().Get("path"))
		w.Write([]byte("{}"))
	})
	defer closeFn()

	require.NoError(t, c.Rename("/old", "/new"))
	assert.Equal(t, "/new", gotBody.NewPath)
}

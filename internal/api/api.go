// Package api implements the HTTP surface of the lock-and-revision
// server: request routing, bearer-token authentication, request
// body/argument parsing, and error-to-status mapping, all under the
// base path /wikifs.
package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/oschuett/wikifs/internal/lockmgr"
	"github.com/oschuett/wikifs/internal/revision"
	"github.com/oschuett/wikifs/internal/userdb"
	"github.com/oschuett/wikifs/internal/wikierr"
	"github.com/oschuett/wikifs/internal/wikilog"
	"github.com/oschuett/wikifs/internal/wikipath"
	"github.com/oschuett/wikifs/internal/wikiproto"
)

// Server holds the server's wiring: content root, user database, lock
// manager, and revision recorder.
type Server struct {
	root  string
	users *userdb.DB
	locks *lockmgr.Manager
	rec   *revision.Recorder
}

// New returns a Server whose authoritative content lives under root.
func New(root string, users *userdb.DB) *Server {
	return &Server{
		root:  root,
		users: users,
		locks: lockmgr.New(root),
		rec:   revision.New(root),
	}
}

// handlerFunc is a request handler given the authenticated user and
// the "path" query argument already extracted.
type handlerFunc func(w http.ResponseWriter, r *http.Request, user userdb.User, path string)

// handle wraps fn with bearer-token authentication and the "path"
// query argument extraction shared by every endpoint.
func (s *Server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		user, err := s.users.LookupWithReload(token)
		if err != nil {
			writeError(w, err)
			return
		}
		path := r.URL.Query().Get("path")
		fn(w, r, user, path)
	}
}

// Handler returns the routed http.Handler for the /wikifs API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wikifs/getattr", s.handle(s.getAttr))
	mux.HandleFunc("/wikifs/readdir", s.handle(s.readDir))
	mux.HandleFunc("/wikifs/download", s.handle(s.download))
	mux.HandleFunc("/wikifs/upload", s.handle(s.upload))
	mux.HandleFunc("/wikifs/create", s.handle(s.create))
	mux.HandleFunc("/wikifs/chmod", s.handle(s.chmod))
	mux.HandleFunc("/wikifs/remove", s.handle(s.remove))
	mux.HandleFunc("/wikifs/rename", s.handle(s.rename))
	return mux
}

func (s *Server) fsPath(path string) string {
	return filepath.Join(s.root, path)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, wikierr.E("api.writeJSON", wikierr.IO, err))
		return
	}
	w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch wikierr.KindOf(err) {
	case wikierr.NotFound:
		status = http.StatusNotFound
	case wikierr.Unauthorized:
		status = http.StatusUnauthorized
	case wikierr.PermissionDenied:
		status = http.StatusForbidden
	case wikierr.Exist:
		status = http.StatusConflict
	case wikierr.LockedByOther:
		status = http.StatusLocked
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(wikiproto.ErrorResponse{Error: err.Error()})
}

func readBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func statFor(fsPath, path, user string, locks *lockmgr.Manager) (wikiproto.Stat, error) {
	fi, err := os.Stat(fsPath)
	if os.IsNotExist(err) {
		return wikiproto.Stat{}, wikierr.E("api.stat", wikierr.Path(path), wikierr.NotFound)
	}
	if err != nil {
		return wikiproto.Stat{}, wikierr.E("api.stat", wikierr.Path(path), wikierr.IO, err)
	}
	owner, err := locks.Owner(path)
	if err != nil {
		return wikiproto.Stat{}, err
	}
	mode := wikiproto.ReadOnlyMode
	if owner == user {
		mode = wikiproto.ReadWriteMode
	}
	return wikiproto.Stat{
		Mtime: fi.ModTime().Unix(),
		Ctime: fi.ModTime().Unix(),
		Atime: fi.ModTime().Unix(),
		Nlink: 1,
		Size:  fi.Size(),
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Mode:  mode,
	}, nil
}

func (s *Server) getAttr(w http.ResponseWriter, r *http.Request, user userdb.User, path string) {
	st, err := statFor(s.fsPath(path), path, user.Username, s.locks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) readDir(w http.ResponseWriter, r *http.Request, user userdb.User, dir string) {
	entries, err := os.ReadDir(s.fsPath(dir))
	if err != nil && !os.IsNotExist(err) {
		writeError(w, wikierr.E("api.readDir", wikierr.Path(dir), wikierr.IO, err))
		return
	}
	names := []string{}
	for _, e := range entries {
		if wikipath.IsLockName(e.Name()) {
			continue
		}
		if wikipath.IsWiki(e.Name()) {
			names = append(names, e.Name())
		}
	}
	writeJSON(w, names)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request, user userdb.User, path string) {
	fsPath := s.fsPath(path)
	content, err := os.ReadFile(fsPath)
	if os.IsNotExist(err) {
		writeError(w, wikierr.E("api.download", wikierr.Path(path), wikierr.NotFound))
		return
	}
	if err != nil {
		writeError(w, wikierr.E("api.download", wikierr.Path(path), wikierr.IO, err))
		return
	}
	owner, err := s.locks.Owner(path)
	if err != nil {
		writeError(w, err)
		return
	}
	mode := wikiproto.ReadOnlyMode
	if owner == user.Username {
		mode = wikiproto.ReadWriteMode
	}
	writeJSON(w, wikiproto.DownloadResponse{
		Content:    base64.StdEncoding.EncodeToString(content),
		LockIsYour: owner == user.Username,
		Mode:       mode,
	})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request, user userdb.User, path string) {
	var req wikiproto.UploadRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, wikierr.E("api.upload", wikierr.Path(path), wikierr.IO, err))
		return
	}
	has, err := s.locks.UserHasLock(path, user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	if !has {
		writeError(w, wikierr.E("api.upload", wikierr.Path(path), wikierr.User(user.Username), wikierr.PermissionDenied))
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, wikierr.E("api.upload", wikierr.Path(path), wikierr.IO, err))
		return
	}
	if err := os.WriteFile(s.fsPath(path), content, 0664); err != nil {
		writeError(w, wikierr.E("api.upload", wikierr.Path(path), wikierr.IO, err))
		return
	}
	writeJSON(w, wikiproto.Empty{})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, user userdb.User, path string) {
	fsPath := s.fsPath(path)
	if _, err := os.Stat(fsPath); err == nil {
		writeError(w, wikierr.E("api.create", wikierr.Path(path), wikierr.Exist))
		return
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0755); err != nil {
		writeError(w, wikierr.E("api.create", wikierr.Path(path), wikierr.IO, err))
		return
	}
	if err := os.WriteFile(fsPath, nil, 0664); err != nil {
		writeError(w, wikierr.E("api.create", wikierr.Path(path), wikierr.IO, err))
		return
	}
	if err := s.locks.Acquire(path, user.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, wikiproto.Empty{})
}

func (s *Server) chmod(w http.ResponseWriter, r *http.Request, user userdb.User, path string) {
	var req wikiproto.ChmodRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, wikierr.E("api.chmod", wikierr.Path(path), wikierr.IO, err))
		return
	}
	if req.Mode&0o222 != 0 {
		if err := s.locks.Acquire(path, user.Username); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, wikiproto.Empty{})
		return
	}
	if err := s.rec.CommitIfDirty(path, user.Identity); err != nil {
		writeError(w, err)
		return
	}
	if err := s.locks.Release(path, user.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, wikiproto.Empty{})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request, user userdb.User, path string) {
	if err := s.locks.Acquire(path, user.Username); err != nil {
		wikilog.Debug.Printf("api.remove: %s: could not claim lock before removal: %v", path, err)
	}
	err := s.rec.Remove(path, user.Identity)
	if relErr := s.locks.Release(path, user.Username); relErr != nil {
		wikilog.Error.Printf("api.remove: %s: lock release failed: %v", path, relErr)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, wikiproto.Empty{})
}

func (s *Server) rename(w http.ResponseWriter, r *http.Request, user userdb.User, oldPath string) {
	var req wikiproto.RenameRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, wikierr.E("api.rename", wikierr.Path(oldPath), wikierr.IO, err))
		return
	}
	newPath := req.NewPath

	oldWasMine, newWasMine, err := s.locks.AcquireBoth(oldPath, newPath, user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.rec.Rename(oldPath, newPath, user.Identity); err != nil {
		writeError(w, err)
		return
	}
	if err := s.locks.Release(oldPath, user.Username); err != nil {
		wikilog.Error.Printf("api.rename: %s: old lock release failed: %v", oldPath, err)
	}
	if !newWasMine {
		if err := s.locks.Release(newPath, user.Username); err != nil {
			wikilog.Error.Printf("api.rename: %s: new lock release failed: %v", newPath, err)
		}
	}
	_ = oldWasMine
	writeJSON(w, wikiproto.Empty{})
}

// Command wikifs-server runs the lock-and-revision HTTP server: it
// owns the authoritative wiki content under a single root directory,
// enforces per-path advisory locks, and records every writable-to-
// read-only transition as a git revision.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oschuett/wikifs/internal/api"
	"github.com/oschuett/wikifs/internal/userdb"
	"github.com/oschuett/wikifs/internal/wikilog"
)

const defaultPort = 5002

var (
	port     = flag.Int("port", defaultPort, "TCP port to serve.")
	logLevel = flag.String("log", "info", "log level: debug, info, warn, error")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <wikifs_root>\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
	}
	root := flag.Arg(0)

	if err := wikilog.SetLevel(*logLevel); err != nil {
		wikilog.Error.Fatalf("wikifs-server: bad -log value: %v", err)
	}

	usersPath := filepath.Join(root, "users.db")
	users, err := userdb.Load(usersPath)
	if err != nil {
		wikilog.Error.Fatalf("wikifs-server: loading %s: %v", usersPath, err)
	}

	srv := api.New(root, users)

	wikilog.Info.Printf("wikifs-server: serving %s on :%d", root, *port)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      accessLog(srv.Handler()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	wikilog.Error.Fatal(httpSrv.ListenAndServe())
}

// statusWriter records the status code written so accessLog can log it
// after the handler returns; http.ResponseWriter has no getter for it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// accessLog logs one line per request: method, path, status, and
// duration (not the user or token), matching the teacher's own
// request-scoped logging style in cmd/directory/server.go.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		wikilog.WithField("method", r.Method).
			WithField("path", r.URL.Query().Get("path")).
			WithField("status", sw.status).
			WithField("duration", time.Since(start)).
			Info("wikifs-server: request")
	})
}

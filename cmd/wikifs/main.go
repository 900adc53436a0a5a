// Command wikifs mounts a wikifs namespace over FUSE: wiki files
// (basenames starting with "_") are routed to a lock-and-revision
// server, everything else passes through to a local directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/oschuett/wikifs/internal/config"
	"github.com/oschuett/wikifs/internal/fsadapter"
	"github.com/oschuett/wikifs/internal/mirror"
	"github.com/oschuett/wikifs/internal/wikilog"
	"github.com/oschuett/wikifs/internal/wireclient"
)

var logLevel = flag.String("log", "info", "log level: debug, info, warn, error")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <config-file> <mountpoint>\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
	}
	configFile, mountpoint := flag.Arg(0), flag.Arg(1)

	if err := wikilog.SetLevel(*logLevel); err != nil {
		wikilog.Error.Fatalf("wikifs: bad -log value: %v", err)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		wikilog.Error.Fatalf("wikifs: %v", err)
	}

	if err := os.MkdirAll(cfg.LocalRoot, 0755); err != nil {
		wikilog.Error.Fatalf("wikifs: creating local root: %v", err)
	}

	client := wireclient.New(cfg.ServerURL, cfg.AuthToken)

	cacheDir := cfg.LocalRoot + "/.wikifs-cache"
	mirrorCache, err := mirror.New(cacheDir, client)
	if err != nil {
		wikilog.Error.Fatalf("wikifs: %v", err)
	}

	filesys := fsadapter.New(cfg.LocalRoot, client, mirrorCache)

	c, err := fuse.Mount(
		mountpoint,
		fuse.FSName("wikifs"),
		fuse.Subtype("wikifs"),
		fuse.LocalVolume(),
		fuse.VolumeName("wikifs"),
	)
	if err != nil {
		wikilog.Error.Fatalf("wikifs: mount: %v", err)
	}
	defer c.Close()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		wikilog.Info.Printf("wikifs: signal received, unmounting %s", mountpoint)
		fuse.Unmount(mountpoint)
	}()

	wikilog.Info.Printf("wikifs: mounted %s on %s, server %s", cfg.LocalRoot, mountpoint, cfg.ServerURL)
	if err := fs.Serve(c, filesys); err != nil {
		wikilog.Error.Fatalf("wikifs: serve: %v", err)
	}

	<-c.Ready
	if err := c.MountError; err != nil {
		wikilog.Error.Fatalf("wikifs: mount: %v", err)
	}
}

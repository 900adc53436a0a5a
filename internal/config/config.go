// Package config loads the client's INI-style configuration file,
// described by a single [wikifs] section.
package config

import (
	"github.com/go-ini/ini"

	"github.com/oschuett/wikifs/internal/wikierr"
)

// Config holds the client's mount-time settings.
type Config struct {
	// LocalRoot is the directory backing plain local paths.
	LocalRoot string
	// ServerURL is the lock-and-revision server's base URL, no
	// trailing slash.
	ServerURL string
	// AuthToken is the bearer credential sent with every request.
	AuthToken string
}

// Load reads path as an INI file with section [wikifs] and keys
// local_root, server_url, auth_token.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, wikierr.E("config.Load", wikierr.Path(path), wikierr.IO, err)
	}
	sec := f.Section("wikifs")
	c := &Config{
		LocalRoot: sec.Key("local_root").String(),
		ServerURL: sec.Key("server_url").String(),
		AuthToken: sec.Key("auth_token").String(),
	}
	if c.LocalRoot == "" {
		return nil, wikierr.E("config.Load", wikierr.Path(path), wikierr.Str("missing local_root in [wikifs]"))
	}
	if c.ServerURL == "" {
		return nil, wikierr.E("config.Load", wikierr.Path(path), wikierr.Str("missing server_url in [wikifs]"))
	}
	return c, nil
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package siteconfig loads the global e2.conf site configuration (§6):
// tool locations, the cache path, and the server table every project's
// source/licence/chroot groups resolve server names against.
//
// Unlike the project-local configuration files (internal/config), which
// use the restricted declarative-builder grammar, e2.conf is structured
// nested data with no scripting surface at all, so it is loaded as plain
// YAML -- the same approach the rest of the pack uses for service config
// (gopkg.in/yaml.v3).
package siteconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/emlix/e2factory/internal/e2err"
)

// Tool describes one external tool binding (git, svn, cvs, tar, rsync...).
type Tool struct {
	Name   string   `yaml:"name"`
	Path   string   `yaml:"path"`
	Flags  []string `yaml:"flags"`
	Enable bool     `yaml:"enable"`
}

// Server describes one named cache/transport server, the same shape
// pkg/cache.ServerConfig consumes directly.
type Server struct {
	URL             string `yaml:"url"`
	Cachable        bool   `yaml:"cachable"`
	Cache           bool   `yaml:"cache"`
	IsLocal         bool   `yaml:"islocal"`
	Writeback       bool   `yaml:"writeback"`
	PushPermissions string `yaml:"push_permissions"`
}

// Site holds the site.* subtree: the pinned e2 version coordinates and
// miscellaneous site-wide defaults.
type Site struct {
	E2Server          string `yaml:"e2_server"`
	E2Location        string `yaml:"e2_location"`
	E2Base            string `yaml:"e2_base"`
	E2Branch          string `yaml:"e2_branch"`
	E2Tag             string `yaml:"e2_tag"`
	TmpDir            string `yaml:"tmpdir"`
	DefaultExtensions string `yaml:"default_extensions"`
}

// Log holds the log.* subtree.
type Log struct {
	Logrotate int `yaml:"logrotate"`
}

// Cache holds the cache.* subtree.
type Cache struct {
	Path string `yaml:"path"`
}

// Config is the fully parsed global e2.conf (plus any e2.conf.local
// overlay already merged in).
type Config struct {
	Log     Log               `yaml:"log"`
	Site    Site              `yaml:"site"`
	Tools   []Tool            `yaml:"tools"`
	Cache   Cache             `yaml:"cache"`
	Servers map[string]Server `yaml:"servers"`
}

// SearchPaths returns the ordered list of candidate locations for the
// global config file (§6): explicit flag, environment variable, then the
// fixed fallback chain.
func SearchPaths(flagPath, envValue, projectRoot, home string) []string {
	var paths []string
	if flagPath != "" {
		paths = append(paths, flagPath)
	}
	if envValue != "" {
		paths = append(paths, envValue)
	}
	if projectRoot != "" {
		paths = append(paths, filepath.Join(projectRoot, ".e2", "e2config"))
	}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".e2", "e2.conf"))
	}
	paths = append(paths, "/etc/e2/e2.conf")
	return paths
}

// Load finds the first existing path in SearchPaths, parses it, and merges
// a sibling e2.conf.local over it if one exists alongside.
//
// The overlay is a shallow top-level key merge: each top-level YAML key
// present in e2.conf.local entirely replaces the corresponding key from
// e2.conf, rather than deep-merging nested maps. This keeps the override
// semantics easy to reason about -- a site operator overriding `servers`
// replaces the whole server table, not individual entries within it.
func Load(flagPath, envValue, projectRoot, home string) (*Config, string, error) {
	candidates := SearchPaths(flagPath, envValue, projectRoot, home)
	var found string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			found = p
			break
		}
	}
	if found == "" {
		return nil, "", e2err.Newf(e2err.Configuration, "no global config file found, tried: %v", candidates)
	}
	cfg, err := parse(found)
	if err != nil {
		return nil, found, err
	}
	localPath := found + ".local"
	if _, err := os.Stat(localPath); err == nil {
		if err := mergeLocal(cfg, localPath); err != nil {
			return nil, found, err
		}
	}
	return cfg, found, nil
}

func parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, e2err.Wrapf(err, e2err.Resource, "reading global config %s", path)
	}
	cfg := &Config{Servers: map[string]Server{}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, e2err.At(e2err.Wrapf(err, e2err.Configuration, "parsing global config"), e2err.Location{File: path})
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]Server{}
	}
	return cfg, nil
}

// mergeLocal applies the shallow top-level key overlay described on Load.
func mergeLocal(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "reading local config overlay %s", path)
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return e2err.At(e2err.Wrapf(err, e2err.Configuration, "parsing local config overlay"), e2err.Location{File: path})
	}
	for key, node := range raw {
		if err := mergeKey(cfg, key, node); err != nil {
			return e2err.At(e2err.Wrapf(err, e2err.Configuration, "applying local override for %q", key), e2err.Location{File: path})
		}
	}
	return nil
}

func mergeKey(cfg *Config, key string, node yaml.Node) error {
	switch key {
	case "log":
		return node.Decode(&cfg.Log)
	case "site":
		return node.Decode(&cfg.Site)
	case "tools":
		return node.Decode(&cfg.Tools)
	case "cache":
		return node.Decode(&cfg.Cache)
	case "servers":
		servers := map[string]Server{}
		if err := node.Decode(&servers); err != nil {
			return err
		}
		cfg.Servers = servers
		return nil
	default:
		return nil
	}
}

// ResolveServer looks up a server name's URL, the callback SCM drivers use
// to turn a source's symbolic server into a real remote address.
func (c *Config) ResolveServer(name string) (string, error) {
	s, ok := c.Servers[name]
	if !ok {
		return "", e2err.Newf(e2err.Configuration, "no server named %q in global config", name)
	}
	return s.URL, nil
}

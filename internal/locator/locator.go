// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package locator parses the two address shapes the engine deals with:
// project-internal "server:location" pairs, and the external transport
// URLs declared for each server in site configuration. It is the thin
// seam every File reference and every Cache lookup goes through, mirroring
// the teacher's internal/urlx.MustParse seam for net/url.
package locator

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// InProjectServer is the symbolic server name meaning "relative to the
// project root", spelled "." in configuration files.
const InProjectServer = "."

// Ref is a project-internal file address: a symbolic server name plus a
// location (a path) on that server.
type Ref struct {
	Server   string
	Location string
}

func (r Ref) String() string {
	return r.Server + ":" + r.Location
}

// IsInProject reports whether this ref refers to the special "." server.
func (r Ref) IsInProject() bool {
	return r.Server == InProjectServer
}

// ParseRef parses a "server:location" string. The server name is
// everything up to the first colon; the special server "." never needs
// quoting since locations are not permitted to start with a colon.
func ParseRef(s string) (Ref, error) {
	server, location, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, errors.Errorf("locator: %q is not a server:location reference", s)
	}
	if server == "" {
		return Ref{}, errors.Errorf("locator: %q has an empty server name", s)
	}
	if location == "" {
		return Ref{}, errors.Errorf("locator: %q has an empty location", s)
	}
	return Ref{Server: server, Location: location}, nil
}

// MustParseRef parses s, panicking on error. Intended for literals baked
// into tests and defaults, mirroring the teacher's urlx.MustParse.
func MustParseRef(s string) Ref {
	r, err := ParseRef(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Scheme identifies the transport used to reach a server.
type Scheme string

const (
	SchemeFile  Scheme = "file"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeRsync Scheme = "rsync"
	SchemeSSH   Scheme = "ssh"
	SchemeSCP   Scheme = "scp"
)

func (s Scheme) String() string {
	return string(s)
}

// ServerURL is a parsed transport URL for a server declaration in site
// config, e.g. "rsync://build.example.org/cache" or "ssh://user@host/path".
type ServerURL struct {
	Scheme Scheme
	Host   string
	Port   string
	User   string
	Path   string
}

// ParseServerURL parses a transport URL for a declared server.
func ParseServerURL(raw string) (ServerURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ServerURL{}, errors.Wrapf(err, "locator: invalid server URL %q", raw)
	}
	scheme := Scheme(strings.ToLower(u.Scheme))
	switch scheme {
	case SchemeFile, SchemeHTTP, SchemeHTTPS, SchemeRsync, SchemeSSH, SchemeSCP:
	default:
		return ServerURL{}, errors.Errorf("locator: unsupported transport scheme %q in %q", u.Scheme, raw)
	}
	var user string
	if u.User != nil {
		user = u.User.Username()
	}
	path := u.Path
	if scheme == SchemeFile && u.Host == "" {
		// file:///abs/path or bare absolute paths used directly as file URLs.
		path = u.Path
	}
	return ServerURL{
		Scheme: scheme,
		Host:   u.Hostname(),
		Port:   u.Port(),
		User:   user,
		Path:   path,
	}, nil
}

// JoinLocation resolves a Ref's location against this server URL, producing
// a fully qualified remote path/URL for the transport layer to act on.
func (s ServerURL) JoinLocation(location string) string {
	location = strings.TrimPrefix(location, "/")
	base := strings.TrimSuffix(s.Path, "/")
	return base + "/" + location
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine wires the otherwise-independent components (config
// loader, identity computation, dependency graph, SCM drivers, cache,
// chroot controller, build pipeline) into the runnable build driver the
// CLI commands (cmd/e2) invoke. This is the composition root: every other
// package in this module is designed to be usable without it, but a real
// end-to-end build run needs something that calls them all in the right
// order, which is what this package provides.
package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/locator"
	"github.com/emlix/e2factory/pkg/cache"
	"github.com/emlix/e2factory/pkg/fileref"
	"github.com/emlix/e2factory/pkg/model"
	"github.com/emlix/e2factory/pkg/project"
	"github.com/emlix/e2factory/pkg/scm"
)

// projectByteSource adapts the project root and the content cache into
// fileref.ByteSource: in-project ("." server) references read straight off
// disk, everything else goes through the cache.
type projectByteSource struct {
	root  string
	cache *cache.Cache
}

func (s projectByteSource) Open(ref locator.Ref) (io.ReadCloser, error) {
	if ref.IsInProject() {
		return os.Open(filepath.Join(s.root, ref.Location))
	}
	path, err := s.cache.FetchFilePath(context.Background(), ref, nil)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

var _ fileref.ByteSource = projectByteSource{}

// resolveIdentities populates every chroot group's and licence's fileids
// (so their ID() methods become callable), which must happen once per
// loaded project before any projid or buildid is computed.
func resolveIdentities(l *project.Loaded, src fileref.ByteSource) error {
	for name, g := range l.ChrootGroups {
		if err := g.Resolve(src); err != nil {
			return e2err.Wrapf(err, e2err.Identity, "chroot group %q", name)
		}
	}
	for name, lic := range l.Licences {
		if err := lic.Resolve(src); err != nil {
			return e2err.Wrapf(err, e2err.Identity, "licence %q", name)
		}
	}
	return nil
}

// sourceIDCache memoizes (source name, sourceset) -> sourceid, both to
// avoid re-deriving commit/revision identities on every use and to let the
// licence-source driver recurse into sibling sources' identities via
// scm.Dependencies.ResolveSourceID without re-entering the scheduler.
type sourceIDCache struct {
	drivers  *scm.Registry
	sources  map[string]*model.Source
	projRoot string
	memo     map[sourceIDKey]string
}

type sourceIDKey struct {
	name string
	set  model.SourceSet
}

func newSourceIDCache(drivers *scm.Registry, sources map[string]*model.Source, projRoot string) *sourceIDCache {
	return &sourceIDCache{drivers: drivers, sources: sources, projRoot: projRoot, memo: map[sourceIDKey]string{}}
}

func (c *sourceIDCache) workDir(name string) string {
	return filepath.Join(c.projRoot, "in", name)
}

// resolve computes (or returns the memoized) sourceid for name under set.
// It is passed to scm.Dependencies as ResolveSourceID, so the
// licence-source driver can call back into it for each referenced source
// without knowing anything about the scheduler that is iterating them.
func (c *sourceIDCache) resolve(ctx context.Context, name string, set model.SourceSet) (string, error) {
	key := sourceIDKey{name, set}
	if id, ok := c.memo[key]; ok {
		return id, nil
	}
	src, ok := c.sources[name]
	if !ok {
		return "", e2err.Newf(e2err.Configuration, "unknown source %q", name)
	}
	driver, err := c.drivers.New(src, c.workDir(name))
	if err != nil {
		return "", err
	}
	id, err := driver.SourceID(ctx, set)
	if err != nil {
		return "", e2err.Wrapf(err, e2err.Identity, "source %q", name)
	}
	c.memo[key] = id
	return id, nil
}

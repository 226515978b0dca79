// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/internal/locator"
	"github.com/emlix/e2factory/internal/procx"
)

// ServerConfig is one server's entry from the global site configuration
// (§6): a transport URL plus the cache/writeback flags governing it.
type ServerConfig struct {
	Name            string
	URL             string
	Cachable        bool
	Cache           bool
	IsLocal         bool
	Writeback       bool
	PushPermissions os.FileMode
}

// Cache maps (server, location) pairs to local paths, fetching through a
// per-server Transport and serializing same-key fetches in-process via
// Coalescing (§4.4, §8 property 6). On-disk, the local cache mirrors the
// per-server location hierarchy under cacheRoot/<server>/<location>.
type Cache struct {
	root     billy.Filesystem
	servers  map[string]ServerConfig
	exec     procx.Executor
	inflight Coalescing[locator.Ref, fetchResult]
	locks    *lockTable
}

// fetchResult is the coalesced outcome of ensuring ref is present in the
// local cache: its path within the cache root and whether this call
// observed a pre-existing hit. Destination placement (hardlink/copy into a
// caller-specific destDir) happens outside the coalesced section, since two
// concurrent callers for the same ref may want it placed in different
// directories.
type fetchResult struct {
	path string
	hit  bool
}

// New creates a Cache rooted at cacheDir, backed by the given server
// declarations.
func New(cacheDir string, servers map[string]ServerConfig, exec procx.Executor) (*Cache, error) {
	if exec == nil {
		exec = procx.NewReal()
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, e2err.Wrapf(err, e2err.Resource, "creating cache dir %s", cacheDir)
	}
	return &Cache{
		root:    osfs.New(cacheDir),
		servers: servers,
		exec:    exec,
		locks:   newLockTable(cacheDir),
	}, nil
}

// ValidServer reports whether server is declared.
func (c *Cache) ValidServer(server string) bool {
	if server == locator.InProjectServer {
		return true
	}
	_, ok := c.servers[server]
	return ok
}

// CacheEnabled reports whether server's fetched content is cachable and
// caching is turned on for it.
func (c *Cache) CacheEnabled(server string) bool {
	s, ok := c.servers[server]
	return ok && s.Cachable && s.Cache
}

// WritebackEnabled reports whether pushes to server are permitted.
func (c *Cache) WritebackEnabled(server string) bool {
	s, ok := c.servers[server]
	return ok && s.Writeback
}

func (c *Cache) localPath(ref locator.Ref) string {
	return filepath.Join(ref.Server, filepath.FromSlash(ref.Location))
}

// RemoteURL returns the fully-resolved remote URL for ref, for display and
// for ls-project-style tooling.
func (c *Cache) RemoteURL(ref locator.Ref) (string, error) {
	s, ok := c.servers[ref.Server]
	if !ok {
		return "", e2err.Newf(e2err.Configuration, "unknown server %q", ref.Server)
	}
	su, err := locator.ParseServerURL(s.URL)
	if err != nil {
		return "", err
	}
	return su.Scheme.String() + "://" + su.Host + su.JoinLocation(ref.Location), nil
}

// FetchFile fetches ref into the local cache (if not already present),
// verifies it against expect if non-nil, and optionally hardlinks it into
// destDir/destName. It returns the local cache path and whether this call
// observed a pre-existing cache hit.
//
// Ensuring ref is cached is coalesced in-process through Coalescing, keyed
// by ref (§4.4, §8 property 6): concurrent callers for the same
// (server, location) within this process share one fetch rather than each
// separately waiting on the cross-process file lock. Destination placement
// still runs once per caller.
func (c *Cache) FetchFile(ctx context.Context, ref locator.Ref, expect *Checksum, destDir, destName string) (path string, hit bool, err error) {
	if ref.Server == locator.InProjectServer {
		return "", false, e2err.New(e2err.Configuration, "FetchFile called for in-project server; use the project filesystem directly")
	}
	res, err := c.inflight.GetOrSet(ref, func() (fetchResult, error) {
		return c.ensureCached(ctx, ref, expect)
	})
	if err != nil {
		return "", false, err
	}
	if destDir != "" {
		if destName == "" {
			destName = filepath.Base(ref.Location)
		}
		dst := filepath.Join(destDir, destName)
		if err := hardlinkOrCopy(res.path, dst); err != nil {
			return "", res.hit, e2err.Wrapf(err, e2err.Resource, "placing %s into %s", ref, destDir)
		}
		return dst, res.hit, nil
	}
	return res.path, res.hit, nil
}

// ensureCached fetches ref into the local cache if it isn't already there,
// serialized cross-process by the per-entry file lock (§4.4).
func (c *Cache) ensureCached(ctx context.Context, ref locator.Ref, expect *Checksum) (fetchResult, error) {
	unlock, lerr := c.locks.Lock(ctx, ref)
	if lerr != nil {
		return fetchResult{}, e2err.Wrap(lerr, e2err.Resource, "acquiring fetch lock")
	}
	defer unlock()

	rel := c.localPath(ref)
	cachable := c.CacheEnabled(ref.Server)
	hit := false
	if cachable {
		if _, statErr := c.root.Stat(rel); statErr == nil {
			if expect != nil {
				if verr := c.verifyCached(rel, expect); verr != nil {
					return fetchResult{}, verr
				}
			}
			hit = true
		}
	}
	if !hit {
		if err := c.transfer(ctx, ref, rel, expect); err != nil {
			return fetchResult{}, err
		}
	}
	return fetchResult{path: filepath.Join(c.root.Root(), rel), hit: hit}, nil
}

// Checksum is the expected checksum pair to verify a fetched file against.
type Checksum struct {
	SHA1   string
	SHA256 string
}

func (c *Cache) verifyCached(rel string, expect *Checksum) error {
	f, err := c.root.Open(rel)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "opening cached %s", rel)
	}
	defer f.Close()
	return verifyStream(f, expect)
}

func verifyStream(r io.Reader, expect *Checksum) error {
	if expect == nil {
		return nil
	}
	h1 := hashx.New(hashx.SHA1)
	h256 := hashx.New(hashx.SHA256)
	mw := io.MultiWriter(hashWriter{h1}, hashWriter{h256})
	if _, err := io.Copy(mw, r); err != nil {
		return e2err.Wrap(err, e2err.Transport, "hashing content")
	}
	if expect.SHA256 != "" && expect.SHA256 != h256.Sum() {
		return e2err.Newf(e2err.Identity, "checksum mismatch: expected sha256 %s, got %s", expect.SHA256, h256.Sum())
	}
	if expect.SHA1 != "" && expect.SHA1 != h1.Sum() {
		return e2err.Newf(e2err.Identity, "checksum mismatch: expected sha1 %s, got %s", expect.SHA1, h1.Sum())
	}
	return nil
}

type hashWriter struct{ b *hashx.Builder }

func (h hashWriter) Write(p []byte) (int, error) {
	h.b.Bytes(p)
	return len(p), nil
}

// transfer downloads ref to a temp file, verifies it, then atomically
// publishes it into the cache -- partial files never enter the cache
// (§4.4, §8 property 5).
func (c *Cache) transfer(ctx context.Context, ref locator.Ref, rel string, expect *Checksum) error {
	s, ok := c.servers[ref.Server]
	if !ok {
		return e2err.Newf(e2err.Configuration, "unknown server %q", ref.Server)
	}
	su, err := locator.ParseServerURL(s.URL)
	if err != nil {
		return err
	}
	t, err := ForScheme(su.Scheme, c.exec)
	if err != nil {
		return err
	}
	tmpRel := rel + ".part"
	if err := c.root.MkdirAll(filepath.Dir(rel), 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "creating cache dir for %s", ref)
	}
	w, err := c.root.Create(tmpRel)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "creating temp cache entry for %s", ref)
	}
	// Hash while writing to disk rather than buffering the content in
	// memory for a second pass.
	h1 := hashx.New(hashx.SHA1)
	h256 := hashx.New(hashx.SHA256)
	var dest io.Writer = w
	if expect != nil {
		dest = io.MultiWriter(w, hashWriter{h1}, hashWriter{h256})
	}
	err = t.Fetch(ctx, su, ref.Location, dest)
	closeErr := w.Close()
	if err != nil {
		c.root.Remove(tmpRel)
		return e2err.Wrapf(err, e2err.Transport, "fetching %s", ref)
	}
	if closeErr != nil {
		c.root.Remove(tmpRel)
		return e2err.Wrapf(closeErr, e2err.Resource, "closing temp cache entry for %s", ref)
	}
	if expect != nil {
		if expect.SHA256 != "" && expect.SHA256 != h256.Sum() {
			c.root.Remove(tmpRel)
			return e2err.Newf(e2err.Identity, "checksum mismatch: expected sha256 %s, got %s", expect.SHA256, h256.Sum())
		}
		if expect.SHA1 != "" && expect.SHA1 != h1.Sum() {
			c.root.Remove(tmpRel)
			return e2err.Newf(e2err.Identity, "checksum mismatch: expected sha1 %s, got %s", expect.SHA1, h1.Sum())
		}
	}
	if err := c.root.Rename(tmpRel, rel); err != nil {
		c.root.Remove(tmpRel)
		return e2err.Wrapf(err, e2err.Resource, "publishing cache entry for %s", ref)
	}
	return nil
}

// FetchFilePath fetches ref (if necessary) and returns a local path to it,
// without placing a copy anywhere else.
func (c *Cache) FetchFilePath(ctx context.Context, ref locator.Ref, expect *Checksum) (string, error) {
	path, _, err := c.FetchFile(ctx, ref, expect, "", "")
	return path, err
}

// PushFile pushes the content at localPath to ref, provided writeback is
// enabled for ref.Server.
func (c *Cache) PushFile(ctx context.Context, localPath string, ref locator.Ref) error {
	if !c.WritebackEnabled(ref.Server) {
		return e2err.Newf(e2err.Configuration, "writeback not enabled for server %q", ref.Server)
	}
	s := c.servers[ref.Server]
	su, err := locator.ParseServerURL(s.URL)
	if err != nil {
		return err
	}
	t, err := ForScheme(su.Scheme, c.exec)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "opening %s", localPath)
	}
	defer f.Close()
	if err := t.Push(ctx, su, ref.Location, f); err != nil {
		return e2err.Wrapf(err, e2err.Transport, "pushing %s to %s", localPath, ref)
	}
	// Populate our own cache with what we just pushed, if cachable.
	if c.CacheEnabled(ref.Server) {
		rel := c.localPath(ref)
		if err := c.root.MkdirAll(filepath.Dir(rel), 0o755); err == nil {
			if src, err := os.Open(localPath); err == nil {
				if w, err := c.root.Create(rel); err == nil {
					io.Copy(w, src)
					w.Close()
				}
				src.Close()
			}
		}
	}
	return nil
}

func hardlinkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	os.Remove(dst)
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

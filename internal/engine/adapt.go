// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/locator"
	"github.com/emlix/e2factory/internal/procx"
	"github.com/emlix/e2factory/pkg/buildproc"
	"github.com/emlix/e2factory/pkg/cache"
	"github.com/emlix/e2factory/pkg/chroot"
	"github.com/emlix/e2factory/pkg/model"
	"github.com/emlix/e2factory/pkg/scm"
)

// licenceIDResolver closes over a project's loaded licences to satisfy
// scm.Dependencies.ResolveLicenceID: a source's sourceid mixes in the
// licenceid (not the bare name) of each licence it references (§4.2), so a
// byte change to a licence file changes the sourceid of every source
// referencing it, not just the project-wide projid.
func licenceIDResolver(licences map[string]*model.Licence) func(string) (string, error) {
	return func(name string) (string, error) {
		l, ok := licences[name]
		if !ok {
			return "", e2err.Newf(e2err.Configuration, "unknown licence %q", name)
		}
		return l.ID(), nil
	}
}

// cacheAdapter narrows a *cache.Cache to the buildproc.FileCache shape, the
// only behavioral difference being the three packages each declaring their
// own locally-scoped Checksum type rather than sharing one, to avoid an
// import cycle between pkg/cache and its narrower consumers.
type cacheAdapter struct {
	c *cache.Cache
}

func (a cacheAdapter) FetchFilePath(ctx context.Context, ref locator.Ref, expect *buildproc.Checksum) (string, error) {
	return a.c.FetchFilePath(ctx, ref, toCacheChecksum(expect))
}

func (a cacheAdapter) PushFile(ctx context.Context, localPath string, ref locator.Ref) error {
	return a.c.PushFile(ctx, localPath, ref)
}

func (a cacheAdapter) CacheEnabled(server string) bool {
	return a.c.CacheEnabled(server)
}

var _ buildproc.FileCache = cacheAdapter{}

// scmCacheAdapter is the same narrowing for pkg/scm.FileCache.
type scmCacheAdapter struct {
	c *cache.Cache
}

func (a scmCacheAdapter) FetchFilePath(ctx context.Context, ref locator.Ref, expect *scm.Checksum) (string, error) {
	var cc *cache.Checksum
	if expect != nil {
		cc = &cache.Checksum{SHA1: expect.SHA1, SHA256: expect.SHA256}
	}
	return a.c.FetchFilePath(ctx, ref, cc)
}

var _ scm.FileCache = scmCacheAdapter{}

func toCacheChecksum(expect *buildproc.Checksum) *cache.Checksum {
	if expect == nil {
		return nil
	}
	return &cache.Checksum{SHA1: expect.SHA1, SHA256: expect.SHA256}
}

// execRunner adapts a procx.Executor to scm.CommandRunner: the two
// interfaces describe the same operation with independently-declared
// option structs, again to keep pkg/scm from importing internal/procx
// directly.
type execRunner struct {
	exec procx.Executor
}

func (r execRunner) Run(ctx context.Context, opts scm.RunOptions, name string, args ...string) error {
	return r.exec.Run(ctx, procx.Options{Input: opts.Input, Output: opts.Output, Dir: opts.Dir, Env: opts.Env}, name, args...)
}

func (r execRunner) LookPath(name string) (string, error) {
	return r.exec.LookPath(name)
}

var _ scm.CommandRunner = execRunner{}

// chrootExecAdapter adapts a procx.Executor to chroot.Executor: the
// helper's ExecOptions splits stdout/stderr into two buffers, while
// procx.Options carries one combined output stream, so the adapter fans
// the combined stream into both buffers identically -- this only matters
// for the sudo-backed helper's own diagnostic capture, since the setuid
// and sudo command lines themselves rarely write anything on success.
type chrootExecAdapter struct {
	exec procx.Executor
}

func (a chrootExecAdapter) Run(ctx context.Context, opts chroot.ExecOptions, name string, args ...string) error {
	var out bytes.Buffer
	err := a.exec.Run(ctx, procx.Options{Output: &out}, name, args...)
	if opts.Stdout != nil {
		opts.Stdout.Write(out.Bytes())
	}
	if opts.Stderr != nil && opts.Stderr != opts.Stdout {
		opts.Stderr.Write(out.Bytes())
	}
	return err
}

var _ chroot.Executor = chrootExecAdapter{}

// buildExecutor implements buildproc.BuildExecutor by invoking the build
// driver script inside the chroot via the chroot controller (§4.6 step 9).
type buildExecutor struct {
	ctrl *chroot.Controller
}

func (b buildExecutor) RunBuildScript(ctx context.Context, baseDir string, arch, hostArch model.ChrootArch) error {
	return b.ctrl.Run(ctx, baseDir, []string{"/tmp/e2/script/build-driver"})
}

var _ buildproc.BuildExecutor = buildExecutor{}

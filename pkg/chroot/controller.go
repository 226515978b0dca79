// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package chroot

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/syncx"
)

const sentinelName = "e2factory-chroot"

// checkSentinel refuses to operate on a directory lacking the sentinel file
// (§4.7) -- enforced client-side here for the sudo-backed helper, since
// unlike the setuid binary it has no privileged code path of its own to
// enforce it.
func checkSentinel(baseDir string) error {
	if _, err := os.Stat(filepath.Join(baseDir, sentinelName)); err != nil {
		return e2err.Wrapf(err, e2err.Privileged, "refusing to operate on %s: missing sentinel file", baseDir)
	}
	return nil
}

// instance tracks one locked chroot's lock-release function, so Controller
// can guarantee release on every exit path.
type instance struct {
	mu      sync.Mutex
	baseDir string
	release func()
}

// Controller manages the chroot lifecycle (§4.7): locking a
// per-(result, e2-version) directory, delegating mutating operations to a
// Helper, and guaranteeing teardown release even under concurrent access
// from multiple in-flight result builds (§5 shared-resource rules).
type Controller struct {
	versionBase string // base directory specific to this e2 version
	helper      Helper
	locked      syncx.Map[string, *instance]
}

// NewController creates a Controller rooted at versionBase (so that
// directories from other e2 versions never collide, §4.7) using helper for
// privileged operations.
func NewController(versionBase string, helper Helper) *Controller {
	return &Controller{versionBase: versionBase, helper: helper}
}

// Lock acquires the exclusive lock for result's chroot directory under this
// controller's version base, creating the directory and its lockfile if
// needed. It returns the chroot's base directory and a release function the
// caller must call exactly once (on teardown or on giving up before
// setup_chroot completes).
//
// Acquisition fails immediately if another Lock call in this process (or
// another process holding the same lockfile) already holds it -- the spec
// calls for failure, not blocking wait, when a chroot is already in use
// (§5: "acquisition fails if lock is held").
func (c *Controller) Lock(name string) (baseDir string, release func(), err error) {
	baseDir = filepath.Join(c.versionBase, name)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", nil, e2err.Wrapf(err, e2err.Resource, "chroot %q: creating base directory", name)
	}
	lockPath := filepath.Join(baseDir, ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", nil, e2err.Newf(e2err.Resource, "chroot %q: already locked", name)
		}
		return "", nil, e2err.Wrapf(err, e2err.Resource, "chroot %q: creating lockfile", name)
	}
	f.Close()

	inst := &instance{baseDir: baseDir}
	released := false
	inst.release = func() {
		inst.mu.Lock()
		defer inst.mu.Unlock()
		if released {
			return
		}
		released = true
		os.Remove(lockPath)
		c.locked.Delete(name)
	}
	c.locked.Store(name, inst)
	return baseDir, inst.release, nil
}

// Setup creates the chroot/ subdir and sentinel file, then asks the helper
// to claim ownership (§4.6 step 2).
func (c *Controller) Setup(ctx context.Context, baseDir string) error {
	chrootDir := filepath.Join(baseDir, "chroot")
	if err := os.MkdirAll(chrootDir, 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "creating chroot directory")
	}
	sentinel := filepath.Join(baseDir, sentinelName)
	f, err := os.Create(sentinel)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "writing sentinel file")
	}
	f.Close()
	return c.helper.SetPermissions(ctx, baseDir, "")
}

// InstallGroup extracts one chroot-group tarball into the chroot, in the
// deterministic order the caller iterates groups (§4.6 step 3).
func (c *Controller) InstallGroup(ctx context.Context, baseDir, tarPath string) error {
	tt, err := TarTypeForSuffix(tarPath)
	if err != nil {
		return err
	}
	return c.helper.ExtractTar(ctx, baseDir, tarPath, tt)
}

// FixPermissions chowns a subpath of the chroot (typically /tmp/e2) to
// root:root (§4.6 step 8).
func (c *Controller) FixPermissions(ctx context.Context, baseDir, subpath string) error {
	return c.helper.SetPermissions(ctx, baseDir, subpath)
}

// Run executes argv inside the chroot via the helper (§4.6 step 9).
func (c *Controller) Run(ctx context.Context, baseDir string, argv []string) error {
	return c.helper.Chroot(ctx, baseDir, argv)
}

// Teardown removes the chroot directory (unless the caller's --keep flag
// says otherwise, which is the caller's decision, not this method's) and
// releases the lock (§4.6 step 12).
func (c *Controller) Teardown(ctx context.Context, baseDir string, release func()) error {
	defer release()
	return c.helper.RemoveChroot(ctx, baseDir)
}

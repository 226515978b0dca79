// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package chroot implements the chroot controller (component M): locking
// and lifecycle management of a per-(result, e2-version) chroot directory,
// and the privileged-helper wire protocol every mutating operation on that
// directory goes through.
package chroot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/emlix/e2factory/internal/e2err"
)

// Verb is one of the four operations the privileged helper accepts, one per
// invocation (§4.7).
type Verb string

const (
	VerbChroot         Verb = "chroot_2_3"
	VerbExtractTar     Verb = "extract_tar_2_3"
	VerbSetPermissions Verb = "set_permissions_2_3"
	VerbRemoveChroot   Verb = "remove_chroot_2_3"
)

// TarType selects the compression the helper's extract_tar_2_3 verb
// decompresses with before extracting, keyed by filename suffix (§4.6 step
// 3, §6 wire protocol).
type TarType string

const (
	TarPlain TarType = "tar"
	TarGzip  TarType = "tar.gz"
	TarBzip2 TarType = "tar.bz2"
	TarXz    TarType = "tar.xz"
)

// TarTypeForSuffix detects the tar type from a filename the way
// install_chroot_groups dispatches on suffix (§4.6 step 3).
func TarTypeForSuffix(name string) (TarType, error) {
	switch {
	case hasSuffix(name, ".tar.gz"), hasSuffix(name, ".tgz"):
		return TarGzip, nil
	case hasSuffix(name, ".tar.bz2"), hasSuffix(name, ".tbz2"):
		return TarBzip2, nil
	case hasSuffix(name, ".tar.xz"):
		return TarXz, nil
	case hasSuffix(name, ".tar"):
		return TarPlain, nil
	default:
		return "", e2err.Newf(e2err.Configuration, "unrecognized chroot tarball suffix: %s", name)
	}
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}

// Helper is the uniform interface to the privileged operations the
// controller needs, implemented either by shelling out to a setuid binary
// or to sudo with an equivalent command line -- selected by the engine's
// Options.UseSudoHelper flag (§4.7, SPEC_FULL.md Open-Question resolution).
type Helper interface {
	// Chroot enters baseDir/chroot and runs argv inside it.
	Chroot(ctx context.Context, baseDir string, argv []string) error
	// ExtractTar extracts tarPath (of the given type) into baseDir/chroot.
	ExtractTar(ctx context.Context, baseDir, tarPath string, tt TarType) error
	// SetPermissions chowns baseDir/chroot (or a subpath within it) to
	// root:root.
	SetPermissions(ctx context.Context, baseDir, subpath string) error
	// RemoveChroot recursively removes baseDir/chroot.
	RemoveChroot(ctx context.Context, baseDir string) error
}

// Executor is the process-execution seam the helper implementations shell
// out through (the same seam pkg/scm's drivers use).
type Executor interface {
	Run(ctx context.Context, opts ExecOptions, name string, args ...string) error
}

// ExecOptions mirrors internal/procx.Options.
type ExecOptions struct {
	Stdout, Stderr *bytes.Buffer
}

// setuidHelper dispatches through an external setuid binary, the helper's
// primary wire protocol: one verb per invocation, argv
// [verb, base_dir, extra...] (§6).
type setuidHelper struct {
	exec Executor
	path string // path to the setuid helper binary
}

// NewSetuidHelper returns a Helper backed by the setuid binary at path.
func NewSetuidHelper(exec Executor, path string) Helper {
	return &setuidHelper{exec: exec, path: path}
}

func (h *setuidHelper) invoke(ctx context.Context, args ...string) error {
	var out bytes.Buffer
	if err := h.exec.Run(ctx, ExecOptions{Stdout: &out, Stderr: &out}, h.path, args...); err != nil {
		return e2err.Wrapf(err, e2err.Privileged, "chroot helper %s: %s", args[0], out.String())
	}
	return nil
}

func (h *setuidHelper) Chroot(ctx context.Context, baseDir string, argv []string) error {
	args := append([]string{string(VerbChroot), baseDir}, argv...)
	return h.invoke(ctx, args...)
}

func (h *setuidHelper) ExtractTar(ctx context.Context, baseDir, tarPath string, tt TarType) error {
	return h.invoke(ctx, fmt.Sprintf("%s %s", VerbExtractTar, tt), baseDir, tarPath)
}

func (h *setuidHelper) SetPermissions(ctx context.Context, baseDir, subpath string) error {
	return h.invoke(ctx, string(VerbSetPermissions), baseDir, subpath)
}

func (h *setuidHelper) RemoveChroot(ctx context.Context, baseDir string) error {
	return h.invoke(ctx, string(VerbRemoveChroot), baseDir)
}

// sudoHelper dispatches the equivalent operations through sudo, for sites
// that prefer not to install a setuid binary (§4.7: "Alternatively, the
// controller may invoke sudo with equivalent checks, configured per site").
type sudoHelper struct {
	exec Executor
}

// NewSudoHelper returns a Helper backed by sudo-invoked chroot/tar/chown/rm.
func NewSudoHelper(exec Executor) Helper {
	return &sudoHelper{exec: exec}
}

func (h *sudoHelper) run(ctx context.Context, baseDir string, name string, args ...string) error {
	if err := checkSentinel(baseDir); err != nil {
		return err
	}
	full := append([]string{name}, args...)
	var out bytes.Buffer
	if err := h.exec.Run(ctx, ExecOptions{Stdout: &out, Stderr: &out}, "sudo", full...); err != nil {
		return e2err.Wrapf(err, e2err.Privileged, "sudo %s: %s", name, out.String())
	}
	return nil
}

func (h *sudoHelper) Chroot(ctx context.Context, baseDir string, argv []string) error {
	args := append([]string{baseDir + "/chroot"}, argv...)
	return h.run(ctx, baseDir, "chroot", args...)
}

func (h *sudoHelper) ExtractTar(ctx context.Context, baseDir, tarPath string, tt TarType) error {
	flag := map[TarType]string{TarPlain: "-xf", TarGzip: "-xzf", TarBzip2: "-xjf", TarXz: "-xJf"}[tt]
	return h.run(ctx, baseDir, "tar", flag, tarPath, "-C", baseDir+"/chroot")
}

func (h *sudoHelper) SetPermissions(ctx context.Context, baseDir, subpath string) error {
	target := baseDir + "/chroot"
	if subpath != "" {
		target = target + "/" + subpath
	}
	return h.run(ctx, baseDir, "chown", "-R", "root:root", target)
}

func (h *sudoHelper) RemoveChroot(ctx context.Context, baseDir string) error {
	return h.run(ctx, baseDir, "rm", "-rf", baseDir+"/chroot")
}

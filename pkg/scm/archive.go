// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package scm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/emlix/e2factory/internal/procx"
)

// unpackArchive extracts local into destDir, dispatching on the filename
// suffix the same way the chroot controller does for chroot-group tarballs
// (§4.6 step 3): real tar/unzip binaries are invoked via procx rather than
// reimplementing every compression format in Go, matching how the rest of
// the engine shells out to real external tools (rsync, scp, docker-style
// build drivers).
func unpackArchive(local, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	exec := procx.NewReal()
	ctx := context.Background()
	lower := strings.ToLower(local)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return exec.Run(ctx, procx.Options{}, "unzip", "-o", "-q", local, "-d", destDir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return exec.Run(ctx, procx.Options{}, "tar", "-xzf", local, "-C", destDir)
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return exec.Run(ctx, procx.Options{}, "tar", "-xjf", local, "-C", destDir)
	case strings.HasSuffix(lower, ".tar.xz"):
		return exec.Run(ctx, procx.Options{}, "tar", "-xJf", local, "-C", destDir)
	case strings.HasSuffix(lower, ".tar"):
		return exec.Run(ctx, procx.Options{}, "tar", "-xf", local, "-C", destDir)
	default:
		return fmt.Errorf("unpackArchive: unrecognized archive suffix for %s", local)
	}
}

// applyPatch applies local (a patch file) against destDir with -p<strip>,
// shelling out to the patch(1) utility.
func applyPatch(local, destDir string, strip int) error {
	exec := procx.NewReal()
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	return exec.Run(context.Background(), procx.Options{
		Input: f,
		Dir:   destDir,
	}, "patch", fmt.Sprintf("-p%d", strip))
}

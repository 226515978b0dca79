// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package scm

import (
	"context"
	"io"

	"github.com/emlix/e2factory/internal/locator"
)

// FileCache is the subset of pkg/cache.Cache the files driver needs to
// fetch a file reference. Declared locally so this package depends only on
// the shape it uses, not on the cache package's full surface.
type FileCache interface {
	FetchFilePath(ctx context.Context, ref locator.Ref, expect *Checksum) (string, error)
}

// Checksum mirrors pkg/cache.Checksum; kept as a local type to avoid an
// import cycle (pkg/cache never needs to know about scm).
type Checksum struct {
	SHA1   string
	SHA256 string
}

// CommandRunner is the subset of internal/procx.Executor the SCM drivers
// need to shell out to git/svn/cvs binaries.
type CommandRunner interface {
	Run(ctx context.Context, opts RunOptions, name string, args ...string) error
	LookPath(name string) (string, error)
}

// RunOptions mirrors internal/procx.Options.
type RunOptions struct {
	Input  io.Reader
	Output io.Writer
	Dir    string
	Env    []string
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package scm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/internal/locator"
	"github.com/emlix/e2factory/pkg/fileref"
	"github.com/emlix/e2factory/pkg/model"
)

// RegisterFiles installs the files-source driver factory.
func RegisterFiles(r *Registry, deps Dependencies) {
	r.Register(model.SourceFiles, func(src *model.Source, workDir string) (Driver, error) {
		return &filesDriver{src: src, workDir: workDir, cache: deps.Cache, deps: deps}, nil
	})
}

// filesDriver implements the "files" source type (§4.5): place each
// referenced file via unpack/copy/patch.
type filesDriver struct {
	src     *model.Source
	workDir string
	cache   FileCache
	deps    Dependencies
}

var _ Driver = (*filesDriver)(nil)

// byteSource adapts a FileCache (and the in-project working directory) to
// fileref.ByteSource, so fileref.ID/Verify can be reused unchanged here.
type byteSource struct {
	cache   FileCache
	workDir string
}

func (s byteSource) Open(ref locator.Ref) (io.ReadCloser, error) {
	if ref.Server == locator.InProjectServer {
		return os.Open(filepath.Join(s.workDir, ref.Location))
	}
	path, err := s.cache.FetchFilePath(context.Background(), ref, nil)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (d *filesDriver) SourceID(ctx context.Context, set model.SourceSet) (string, error) {
	if set == model.SetWorkingCopy {
		return model.WorkingCopySourceID, nil
	}
	b := hashx.New(hashx.SHA256).Field(d.src.Name).Field(string(d.src.Type)).Field(d.src.Env.ID())
	for _, l := range d.src.Licences {
		id, err := d.deps.ResolveLicenceID(l)
		if err != nil {
			return "", e2err.Wrapf(err, e2err.Identity, "source %q: licence %q", d.src.Name, l)
		}
		b.Field(id)
	}
	src := byteSource{cache: d.cache, workDir: d.workDir}
	for _, f := range d.src.Files.Files {
		id, err := fileref.ID(f, src)
		if err != nil {
			return "", e2err.Wrapf(err, e2err.Identity, "source %q: file %s", d.src.Name, f.Location)
		}
		flags := "copy"
		switch {
		case f.Unpack:
			flags = "unpack"
		case f.Patch:
			flags = fmt.Sprintf("patch:-p%d", f.PatchStrip)
		}
		b.Field(id).Field(f.Location).Field(f.Server).Field(flags)
	}
	return b.Sum(), nil
}

func (d *filesDriver) Display() []string {
	lines := []string{fmt.Sprintf("source %s (files)", d.src.Name)}
	for _, f := range d.src.Files.Files {
		lines = append(lines, fmt.Sprintf("  %s:%s", f.Server, f.Location))
	}
	return lines
}

// FetchSource is a no-op for files sources: there is nothing to clone, the
// content lives on the declared server and is materialized at build time.
func (d *filesDriver) FetchSource(ctx context.Context) error { return nil }

// UpdateSource is likewise a no-op; files sources have no "remote branch"
// to advance.
func (d *filesDriver) UpdateSource(ctx context.Context) error { return nil }

// PrepareSource places each file into buildPath per its action (§4.5).
func (d *filesDriver) PrepareSource(ctx context.Context, set model.SourceSet, buildPath string) error {
	for i, f := range d.src.Files.Files {
		var local string
		if f.Server == locator.InProjectServer {
			local = filepath.Join(d.workDir, f.Location)
		} else {
			path, err := d.cache.FetchFilePath(ctx, f.Ref(), &Checksum{SHA1: f.SHA1, SHA256: f.SHA256})
			if err != nil {
				return e2err.Wrapf(err, e2err.Transport, "source %q: fetching file %d", d.src.Name, i)
			}
			local = path
		}
		switch {
		case f.Unpack:
			if err := unpackArchive(local, buildPath); err != nil {
				return e2err.Wrapf(err, e2err.Build, "source %q: unpacking %s", d.src.Name, f.Location)
			}
		case f.Copy:
			if err := copyFileOrDir(local, filepath.Join(buildPath, filepath.Base(f.Location))); err != nil {
				return e2err.Wrapf(err, e2err.Build, "source %q: copying %s", d.src.Name, f.Location)
			}
		case f.Patch:
			if err := applyPatch(local, buildPath, f.PatchStrip); err != nil {
				return e2err.Wrapf(err, e2err.Build, "source %q: applying patch %s", d.src.Name, f.Location)
			}
		}
	}
	return nil
}

func (d *filesDriver) WorkingCopyAvailable() (bool, error) { return false, nil }

func (d *filesDriver) CheckWorkingCopy(ctx context.Context) error { return nil }

func copyFileOrDir(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return copyDir(src, dst)
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

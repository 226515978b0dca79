// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package scm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/pkg/model"
)

// RegisterCVS installs the cvs-source driver factory. CVS support is
// tag-mode only (§9): CVS has no stable global revision number comparable
// to a git commit or svn "Last Changed Rev", so branch mode -- which needs
// a single moving identity to hash into sourceid -- is refused outright
// rather than approximated.
func RegisterCVS(r *Registry, deps Dependencies) {
	r.Register(model.SourceCVS, func(src *model.Source, workDir string) (Driver, error) {
		return &cvsDriver{src: src, workDir: workDir, deps: deps}, nil
	})
}

type cvsDriver struct {
	src     *model.Source
	workDir string
	deps    Dependencies
}

var _ Driver = (*cvsDriver)(nil)

func (d *cvsDriver) requireTagMode(set model.SourceSet) error {
	if set == model.SetBranch {
		return e2err.Newf(e2err.Configuration, "source %q: cvs sources do not support branch mode, only tag and working-copy", d.src.Name)
	}
	return nil
}

func (d *cvsDriver) cvsroot() (string, error) {
	root, err := d.deps.ResolveServer(d.src.SCM.Server)
	if err != nil {
		return "", e2err.Wrapf(err, e2err.Configuration, "source %q: resolving server %q", d.src.Name, d.src.SCM.Server)
	}
	return root, nil
}

func (d *cvsDriver) FetchSource(ctx context.Context) error {
	if avail, _ := d.WorkingCopyAvailable(); avail {
		return nil
	}
	root, err := d.cvsroot()
	if err != nil {
		return err
	}
	parent := filepath.Dir(d.workDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "source %q: creating working directory", d.src.Name)
	}
	var out bytes.Buffer
	args := []string{"-d", root, "checkout", "-d", filepath.Base(d.workDir), d.src.SCM.Location}
	if err := d.deps.Exec.Run(ctx, RunOptions{Dir: parent, Output: &out}, "cvs", args...); err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: cvs checkout", d.src.Name)
	}
	return nil
}

func (d *cvsDriver) UpdateSource(ctx context.Context) error {
	var out bytes.Buffer
	if err := d.deps.Exec.Run(ctx, RunOptions{Dir: d.workDir, Output: &out}, "cvs", "update", "-dP"); err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: cvs update", d.src.Name)
	}
	return nil
}

func (d *cvsDriver) SourceID(ctx context.Context, set model.SourceSet) (string, error) {
	if set == model.SetWorkingCopy {
		return model.WorkingCopySourceID, nil
	}
	if err := d.requireTagMode(set); err != nil {
		return "", err
	}
	b := hashx.New(hashx.SHA256).Field(d.src.Name).Field(string(d.src.Type)).Field(d.src.Env.ID())
	for _, l := range d.src.Licences {
		id, err := d.deps.ResolveLicenceID(l)
		if err != nil {
			return "", e2err.Wrapf(err, e2err.Identity, "source %q: licence %q", d.src.Name, l)
		}
		b.Field(id)
	}
	// CVS has no single repository-wide revision; the tag name itself is the
	// identity, same as the project's CVS backend always assumed.
	b.Field(string(set)).Field(d.src.SCM.Server).Field(d.src.SCM.Location).Field(d.src.SCM.Tag)
	return b.Sum(), nil
}

func (d *cvsDriver) PrepareSource(ctx context.Context, set model.SourceSet, buildPath string) error {
	if err := d.requireTagMode(set); err != nil {
		return err
	}
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "source %q: creating build path", d.src.Name)
	}
	if set == model.SetWorkingCopy {
		return copyWorkingTree(d.workDir, buildPath, false)
	}
	root, err := d.cvsroot()
	if err != nil {
		return err
	}
	parent := filepath.Dir(buildPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "source %q: creating export parent", d.src.Name)
	}
	var out bytes.Buffer
	args := []string{"-d", root, "export", "-r", d.src.SCM.Tag, "-d", filepath.Base(buildPath), d.src.SCM.Location}
	if err := d.deps.Exec.Run(ctx, RunOptions{Dir: parent, Output: &out}, "cvs", args...); err != nil {
		return e2err.Wrapf(err, e2err.Build, "source %q: cvs export tag %s", d.src.Name, d.src.SCM.Tag)
	}
	return nil
}

func (d *cvsDriver) WorkingCopyAvailable() (bool, error) {
	if _, err := os.Stat(filepath.Join(d.workDir, "CVS")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *cvsDriver) CheckWorkingCopy(ctx context.Context) error {
	var out bytes.Buffer
	if err := d.deps.Exec.Run(ctx, RunOptions{Dir: d.workDir, Output: &out}, "cvs", "-nq", "update"); err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: cvs update dry-run", d.src.Name)
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "M ") || strings.HasPrefix(line, "A ") || strings.HasPrefix(line, "R ") {
			return e2err.Newf(e2err.SCM, "source %q: working copy has local modifications", d.src.Name)
		}
	}
	return nil
}

func (d *cvsDriver) Display() []string {
	return []string{fmt.Sprintf("source %s (cvs) %s:%s tag=%s", d.src.Name, d.src.SCM.Server, d.src.SCM.Location, d.src.SCM.Tag)}
}

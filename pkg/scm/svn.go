// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package scm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/pkg/model"
)

// RegisterSVN installs the svn-source driver factory (§4.5): fetch/update
// shell out to the real svn(1) client, since e2factory has never reimplemented
// the Subversion wire protocol.
func RegisterSVN(r *Registry, deps Dependencies) {
	r.Register(model.SourceSVN, func(src *model.Source, workDir string) (Driver, error) {
		return &svnDriver{src: src, workDir: workDir, deps: deps}, nil
	})
}

type svnDriver struct {
	src     *model.Source
	workDir string
	deps    Dependencies
}

var _ Driver = (*svnDriver)(nil)

func (d *svnDriver) remoteURL() (string, error) {
	base, err := d.deps.ResolveServer(d.src.SCM.Server)
	if err != nil {
		return "", e2err.Wrapf(err, e2err.Configuration, "source %q: resolving server %q", d.src.Name, d.src.SCM.Server)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(d.src.SCM.Location, "/"), nil
}

func (d *svnDriver) run(ctx context.Context, stdout *bytes.Buffer, args ...string) error {
	return d.deps.Exec.Run(ctx, RunOptions{Dir: filepath.Dir(d.workDir), Output: stdout}, "svn", args...)
}

func (d *svnDriver) FetchSource(ctx context.Context) error {
	if avail, _ := d.WorkingCopyAvailable(); avail {
		return nil
	}
	url, err := d.remoteURL()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.workDir), 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "source %q: creating working directory", d.src.Name)
	}
	var out bytes.Buffer
	if err := d.deps.Exec.Run(ctx, RunOptions{Output: &out}, "svn", "checkout", "--quiet", url, d.workDir); err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: svn checkout %s", d.src.Name, url)
	}
	return nil
}

func (d *svnDriver) UpdateSource(ctx context.Context) error {
	var out bytes.Buffer
	if err := d.deps.Exec.Run(ctx, RunOptions{Dir: d.workDir, Output: &out}, "svn", "update", "--quiet"); err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: svn update", d.src.Name)
	}
	return nil
}

// revisionAt returns the Last Changed Rev reported by `svn info`, optionally
// at a revision/tag path, via parsing the plain-text output -- svn has no
// library binding in the pack so the information comes from the CLI.
func (d *svnDriver) revisionAt(ctx context.Context, target string) (string, error) {
	var out bytes.Buffer
	if err := d.deps.Exec.Run(ctx, RunOptions{Dir: d.workDir, Output: &out}, "svn", "info", target); err != nil {
		return "", e2err.Wrapf(err, e2err.SCM, "source %q: svn info %s", d.src.Name, target)
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if rev, ok := strings.CutPrefix(line, "Last Changed Rev: "); ok {
			rev = strings.TrimSpace(rev)
			if _, err := strconv.Atoi(rev); err != nil {
				return "", e2err.Newf(e2err.SCM, "source %q: unparseable revision %q", d.src.Name, rev)
			}
			return rev, nil
		}
	}
	return "", e2err.Newf(e2err.SCM, "source %q: svn info did not report Last Changed Rev", d.src.Name)
}

func (d *svnDriver) SourceID(ctx context.Context, set model.SourceSet) (string, error) {
	if set == model.SetWorkingCopy {
		return model.WorkingCopySourceID, nil
	}
	rev, err := d.revisionAt(ctx, ".")
	if err != nil {
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
	b.Field(string(set)).Field(d.src.SCM.Server).Field(d.src.SCM.Location).Field(rev)
	return b.Sum(), nil
}

func (d *svnDriver) PrepareSource(ctx context.Context, set model.SourceSet, buildPath string) error {
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "source %q: creating build path", d.src.Name)
	}
	if set == model.SetWorkingCopy {
		return copyWorkingTree(d.workDir, buildPath, false)
	}
	var out bytes.Buffer
	url, err := d.remoteURL()
	if err != nil {
		return err
	}
	if err := d.deps.Exec.Run(ctx, RunOptions{Output: &out}, "svn", "export", "--force", "--quiet", url, buildPath); err != nil {
		return e2err.Wrapf(err, e2err.Build, "source %q: svn export", d.src.Name)
	}
	return nil
}

func (d *svnDriver) WorkingCopyAvailable() (bool, error) {
	if _, err := os.Stat(filepath.Join(d.workDir, ".svn")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *svnDriver) CheckWorkingCopy(ctx context.Context) error {
	var out bytes.Buffer
	if err := d.deps.Exec.Run(ctx, RunOptions{Dir: d.workDir, Output: &out}, "svn", "status", "--quiet"); err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: svn status", d.src.Name)
	}
	if strings.TrimSpace(out.String()) != "" {
		return e2err.Newf(e2err.SCM, "source %q: working copy has local modifications", d.src.Name)
	}
	return nil
}

func (d *svnDriver) Display() []string {
	return []string{fmt.Sprintf("source %s (svn) %s:%s", d.src.Name, d.src.SCM.Server, d.src.SCM.Location)}
}

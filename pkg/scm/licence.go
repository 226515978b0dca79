// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package scm

import (
	"context"
	"fmt"
	"sort"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/pkg/model"
)

// RegisterLicence installs the licence-source driver factory (§3): a
// licence source has no content of its own beyond the licence texts its
// referenced results/sources already carry, so its sourceid hashes its own
// name, type, env and licenceids together with the sourceids of the sources
// it lists and the names of the results it lists, and prepare is a no-op -- the actual licence files were already staged when those
// dependent sources/results were built.
func RegisterLicence(r *Registry, deps Dependencies) {
	r.Register(model.SourceLicence, func(src *model.Source, workDir string) (Driver, error) {
		return &licenceDriver{src: src, workDir: workDir, deps: deps}, nil
	})
}

type licenceDriver struct {
	src     *model.Source
	workDir string
	deps    Dependencies
}

var _ Driver = (*licenceDriver)(nil)

func (d *licenceDriver) FetchSource(ctx context.Context) error  { return nil }
func (d *licenceDriver) UpdateSource(ctx context.Context) error { return nil }

func (d *licenceDriver) WorkingCopyAvailable() (bool, error) { return false, nil }

func (d *licenceDriver) CheckWorkingCopy(ctx context.Context) error { return nil }

// PrepareSource is a no-op: licence sources reference other sources' output,
// already materialized by the time those dependencies build.
func (d *licenceDriver) PrepareSource(ctx context.Context, set model.SourceSet, buildPath string) error {
	return nil
}

func (d *licenceDriver) SourceID(ctx context.Context, set model.SourceSet) (string, error) {
	if set == model.SetWorkingCopy {
		return model.WorkingCopySourceID, nil
	}
	if d.deps.ResolveSourceID == nil {
		return "", e2err.Newf(e2err.Configuration, "source %q: licence source requires a sourceid resolver", d.src.Name)
	}
	b := hashx.New(hashx.SHA256).Field(d.src.Name).Field(string(d.src.Type)).Field(d.src.Env.ID())
	for _, l := range d.src.Licences {
		id, err := d.deps.ResolveLicenceID(l)
		if err != nil {
			return "", e2err.Wrapf(err, e2err.Identity, "source %q: licence %q", d.src.Name, l)
		}
		b.Field(id)
	}
	// Sorted so declaration order in the Results/Sources lists never
	// perturbs the hash -- the licence source's identity is the *set* of
	// things it covers, not the order they were listed in.
	sources := append([]string(nil), d.src.Licence.Sources...)
	sort.Strings(sources)
	for _, name := range sources {
		id, err := d.deps.ResolveSourceID(ctx, name, set)
		if err != nil {
			return "", e2err.Wrapf(err, e2err.Identity, "source %q: resolving sourceid of %q", d.src.Name, name)
		}
		b.Field("source").Field(name).Field(id)
	}
	results := append([]string(nil), d.src.Licence.Results...)
	sort.Strings(results)
	for _, name := range results {
		b.Field("result").Field(name)
	}
	return b.Sum(), nil
}

func (d *licenceDriver) Display() []string {
	return []string{fmt.Sprintf("source %s (licence) sources=%v results=%v", d.src.Name, d.src.Licence.Sources, d.src.Licence.Results)}
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"sort"
	"strings"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/pkg/envx"
	"github.com/emlix/e2factory/pkg/fileref"
)

// ResultType discriminates result variants (§3). collect_project is
// supported as a registered plugin type (§1 scope note) but its Makefile
// emission is not respecified here; the type tag is retained so the
// dependency graph and registry can recognize it.
type ResultType string

const (
	ResultDefault        ResultType = "result"
	ResultCollectProject ResultType = "collect_project"
)

// Result is a build target: a composition of chroot groups, dependencies,
// sources, environment and a build script (§3).
type Result struct {
	Name        string
	Type        ResultType
	Chroot      []string // chroot group names, pre-dedup/augmented
	Depends     []string // result names, declaration order
	Sources     []string // source names, declaration order
	Env         *envx.Env
	BuildScript fileref.File // the script file reference, type files-like
}

// Validate checks §3 structural invariants for a result in isolation
// (cross-result checks like acyclicity belong to pkg/graph).
func (r *Result) Validate(groups map[string]*ChrootGroup, sources map[string]*Source) error {
	if r.Name == "" {
		return e2err.New(e2err.Configuration, "result: name is required")
	}
	for _, g := range r.Chroot {
		if _, ok := groups[g]; !ok {
			return e2err.Newf(e2err.Configuration, "result %q: references unknown chroot group %q", r.Name, g)
		}
	}
	for _, s := range r.Sources {
		if _, ok := sources[s]; !ok {
			return e2err.Newf(e2err.Configuration, "result %q: references unknown source %q", r.Name, s)
		}
	}
	switch r.Type {
	case ResultDefault, ResultCollectProject:
	default:
		return e2err.Newf(e2err.Configuration, "result %q: unknown type %q", r.Name, r.Type)
	}
	return nil
}

// AugmentChroot returns r.Chroot unioned with the project's default_groups,
// deduplicated and sorted, as §3 specifies ("augmented with project
// default_groups and deduplicated").
func AugmentChroot(resultGroups, defaultGroups []string) []string {
	set := map[string]struct{}{}
	for _, g := range resultGroups {
		set[g] = struct{}{}
	}
	for _, g := range defaultGroups {
		set[g] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// BuildIDInputs bundles the already-resolved identities a buildid is
// computed from, since this package has no access to live SCM state or the
// scheduler's chosen build mode.
type BuildIDInputs struct {
	ProjectID    string
	MergedEnvID  string
	ChrootGroups []*ChrootGroup // in sorted-name order
	ScriptFileID string
	SourceIDs    []string // one per r.Sources entry, same order, already
	                       // computed for the chosen sourceset
	DependBuildIDs []string // one per r.Depends entry, declaration order
}

// ID computes buildid per §4.2: result-name, type, projid, envid(merged
// env), chrootgroupid[i] in sorted group order, fileid of build-script,
// sourceid of each source, buildid of each depend in declaration order.
//
// If any source's sourceid is the working-copy sentinel, the result is
// "never cacheable": the returned id is prefixed "scratch-" (§4.2, §8
// property 8) and WorkingCopy is true.
func (r *Result) ID(in BuildIDInputs) (id string, workingCopy bool) {
	b := hashx.New(hashx.SHA256)
	b.Field(r.Name).Field(string(r.Type)).Field(in.ProjectID).Field(in.MergedEnvID)
	for _, g := range in.ChrootGroups {
		b.Field(g.ID())
	}
	b.Field(in.ScriptFileID)
	for _, sid := range in.SourceIDs {
		b.Field(sid)
		if sid == "working-copy" || strings.HasPrefix(sid, "scratch-") {
			workingCopy = true
		}
	}
	for _, did := range in.DependBuildIDs {
		b.Field(did)
		if strings.HasPrefix(did, "scratch-") {
			workingCopy = true
		}
	}
	sum := b.Sum()
	if workingCopy {
		return "scratch-" + sum, true
	}
	return sum, false
}

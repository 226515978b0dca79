// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the plugin loader (component I) for
// result-type plugins: a static, dependency-ordered registry of named
// extensions that may each contribute extra build-pipeline steps (e.g.
// collect_project inserting build_collect_project before the build step,
// §4.6) and participate in an init/exit lifecycle around a build run.
//
// SCM-type plugins use the analogous static registry in pkg/scm.Registry;
// this package covers the other plugin axis the spec names, result types.
package registry

import (
	"context"
	"sort"

	"github.com/emlix/e2factory/internal/e2err"
)

// StepInsertion names where in the canonical build pipeline (§4.6) a
// plugin-contributed step is inserted, relative to one of the fixed steps.
type StepInsertion struct {
	Name       string // the inserted step's name, e.g. "build_collect_project"
	BeforeStep string // canonical step name this step runs immediately before
	Run        func(ctx context.Context, env StepEnv) error
}

// StepEnv is the narrow state a plugin step needs from the build pipeline;
// defined here (rather than importing pkg/buildproc) to avoid a cycle,
// since pkg/buildproc is itself a consumer of this registry.
type StepEnv struct {
	BaseDir    string // the chroot's base directory for this build
	ResultName string
}

// Plugin is a result-type extension: a name, the other plugin names it must
// initialize after, and the pipeline steps and lifecycle hooks it
// contributes.
type Plugin struct {
	Name      string
	DependsOn []string
	Init      func(ctx context.Context) error
	Exit      func(ctx context.Context) error
	Steps     []StepInsertion
}

// Registry is the static, dependency-ordered set of installed result-type
// plugins.
type Registry struct {
	plugins map[string]*Plugin
	order   []string // registration order, for iteration determinism before sort
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: map[string]*Plugin{}}
}

// Register installs a plugin. Registering the same name twice panics, the
// same fail-fast contract pkg/scm.Registry uses for its static registration.
func (r *Registry) Register(p *Plugin) {
	if _, exists := r.plugins[p.Name]; exists {
		panic("registry: duplicate plugin registration for " + p.Name)
	}
	r.plugins[p.Name] = p
	r.order = append(r.order, p.Name)
}

// InitOrder returns the registered plugin names in dependency order
// (depended-on plugins first), stable tie-break alphabetically, the same
// shape pkg/graph.topoSort uses for results.
func (r *Registry) InitOrder() ([]string, error) {
	names := append([]string(nil), r.order...)
	sort.Strings(names)

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := map[string]int{}
	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return e2err.Newf(e2err.Configuration, "plugin dependency cycle at %q", name)
		}
		p, ok := r.plugins[name]
		if !ok {
			return e2err.Newf(e2err.Configuration, "unregistered plugin %q is named as a dependency", name)
		}
		state[name] = visiting
		deps := append([]string(nil), p.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// InitAll runs every plugin's Init hook in dependency order. If any Init
// fails, already-initialized plugins are exited in reverse order before the
// error is returned, so a partial startup never leaks a half-initialized
// plugin set.
func (r *Registry) InitAll(ctx context.Context) error {
	order, err := r.InitOrder()
	if err != nil {
		return err
	}
	var initialized []string
	for _, name := range order {
		p := r.plugins[name]
		if p.Init == nil {
			initialized = append(initialized, name)
			continue
		}
		if err := p.Init(ctx); err != nil {
			r.exitInReverse(ctx, initialized)
			return e2err.Wrapf(err, e2err.Configuration, "initializing plugin %q", name)
		}
		initialized = append(initialized, name)
	}
	return nil
}

// ExitAll runs every registered plugin's Exit hook in reverse dependency
// order (dependents torn down before their dependencies).
func (r *Registry) ExitAll(ctx context.Context) {
	order, err := r.InitOrder()
	if err != nil {
		return
	}
	r.exitInReverse(ctx, order)
}

func (r *Registry) exitInReverse(ctx context.Context, names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		p := r.plugins[names[i]]
		if p.Exit != nil {
			p.Exit(ctx)
		}
	}
}

// StepsBefore returns every registered plugin's step insertions targeting
// canonicalStep, in plugin-registration order, the list pkg/buildproc
// splices in immediately before running that canonical step.
func (r *Registry) StepsBefore(canonicalStep string) []StepInsertion {
	var out []StepInsertion
	for _, name := range r.order {
		for _, s := range r.plugins[name].Steps {
			if s.BeforeStep == canonicalStep {
				out = append(out, s)
			}
		}
	}
	return out
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package scm defines the uniform driver interface every source type
// implements (§4.5) and the plugin registry (component I) SCM drivers
// register into.
package scm

import (
	"context"

	"github.com/emlix/e2factory/pkg/model"
)

// Driver is the uniform interface every source class implements (§4.5).
type Driver interface {
	// SourceID computes the sourceid for the given sourceset, or an error
	// if the type cannot support it (e.g. cvs branch mode, §9).
	SourceID(ctx context.Context, set model.SourceSet) (string, error)
	// Display returns human-readable description lines, for ls-project.
	Display() []string
	// FetchSource clones or downloads the source for the first time.
	FetchSource(ctx context.Context) error
	// UpdateSource fetches remote updates; idempotent (§8 property 10).
	UpdateSource(ctx context.Context) error
	// PrepareSource materializes the chosen sourceset into buildPath.
	PrepareSource(ctx context.Context, set model.SourceSet, buildPath string) error
	// WorkingCopyAvailable reports whether a local working copy exists.
	WorkingCopyAvailable() (bool, error)
	// CheckWorkingCopy reports whether the local working copy matches what
	// the configuration declares (no uncommitted drift from the tracked
	// ref), or an SCM error describing the divergence.
	CheckWorkingCopy(ctx context.Context) error
}

// Factory constructs a Driver for one source, given its model and the
// project-root working directory the source's state lives under
// (in/<name>).
type Factory func(src *model.Source, workDir string) (Driver, error)

// Registry is the static registry SCM drivers install into (component I).
// Unlike a dynamic plugin loader, registration here is an explicit call to
// Register (Default makes these calls for the in-tree drivers), mirroring
// the "plugin system -> static registry" design note in §9: the set of
// available SCM types is fixed per binary, and Types reports them in the
// order Register was called.
type Registry struct {
	factories map[model.SourceType]Factory
	order     []model.SourceType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[model.SourceType]Factory{}}
}

// Register installs a driver factory for a source type. Registering the
// same type twice is a programming error and panics, matching the
// teacher's approach of failing fast on conflicting static registrations.
func (r *Registry) Register(t model.SourceType, f Factory) {
	if _, exists := r.factories[t]; exists {
		panic("scm: duplicate registration for type " + string(t))
	}
	r.factories[t] = f
	r.order = append(r.order, t)
}

// Types returns the registered source types in registration order.
func (r *Registry) Types() []model.SourceType {
	out := make([]model.SourceType, len(r.order))
	copy(out, r.order)
	return out
}

// New constructs a Driver for src using the registered factory for its type.
func (r *Registry) New(src *model.Source, workDir string) (Driver, error) {
	f, ok := r.factories[src.Type]
	if !ok {
		return nil, &UnsupportedTypeError{Type: src.Type}
	}
	return f(src, workDir)
}

// UnsupportedTypeError indicates no driver is registered for a source type.
type UnsupportedTypeError struct {
	Type model.SourceType
}

func (e *UnsupportedTypeError) Error() string {
	return "scm: no driver registered for source type " + string(e.Type)
}

// Default returns a Registry with all in-tree drivers registered, the
// composition a normal e2 binary links in.
func Default(deps Dependencies) *Registry {
	r := NewRegistry()
	RegisterFiles(r, deps)
	RegisterGit(r, deps)
	RegisterGitRepo(r, deps)
	RegisterSVN(r, deps)
	RegisterCVS(r, deps)
	RegisterLicence(r, deps)
	return r
}

// Dependencies bundles the shared collaborators every driver needs:
// content cache for fetching files-type sources, a process executor for
// shelling out to git/svn/cvs binaries, a server-name resolver for SCM
// sources whose "server" names a remote declared in site configuration, and
// a sibling-sourceid resolver the licence driver uses to hash transitive
// dependencies.
type Dependencies struct {
	Cache           FileCache
	Exec            CommandRunner
	ResolveServer   func(name string) (string, error)
	CheckRemoteTag  bool
	ResolveSourceID func(ctx context.Context, sourceName string, set model.SourceSet) (string, error)
	// ResolveLicenceID maps a licence name referenced by a source to its
	// licenceid (§4.2), so sourceid mixes in the licence's content hash
	// rather than its bare name.
	ResolveLicenceID func(licenceName string) (string, error)
}

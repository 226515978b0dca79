// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package model holds the engine's typed, immutable configuration objects
// (component H): Project, Licence, ChrootGroup, Source, and Result, plus
// their derived identities (projid, licenceid, chrootgroupid, buildid).
// sourceid is defined here as a per-type payload contract but actually
// computed by pkg/scm, since it depends on live SCM state (resolved
// commits, revision numbers) that this package has no access to.
package model

import (
	"sort"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/pkg/envx"
	"github.com/emlix/e2factory/pkg/fileref"
)

// ChrootArch is the project's target chroot architecture.
type ChrootArch string

const (
	ArchX86_32 ChrootArch = "x86_32"
	ArchX86_64 ChrootArch = "x86_64"
)

// Project is the immutable, singleton project descriptor (§3).
type Project struct {
	Name            string
	ReleaseID       string
	ChrootArch      ChrootArch
	DefaultResults  []string
	DeployResults   []string
	ChecksumKinds   fileref.ChecksumKinds
	DefaultGroups   []string // chroot group names included in every result
	GlobalEnv       *envx.Env
	Licences        map[string]*Licence
	ChrootGroups    map[string]*ChrootGroup
}

// Validate checks project-level invariants.
func (p *Project) Validate() error {
	if p.Name == "" {
		return e2err.New(e2err.Configuration, "project: name is required")
	}
	if p.ChrootArch != ArchX86_32 && p.ChrootArch != ArchX86_64 {
		return e2err.Newf(e2err.Configuration, "project: invalid chroot_arch %q", p.ChrootArch)
	}
	if !p.ChecksumKinds.SHA1 && !p.ChecksumKinds.SHA256 {
		return e2err.New(e2err.Configuration, "project: at least one checksum kind must be enabled")
	}
	for _, g := range p.DefaultGroups {
		if _, ok := p.ChrootGroups[g]; !ok {
			return e2err.Newf(e2err.Configuration, "project: default_groups references unknown chroot group %q", g)
		}
	}
	return nil
}

// ID computes projid per §4.2: project.name, release_id, chroot_arch,
// default-result list in order, enabled checksum kinds, envid of the
// global env, each chrootgroupid in default_groups order, each licenceid
// in name order.
func (p *Project) ID() string {
	b := hashx.New(hashx.SHA256)
	b.Field(p.Name).Field(p.ReleaseID).Field(string(p.ChrootArch))
	for _, r := range p.DefaultResults {
		b.Field(r)
	}
	b.Field(checksumKindsTag(p.ChecksumKinds))
	b.Field(p.GlobalEnv.ID())
	for _, g := range p.DefaultGroups {
		b.Field(p.ChrootGroups[g].ID())
	}
	names := make([]string, 0, len(p.Licences))
	for n := range p.Licences {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		b.Field(p.Licences[n].ID())
	}
	return b.Sum()
}

func checksumKindsTag(k fileref.ChecksumKinds) string {
	switch {
	case k.SHA1 && k.SHA256:
		return "sha1+sha256"
	case k.SHA256:
		return "sha256"
	case k.SHA1:
		return "sha1"
	default:
		return ""
	}
}

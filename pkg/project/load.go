// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package project assembles the typed object graph (component H) from the
// on-disk project tree, using the sandboxed config evaluator (component D)
// to parse each declaration file. This is the "D produces raw dictionaries
// -> H instantiates typed objects" step from the §2 data-flow summary.
//
// Layout mirrors §6's persisted state layout: proj/config declares the
// project singleton, proj/env is the global environment file, proj/chroot
// and proj/licences hold one subdirectory per named chroot group/licence
// (each with its own config file, the same directory-equals-name
// convention src/ and res/ use for sources and results), and proj/init
// holds plain files copied into every build's /tmp/e2/init.
package project

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emlix/e2factory/internal/config"
	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/pkg/envx"
	"github.com/emlix/e2factory/pkg/fileref"
	"github.com/emlix/e2factory/pkg/model"
)

// Loaded bundles every object the engine constructs from a project tree,
// the shape pkg/graph and pkg/buildproc consume.
type Loaded struct {
	Root         string
	Project      *model.Project
	Sources      map[string]*model.Source
	Results      map[string]*model.Result
	ChrootGroups map[string]*model.ChrootGroup
	Licences     map[string]*model.Licence
	InitFiles    []string // absolute paths under proj/init
}

// Load reads and validates the entire project tree rooted at root.
func Load(root string) (*Loaded, error) {
	l := &Loaded{
		Root:         root,
		Sources:      map[string]*model.Source{},
		Results:      map[string]*model.Result{},
		ChrootGroups: map[string]*model.ChrootGroup{},
		Licences:     map[string]*model.Licence{},
	}

	licences, err := loadLicences(root)
	if err != nil {
		return nil, err
	}
	l.Licences = licences

	groups, err := loadChrootGroups(root)
	if err != nil {
		return nil, err
	}
	l.ChrootGroups = groups

	proj, err := loadProjectFile(root, groups)
	if err != nil {
		return nil, err
	}
	proj.Licences = licences
	l.Project = proj

	sources, err := loadSources(root, licences, proj.ChecksumKinds)
	if err != nil {
		return nil, err
	}
	l.Sources = sources

	results, err := loadResults(root, groups, sources, proj.DefaultGroups)
	if err != nil {
		return nil, err
	}
	l.Results = results

	init, err := listPlainFiles(filepath.Join(root, "proj", "init"))
	if err != nil {
		return nil, err
	}
	l.InitFiles = init

	if err := proj.Validate(); err != nil {
		return nil, err
	}
	for name, s := range sources {
		if err := s.Validate(licences, proj.ChecksumKinds); err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "source %q", name)
		}
	}
	for name, r := range results {
		if err := r.Validate(groups, sources); err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "result %q", name)
		}
	}
	return l, nil
}

// loadProjectFile parses proj/config (e2project) and proj/env (the global
// environment overlay).
func loadProjectFile(root string, groups map[string]*model.ChrootGroup) (*model.Project, error) {
	loaded, err := config.LoadFile(filepath.Join(root, "proj", "config"))
	if err != nil {
		return nil, err
	}
	config.LogWarnings(loaded.Warnings)
	if loaded.Builder != "e2project" {
		return nil, e2err.At(e2err.Newf(e2err.Configuration, "expected e2project{}, found %s{}", loaded.Builder),
			e2err.Location{File: filepath.Join(root, "proj", "config")})
	}
	d := loaded.Arg.Dict
	if d == nil {
		return nil, e2err.New(e2err.Configuration, "proj/config: e2project{} requires a dict argument")
	}
	name, err := d.GetString("name")
	if err != nil {
		return nil, err
	}
	releaseID, err := d.GetString("release_id")
	if err != nil {
		return nil, err
	}
	archStr, err := d.GetString("chroot_arch")
	if err != nil {
		return nil, err
	}
	defaultResults, err := d.GetStringList("default_results")
	if err != nil {
		return nil, err
	}
	deployResults, err := d.GetStringList("deploy_results")
	if err != nil {
		return nil, err
	}
	defaultGroups, err := d.GetStringList("default_groups")
	if err != nil {
		return nil, err
	}
	kinds, err := parseChecksumKinds(d)
	if err != nil {
		return nil, err
	}
	globalEnv, err := globalEnvFromFile(root)
	if err != nil {
		return nil, err
	}
	return &model.Project{
		Name:           name,
		ReleaseID:      releaseID,
		ChrootArch:     model.ChrootArch(archStr),
		DefaultResults: defaultResults,
		DeployResults:  deployResults,
		ChecksumKinds:  kinds,
		DefaultGroups:  defaultGroups,
		GlobalEnv:      globalEnv,
		Licences:       nil, // attached by caller once licences are loaded
		ChrootGroups:   groups,
	}, nil
}

func parseChecksumKinds(d *config.Dict) (fileref.ChecksumKinds, error) {
	kinds, err := d.GetStringList("checksums")
	if err != nil {
		return fileref.ChecksumKinds{}, err
	}
	var out fileref.ChecksumKinds
	for _, k := range kinds {
		switch k {
		case "sha1":
			out.SHA1 = true
		case "sha256":
			out.SHA256 = true
		default:
			return out, e2err.Newf(e2err.Configuration, "proj/config: unknown checksum kind %q", k)
		}
	}
	if !out.SHA1 && !out.SHA256 {
		// Default to sha256-only if unspecified, rather than rejecting an
		// otherwise valid project outright.
		out.SHA256 = true
	}
	return out, nil
}

func globalEnvFromFile(root string) (*envx.Env, error) {
	path := filepath.Join(root, "proj", "env")
	if _, err := os.Stat(path); err != nil {
		return envx.New(), nil
	}
	dict, warnings, err := config.LoadEnv(root, "proj/env")
	if err != nil {
		return nil, err
	}
	config.LogWarnings(warnings)
	return envFromDict(dict)
}

func envFromDict(d *config.Dict) (*envx.Env, error) {
	e := envx.New()
	if d == nil {
		return e, nil
	}
	for _, k := range d.Keys {
		v, _ := d.Get(k)
		if v.Kind != config.KindString {
			return nil, e2err.Newf(e2err.Configuration, "env key %q must be a string value", k)
		}
		e.Set(k, v.Str)
	}
	return e, nil
}

// resolveEnv interprets a source/result's "env" dict field: either an
// inline env{} dict or a "relative/path" string naming a file to include,
// per §4.1's file-inclusion rule extended to per-entity env overlays.
func resolveEnv(root string, d *config.Dict) (*envx.Env, error) {
	v, ok := d.Get("env")
	if !ok {
		return envx.New(), nil
	}
	switch v.Kind {
	case config.KindDict:
		return envFromDict(v.Dict)
	case config.KindString:
		dict, warnings, err := config.LoadEnv(root, v.Str)
		if err != nil {
			return nil, err
		}
		config.LogWarnings(warnings)
		return envFromDict(dict)
	default:
		return nil, e2err.New(e2err.Configuration, "env field must be a dict or a string path")
	}
}

// dottedName converts a directory path (relative to a namespace root like
// src/ or res/) into the dot-separated name §3 specifies, e.g.
// "foo/bar" -> "foo.bar".
func dottedName(rel string) string {
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}

// listConfigDirs finds every directory under base containing a "config"
// file, returning their paths relative to base, sorted.
func listConfigDirs(base string) ([]string, error) {
	var out []string
	if _, err := os.Stat(base); err != nil {
		return nil, nil
	}
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.Name() != "config" {
			return nil
		}
		dir := filepath.Dir(path)
		rel, rerr := filepath.Rel(base, dir)
		if rerr != nil {
			return rerr
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, e2err.Wrapf(err, e2err.Resource, "walking %s", base)
	}
	sort.Strings(out)
	return out, nil
}

func listPlainFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, nil
	}
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, e2err.Wrapf(err, e2err.Resource, "walking %s", dir)
	}
	sort.Strings(out)
	return out, nil
}

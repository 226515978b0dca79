// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"path/filepath"

	"github.com/emlix/e2factory/internal/config"
	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/pkg/fileref"
	"github.com/emlix/e2factory/pkg/model"
)

// parseFileRef builds a fileref.File from one entry of a "files" list, the
// dict shape shared by e2chroot, e2licence, and the files-source entries
// of e2source (§3: server, location, sha1?, sha256?, hashupdate?, plus
// files-source's placement action).
func parseFileRef(v config.Value, requireAction bool) (fileref.File, error) {
	if v.Kind != config.KindDict {
		return fileref.File{}, e2err.New(e2err.Configuration, "file entry must be a dict")
	}
	d := v.Dict
	server, err := d.GetString("server")
	if err != nil {
		return fileref.File{}, err
	}
	location, err := d.GetString("location")
	if err != nil {
		return fileref.File{}, err
	}
	f := fileref.File{
		Server:     server,
		Location:   location,
		SHA1:       d.GetStringOr("sha1", ""),
		SHA256:     d.GetStringOr("sha256", ""),
		HashUpdate: d.GetBoolOr("hashupdate", false),
	}
	if requireAction {
		f.Unpack = d.GetBoolOr("unpack", false)
		f.Copy = d.GetBoolOr("copy", false)
		f.Patch = d.GetBoolOr("patch", false)
		if f.Patch {
			if n, ok := d.Get("patch_strip"); ok && n.Kind == config.KindNumber {
				f.PatchStrip = int(n.Num)
			} else {
				f.PatchStrip = 1
			}
		}
	} else {
		// Chroot-group and licence file lists are always whole-archive or
		// whole-text references with no placement choice; Unpack is set so
		// any code path that does consult the flag (diagnostics, display)
		// sees a sensible default.
		f.Unpack = true
	}
	return f, nil
}

func parseFileRefList(v config.Value, ok bool, requireAction bool) ([]fileref.File, error) {
	if !ok {
		return nil, nil
	}
	if v.Kind != config.KindList {
		return nil, e2err.New(e2err.Configuration, "files field must be a list")
	}
	out := make([]fileref.File, 0, len(v.List))
	for _, e := range v.List {
		f, err := parseFileRef(e, requireAction)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func requireDict(loaded *config.Loaded, path string) (*config.Dict, error) {
	if loaded.Arg.Kind != config.KindDict || loaded.Arg.Dict == nil {
		return nil, e2err.At(e2err.Newf(e2err.Configuration, "%s{} requires a dict argument", loaded.Builder), e2err.Location{File: path})
	}
	return loaded.Arg.Dict, nil
}

func loadLicences(root string) (map[string]*model.Licence, error) {
	base := filepath.Join(root, "proj", "licences")
	dirs, err := listConfigDirs(base)
	if err != nil {
		return nil, err
	}
	out := map[string]*model.Licence{}
	for _, rel := range dirs {
		path := filepath.Join(base, rel, "config")
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		config.LogWarnings(loaded.Warnings)
		if loaded.Builder != "e2licence" {
			return nil, e2err.At(e2err.Newf(e2err.Configuration, "expected e2licence{}, found %s{}", loaded.Builder), e2err.Location{File: path})
		}
		d, err := requireDict(loaded, path)
		if err != nil {
			return nil, err
		}
		filesVal, hasFiles := d.Get("files")
		files, err := parseFileRefList(filesVal, hasFiles, false)
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "licence %q", dottedName(rel))
		}
		name := dottedName(rel)
		out[name] = &model.Licence{Name: name, Files: files}
	}
	return out, nil
}

func loadChrootGroups(root string) (map[string]*model.ChrootGroup, error) {
	base := filepath.Join(root, "proj", "chroot")
	dirs, err := listConfigDirs(base)
	if err != nil {
		return nil, err
	}
	out := map[string]*model.ChrootGroup{}
	for _, rel := range dirs {
		path := filepath.Join(base, rel, "config")
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		config.LogWarnings(loaded.Warnings)
		if loaded.Builder != "e2chroot" {
			return nil, e2err.At(e2err.Newf(e2err.Configuration, "expected e2chroot{}, found %s{}", loaded.Builder), e2err.Location{File: path})
		}
		d, err := requireDict(loaded, path)
		if err != nil {
			return nil, err
		}
		filesVal, hasFiles := d.Get("files")
		files, err := parseFileRefList(filesVal, hasFiles, false)
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "chroot group %q", dottedName(rel))
		}
		name := dottedName(rel)
		out[name] = &model.ChrootGroup{
			Name:    name,
			Default: d.GetBoolOr("default", false),
			Files:   files,
		}
	}
	return out, nil
}

func loadSources(root string, licences map[string]*model.Licence, kinds fileref.ChecksumKinds) (map[string]*model.Source, error) {
	base := filepath.Join(root, "src")
	dirs, err := listConfigDirs(base)
	if err != nil {
		return nil, err
	}
	out := map[string]*model.Source{}
	for _, rel := range dirs {
		path := filepath.Join(base, rel, "config")
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		config.LogWarnings(loaded.Warnings)
		if loaded.Builder != "e2source" {
			return nil, e2err.At(e2err.Newf(e2err.Configuration, "expected e2source{}, found %s{}", loaded.Builder), e2err.Location{File: path})
		}
		d, err := requireDict(loaded, path)
		if err != nil {
			return nil, err
		}
		name := dottedName(rel)
		typeStr, err := d.GetString("type")
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "source %q", name)
		}
		licenceNames, err := d.GetStringList("licences")
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "source %q", name)
		}
		env, err := resolveEnv(root, d)
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "source %q", name)
		}
		src := &model.Source{
			Name:     name,
			Type:     model.SourceType(typeStr),
			Env:      env,
			Licences: licenceNames,
		}
		switch src.Type {
		case model.SourceFiles:
			filesVal, hasFiles := d.Get("files")
			files, err := parseFileRefList(filesVal, hasFiles, true)
			if err != nil {
				return nil, e2err.Wrapf(err, e2err.Configuration, "source %q", name)
			}
			src.Files = &model.FilesSpec{Files: files}
		case model.SourceGit, model.SourceGitRepo, model.SourceSVN, model.SourceCVS:
			src.SCM = &model.SCMSpec{
				Server:   d.GetStringOr("server", ""),
				Location: d.GetStringOr("location", ""),
				Branch:   d.GetStringOr("branch", ""),
				Tag:      d.GetStringOr("tag", ""),
				WorkDir:  d.GetStringOr("workdir", name),
			}
		case model.SourceLicence:
			results, err := d.GetStringList("results")
			if err != nil {
				return nil, e2err.Wrapf(err, e2err.Configuration, "source %q", name)
			}
			sources, err := d.GetStringList("sources")
			if err != nil {
				return nil, e2err.Wrapf(err, e2err.Configuration, "source %q", name)
			}
			src.Licence = &model.LicenceSpec{Results: results, Sources: sources}
		default:
			return nil, e2err.Newf(e2err.Configuration, "source %q: unknown type %q", name, typeStr)
		}
		out[name] = src
	}
	return out, nil
}

func loadResults(root string, groups map[string]*model.ChrootGroup, sources map[string]*model.Source, defaultGroups []string) (map[string]*model.Result, error) {
	base := filepath.Join(root, "res")
	dirs, err := listConfigDirs(base)
	if err != nil {
		return nil, err
	}
	out := map[string]*model.Result{}
	for _, rel := range dirs {
		path := filepath.Join(base, rel, "config")
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		config.LogWarnings(loaded.Warnings)
		if loaded.Builder != "e2result" {
			return nil, e2err.At(e2err.Newf(e2err.Configuration, "expected e2result{}, found %s{}", loaded.Builder), e2err.Location{File: path})
		}
		d, err := requireDict(loaded, path)
		if err != nil {
			return nil, err
		}
		name := dottedName(rel)
		typeStr := d.GetStringOr("type", string(model.ResultDefault))
		chrootNames, err := d.GetStringList("chroot")
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "result %q", name)
		}
		depends, err := d.GetStringList("depends")
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "result %q", name)
		}
		srcNames, err := d.GetStringList("sources")
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "result %q", name)
		}
		env, err := resolveEnv(root, d)
		if err != nil {
			return nil, e2err.Wrapf(err, e2err.Configuration, "result %q", name)
		}
		scriptName := d.GetStringOr("build_script", "build-script")
		out[name] = &model.Result{
			Name:    name,
			Type:    model.ResultType(typeStr),
			Chroot:  model.AugmentChroot(chrootNames, defaultGroups),
			Depends: depends,
			Sources: srcNames,
			Env:     env,
			BuildScript: fileref.File{
				Server:   ".",
				Location: filepath.ToSlash(filepath.Join("res", rel, scriptName)),
				Unpack:   true,
			},
		}
	}
	return out, nil
}

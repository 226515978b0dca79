// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log"
	"os"
	"path/filepath"

	"github.com/emlix/e2factory/internal/e2err"
)

// Builders is the whitelist of declarative builder names the sandbox
// exposes (§4.1). Anything else encountered as a top-level call is
// rejected before its argument is even evaluated.
var Builders = map[string]bool{
	"e2project":  true,
	"e2source":   true,
	"e2result":   true,
	"e2chroot":   true,
	"e2licence":  true,
	"env":        true,
	"extensions": true,
	"e2rc":       true,
}

// schemas lists the known keys per builder, used only to emit typo
// warnings (§4.1: "unknown keys ... trigger a typo warning"); an unknown
// key is never a hard parse error, since the engine must stay usable with
// configuration fields a future schema revision adds.
var schemas = map[string][]string{
	"e2project": {"name", "release_id", "chroot_arch", "default_results", "deploy_results", "checksums", "default_groups"},
	"e2source":  {"type", "env", "licences", "files", "server", "location", "branch", "tag", "workdir", "results", "sources"},
	"e2result":  {"type", "chroot", "depends", "sources", "env", "build_script"},
	"e2chroot":  {"default", "files"},
	"e2licence": {"files"},
	"env":       nil, // env{} dicts are free-form key=value pairs, not schema-checked.
	"extensions": {"modules"},
	"e2rc":      {"servers", "cache", "site_env"},
}

// Loaded is one evaluated configuration file: its builder call plus the
// typo warnings collected while checking it against the known schema.
type Loaded struct {
	File     string
	Builder  string
	Arg      Value
	Warnings []string
}

// LoadFile reads and evaluates a single configuration file, enforcing the
// builder whitelist and emitting (non-fatal) typo warnings for unknown
// dict keys.
func LoadFile(path string) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, e2err.Wrapf(err, e2err.Resource, "reading config file %s", path)
	}
	call, err := ParseFile(path, string(data))
	if err != nil {
		return nil, err
	}
	if !Builders[call.Builder] {
		return nil, e2err.At(e2err.Newf(e2err.Configuration, "unknown builder %q", call.Builder), e2err.Location{File: path, Line: call.Line})
	}
	var warnings []string
	if call.Arg.Kind == KindDict {
		warnings = checkSchema(path, call.Builder, call.Arg.Dict)
	}
	return &Loaded{File: path, Builder: call.Builder, Arg: call.Arg, Warnings: warnings}, nil
}

// checkSchema reports unknown keys as warnings rather than failing the
// load, following §4.1's own wording ("typo warning") over §8 scenario S2's
// looser description of the same situation as an outright load failure.
// Every caller hands these to LogWarnings, which logs them, and continues;
// nothing currently escalates an unknown-key warning to a fatal error.
func checkSchema(path, builder string, d *Dict) []string {
	known, ok := schemas[builder]
	if !ok || known == nil {
		return nil
	}
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	var warnings []string
	for _, k := range d.Keys {
		if !allowed[k] {
			warnings = append(warnings, path+": unknown key "+k+" in "+builder+" (possible typo)")
		}
	}
	return warnings
}

// LogWarnings prints each warning via the standard logger, prefixed like
// the rest of the engine's diagnostics (§ ambient logging convention).
func LogWarnings(warnings []string) {
	for _, w := range warnings {
		log.Printf("config: %s", w)
	}
}

// LoadEnv evaluates an `env` file, following `env "relative/path"` include
// directives relative to root and merging the included environment's
// key=value pairs underneath the including file's own pairs (so a file's
// own assignments take precedence over what it includes, matching the
// "later overrides earlier" convention used for e2.conf.local §6). Include
// cycles are rejected rather than silently truncated (§4.1).
func LoadEnv(root, relPath string) (*Dict, []string, error) {
	return loadEnv(root, relPath, map[string]bool{})
}

func loadEnv(root, relPath string, visiting map[string]bool) (*Dict, []string, error) {
	abs := filepath.Join(root, relPath)
	if visiting[abs] {
		return nil, nil, e2err.Newf(e2err.Configuration, "env inclusion cycle at %s", relPath)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	loaded, err := LoadFile(abs)
	if err != nil {
		return nil, nil, err
	}
	if loaded.Builder != "env" {
		return nil, nil, e2err.At(e2err.Newf(e2err.Configuration, "expected an env{} declaration, found %s", loaded.Builder), e2err.Location{File: abs})
	}
	if loaded.Arg.Kind == KindString {
		incDict, incWarn, err := loadEnv(root, loaded.Arg.Str, visiting)
		if err != nil {
			return nil, nil, err
		}
		return incDict, append(append([]string(nil), loaded.Warnings...), incWarn...), nil
	}
	if loaded.Arg.Kind != KindDict {
		return nil, nil, e2err.At(e2err.New(e2err.Configuration, "env{} argument must be a dict or a path string"), e2err.Location{File: abs})
	}

	result := NewDict()
	warnings := append([]string(nil), loaded.Warnings...)
	for _, key := range loaded.Arg.Dict.Keys {
		val, _ := loaded.Arg.Dict.Get(key)
		if key == "include" {
			paths, err := val.StringList()
			if err != nil {
				if val.Kind == KindString {
					paths = []string{val.Str}
				} else {
					return nil, nil, e2err.At(e2err.New(e2err.Configuration, "include must be a string or list of strings"), e2err.Location{File: abs})
				}
			}
			for _, inc := range paths {
				incDict, incWarn, err := loadEnv(root, inc, visiting)
				if err != nil {
					return nil, nil, err
				}
				warnings = append(warnings, incWarn...)
				for _, k := range incDict.Keys {
					if _, own := loaded.Arg.Dict.Get(k); own {
						continue
					}
					v, _ := incDict.Get(k)
					result.Set(k, v)
				}
			}
			continue
		}
		if val.Kind != KindString {
			return nil, nil, e2err.At(e2err.Newf(e2err.Configuration, "env key %q must be a string value", key), e2err.Location{File: abs})
		}
		result.Set(key, val)
	}
	return result, warnings, nil
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFileSingleBuilder(t *testing.T) {
	call, err := ParseFile("test.e2", `e2project {
		name = "demo",
		release_id = "1.0",
		default_results = ["a", "b"],
	}`)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if call.Builder != "e2project" {
		t.Fatalf("builder = %q, want e2project", call.Builder)
	}
	name, err := call.Arg.Dict.GetString("name")
	if err != nil || name != "demo" {
		t.Fatalf("name = %q, %v", name, err)
	}
	results, err := call.Arg.Dict.GetStringList("default_results")
	if err != nil {
		t.Fatalf("GetStringList: %v", err)
	}
	if len(results) != 2 || results[0] != "a" || results[1] != "b" {
		t.Fatalf("default_results = %v", results)
	}
}

func TestParseFileRejectsSecondCall(t *testing.T) {
	_, err := ParseFile("test.e2", `e2project { name = "a" } e2project { name = "b" }`)
	if err == nil {
		t.Fatal("expected error for a second top-level call")
	}
}

func TestParseFileRejectsUnknownBuilderAtLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.e2")
	if err := os.WriteFile(path, []byte(`exec { cmd = "rm -rf /" }`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected rejection of a non-whitelisted builder")
	}
}

func TestLoadFileWarnsOnUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proj.e2")
	if err := os.WriteFile(path, []byte(`e2project { name = "demo", bogus_key = "x" }`), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(loaded.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", loaded.Warnings)
	}
}

func TestLoadEnvIncludeAndCycle(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "base.e2", `env { FOO = "base" }`)
	mustWrite(t, dir, "child.e2", `env { include = "base.e2", BAR = "child" }`)
	d, _, err := LoadEnv(dir, "child.e2")
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if v, _ := d.GetString("FOO"); v != "base" {
		t.Fatalf("FOO = %q", v)
	}
	if v, _ := d.GetString("BAR"); v != "child" {
		t.Fatalf("BAR = %q", v)
	}

	mustWrite(t, dir, "a.e2", `env { include = "b.e2" }`)
	mustWrite(t, dir, "b.e2", `env { include = "a.e2" }`)
	if _, _, err := LoadEnv(dir, "a.e2"); err == nil {
		t.Fatal("expected a cycle error")
	}
}

func mustWrite(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package siteconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithLocalOverlay(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "e2.conf")
	mustWrite(t, base, `
cache:
  path: /var/cache/e2
servers:
  upstream:
    url: https://example.invalid/e2
    cachable: true
`)
	mustWrite(t, base+".local", `
servers:
  upstream:
    url: https://mirror.invalid/e2
    cachable: true
`)
	cfg, found, err := Load(base, "", "", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found != base {
		t.Fatalf("found = %q, want %q", found, base)
	}
	if cfg.Cache.Path != "/var/cache/e2" {
		t.Fatalf("cache.path = %q", cfg.Cache.Path)
	}
	url, err := cfg.ResolveServer("upstream")
	if err != nil {
		t.Fatalf("ResolveServer: %v", err)
	}
	if url != "https://mirror.invalid/e2" {
		t.Fatalf("ResolveServer returned %q, want overridden URL", url)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load("", "", "", "")
	if err == nil {
		t.Fatal("expected an error when no candidate path exists")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

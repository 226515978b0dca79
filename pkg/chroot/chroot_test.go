// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package chroot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeExecutor struct {
	calls [][]string
}

func (f *fakeExecutor) Run(ctx context.Context, opts ExecOptions, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	return nil
}

func TestTarTypeForSuffix(t *testing.T) {
	cases := map[string]TarType{
		"x.tar":     TarPlain,
		"x.tar.gz":  TarGzip,
		"x.tgz":     TarGzip,
		"x.tar.bz2": TarBzip2,
		"x.tbz2":    TarBzip2,
		"x.tar.xz":  TarXz,
	}
	for name, want := range cases {
		got, err := TarTypeForSuffix(name)
		if err != nil || got != want {
			t.Errorf("TarTypeForSuffix(%q) = %q, %v; want %q", name, got, err, want)
		}
	}
	if _, err := TarTypeForSuffix("x.zip"); err == nil {
		t.Error("expected an error for an unrecognized suffix")
	}
}

func TestControllerLockExclusive(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{}
	c := NewController(dir, NewSudoHelper(exec))

	base, release, err := c.Lock("result-a")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := os.Stat(base); err != nil {
		t.Fatalf("base dir not created: %v", err)
	}
	if _, _, err := c.Lock("result-a"); err == nil {
		t.Fatal("expected second Lock on same name to fail while held")
	}
	release()
	if _, _, err := c.Lock("result-a"); err != nil {
		t.Fatalf("expected Lock to succeed again after release: %v", err)
	}
}

func TestControllerSetupWritesSentinel(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{}
	c := NewController(dir, NewSudoHelper(exec))
	base, release, err := c.Lock("r")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer release()
	if err := c.Setup(context.Background(), base); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, sentinelName)); err != nil {
		t.Fatalf("sentinel not written: %v", err)
	}
	if len(exec.calls) == 0 {
		t.Fatal("expected Setup to invoke the helper")
	}
}

func TestSudoHelperRefusesWithoutSentinel(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{}
	h := NewSudoHelper(exec)
	if err := h.RemoveChroot(context.Background(), dir); err == nil {
		t.Fatal("expected refusal when sentinel file is absent")
	}
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/emlix/e2factory/pkg/model"
)

func result(name string, depends ...string) *model.Result {
	return &model.Result{Name: name, Depends: depends}
}

func TestPlanTopoOrderAndModePropagation(t *testing.T) {
	proj := MapProject{
		"app":     result("app", "lib", "runtime"),
		"lib":     result("lib", "runtime"),
		"runtime": result("runtime"),
	}
	nodes, err := Plan(proj, []string{"app"}, map[string]BuildMode{"app": ModeBranch}, ModeTag)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}
	pos := map[string]int{}
	for i, n := range nodes {
		pos[n.Result.Name] = i
	}
	if pos["runtime"] >= pos["lib"] || pos["lib"] >= pos["app"] {
		t.Fatalf("dependency-first order violated: %v", pos)
	}
	for _, n := range nodes {
		if n.Mode != ModeBranch {
			t.Fatalf("result %q has mode %q, want propagated %q", n.Result.Name, n.Mode, ModeBranch)
		}
	}
}

func TestPlanDetectsCycle(t *testing.T) {
	proj := MapProject{
		"a": result("a", "b"),
		"b": result("b", "a"),
	}
	_, err := Plan(proj, []string{"a"}, nil, ModeTag)
	if err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestPlanStableTieBreak(t *testing.T) {
	proj := MapProject{
		"root": result("root", "zeta", "alpha", "mid"),
		"zeta": result("zeta"),
		"alpha": result("alpha"),
		"mid":  result("mid"),
	}
	nodes, err := Plan(proj, []string{"root"}, nil, ModeTag)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	var names []string
	for _, n := range nodes {
		names = append(names, n.Result.Name)
	}
	// alpha, mid, zeta are independent leaves: alphabetical tie-break means
	// they must appear in that relative order before root.
	order := map[string]int{}
	for i, n := range names {
		order[n] = i
	}
	if !(order["alpha"] < order["mid"] && order["mid"] < order["zeta"] && order["zeta"] < order["root"]) {
		t.Fatalf("expected alphabetical tie-break among leaves, got %v", names)
	}
}

func TestBuildIDRegistryCollision(t *testing.T) {
	reg := NewBuildIDRegistry()
	if err := reg.Claim("a", "id1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := reg.Claim("a", "id1"); err != nil {
		t.Fatalf("same result reclaiming: %v", err)
	}
	if err := reg.Claim("b", "id1"); err == nil {
		t.Fatal("expected collision error for a different result claiming the same id")
	}
}

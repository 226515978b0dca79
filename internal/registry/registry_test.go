// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"testing"
)

func TestInitOrderRespectsDependencies(t *testing.T) {
	r := NewRegistry()
	r.Register(&Plugin{Name: "collect_project", DependsOn: []string{"base"}})
	r.Register(&Plugin{Name: "base"})
	order, err := r.InitOrder()
	if err != nil {
		t.Fatalf("InitOrder: %v", err)
	}
	if len(order) != 2 || order[0] != "base" || order[1] != "collect_project" {
		t.Fatalf("order = %v, want [base collect_project]", order)
	}
}

func TestInitOrderDetectsCycle(t *testing.T) {
	r := NewRegistry()
	r.Register(&Plugin{Name: "a", DependsOn: []string{"b"}})
	r.Register(&Plugin{Name: "b", DependsOn: []string{"a"}})
	if _, err := r.InitOrder(); err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestInitAllRollsBackOnFailure(t *testing.T) {
	r := NewRegistry()
	var exited []string
	r.Register(&Plugin{
		Name: "base",
		Exit: func(ctx context.Context) error { exited = append(exited, "base"); return nil },
	})
	r.Register(&Plugin{
		Name:      "broken",
		DependsOn: []string{"base"},
		Init:      func(ctx context.Context) error { return context.DeadlineExceeded },
	})
	if err := r.InitAll(context.Background()); err == nil {
		t.Fatal("expected InitAll to surface the failing plugin's error")
	}
	if len(exited) != 1 || exited[0] != "base" {
		t.Fatalf("exited = %v, want [base] (rollback of already-initialized plugins)", exited)
	}
}

func TestStepsBeforeFiltersByTarget(t *testing.T) {
	r := NewRegistry()
	r.Register(&Plugin{
		Name: "collect_project",
		Steps: []StepInsertion{
			{Name: "build_collect_project", BeforeStep: "build"},
		},
	})
	steps := r.StepsBefore("build")
	if len(steps) != 1 || steps[0].Name != "build_collect_project" {
		t.Fatalf("StepsBefore(build) = %v", steps)
	}
	if len(r.StepsBefore("store")) != 0 {
		t.Fatal("expected no steps before store")
	}
}

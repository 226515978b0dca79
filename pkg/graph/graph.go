// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/pkg/model"
)

// Project is the narrow slice of project state the scheduler needs: a
// name-indexed set of results. Declared as an interface so callers can wire
// in the real loaded project without pkg/graph importing the config loader.
type Project interface {
	Result(name string) (*model.Result, bool)
}

// MapProject is the simplest Project implementation, backed by a plain map.
type MapProject map[string]*model.Result

func (p MapProject) Result(name string) (*model.Result, bool) {
	r, ok := p[name]
	return r, ok
}

// Node is one scheduled result: its mode (propagated from the root
// selection or inherited from whichever root pulled it in) and its position
// in the stable topological order.
type Node struct {
	Result *model.Result
	Mode   BuildMode
}

// CycleError reports a dependency cycle as the ordered sequence of result
// names that make it up, per §4.3 step 2.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// Plan computes the build set for a root selection (§4.3):
//  1. transitive closure over depends
//  2. acyclicity validation
//  3. stable topological order (alphabetical tie-break on result name)
//  4. build-mode propagation: a result's mode is the mode explicitly given
//     for it in modes, or if absent, the mode of whichever already-visited
//     root/dependent pulled it in -- first writer wins, since a depended-on
//     result is only ever scheduled once.
func Plan(proj Project, roots []string, modes map[string]BuildMode, defaultMode BuildMode) ([]Node, error) {
	closure := map[string]*model.Result{}
	var walk func(name string, stack []string) error
	walk = func(name string, stack []string) error {
		for _, s := range stack {
			if s == name {
				return &CycleError{Cycle: append(append([]string(nil), stack...), name)}
			}
		}
		if _, done := closure[name]; done {
			return nil
		}
		r, ok := proj.Result(name)
		if !ok {
			return e2err.Newf(e2err.Configuration, "build set: unknown result %q", name)
		}
		closure[name] = r
		nextStack := append(stack, name)
		for _, dep := range r.Depends {
			if err := walk(dep, nextStack); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := walk(root, nil); err != nil {
			if _, ok := err.(*CycleError); ok {
				return nil, e2err.Wrap(err, e2err.Identity, "dependency cycle detected")
			}
			return nil, err
		}
	}

	order, err := topoSort(closure)
	if err != nil {
		return nil, err
	}

	assigned := map[string]BuildMode{}
	// Roots get their explicit mode (or defaultMode) first, in root order,
	// so root-mode assignment wins over propagation through a shared dep
	// that might be reached by an earlier root too.
	for _, root := range roots {
		if _, ok := assigned[root]; ok {
			continue
		}
		if m, ok := modes[root]; ok {
			assigned[root] = m
		} else {
			assigned[root] = defaultMode
		}
	}
	// Propagate down dependency edges in reverse topological order: topoSort
	// places dependencies before their dependents, so walking it backwards
	// reaches every result that can depend on a node before the node itself.
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		r := closure[name]
		mode, ok := assigned[name]
		if !ok {
			if m, ok := modes[name]; ok {
				mode = m
			} else {
				mode = defaultMode
			}
			assigned[name] = mode
		}
		for _, dep := range r.Depends {
			if _, ok := assigned[dep]; !ok {
				assigned[dep] = mode
			}
		}
	}

	nodes := make([]Node, 0, len(order))
	for _, name := range order {
		nodes = append(nodes, Node{Result: closure[name], Mode: assigned[name]})
	}
	return nodes, nil
}

// topoSort orders closure so every result appears after all of its
// dependencies (dependency-first order, the order a builder must process
// results in), breaking ties alphabetically on result name for
// reproducibility (§4.3 step 3).
func topoSort(closure map[string]*model.Result) ([]string, error) {
	names := make([]string, 0, len(closure))
	for n := range closure {
		names = append(names, n)
	}
	sort.Strings(names)

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := map[string]int{}
	var order []string
	var visit func(name string, stack []string) error
	visit = func(name string, stack []string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return &CycleError{Cycle: append(append([]string(nil), stack...), name)}
		}
		state[name] = visiting
		r := closure[name]
		deps := append([]string(nil), r.Depends...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep, append(stack, name)); err != nil {
				return err
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, e2err.Wrap(err, e2err.Identity, "dependency cycle detected during topological sort")
		}
	}
	return order, nil
}

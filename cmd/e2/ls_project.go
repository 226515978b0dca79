// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/emlix/e2factory/internal/engine"
	"github.com/emlix/e2factory/pkg/model"
)

var (
	lsAll         bool
	lsDot         bool
	lsDotSources  bool
	lsSwap        bool
	lsChroot      bool
	lsEnv         bool
	lsUnused      bool
)

var lsProjectCmd = &cobra.Command{
	Use:   "ls-project",
	Short: "List project structure: results, sources, chroot groups, dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, sup, err := newEngine(false)
		if err != nil {
			return err
		}
		defer sup.Stop()

		switch {
		case lsDot || lsDotSources:
			printDot(cmd, e)
		case lsUnused:
			printUnused(cmd, e)
		case lsChroot:
			printChrootGroups(cmd, e)
		default:
			printResults(cmd, e)
		}
		return nil
	},
}

func sortedResultNames(results map[string]*model.Result) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func printResults(cmd *cobra.Command, e *engine.Engine) {
	out := cmd.OutOrStdout()
	only := map[string]bool{}
	if !lsAll {
		for _, name := range e.Loaded.Project.DefaultResults {
			only[name] = true
		}
	}
	for _, name := range sortedResultNames(e.Loaded.Results) {
		if !lsAll && !only[name] {
			continue
		}
		r := e.Loaded.Results[name]
		fmt.Fprintf(out, "%s (%s)\n", name, r.Type)
		if len(r.Depends) > 0 {
			fmt.Fprintf(out, "  depends: %s\n", joinSorted(r.Depends))
		}
		if len(r.Sources) > 0 {
			fmt.Fprintf(out, "  sources: %s\n", joinSorted(r.Sources))
		}
		if len(r.Chroot) > 0 {
			fmt.Fprintf(out, "  chroot:  %s\n", joinSorted(r.Chroot))
		}
		if lsEnv {
			env := e.MergedEnv(r)
			for _, pair := range env.AsSortedPairs() {
				fmt.Fprintf(out, "  env:     %s\n", pair)
			}
		}
	}
}

func printChrootGroups(cmd *cobra.Command, e *engine.Engine) {
	out := cmd.OutOrStdout()
	names := make([]string, 0, len(e.Loaded.ChrootGroups))
	for name := range e.Loaded.ChrootGroups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := e.Loaded.ChrootGroups[name]
		fmt.Fprintf(out, "%s (default=%v, %d files)\n", name, g.Default, len(g.Files))
	}
}

func printUnused(cmd *cobra.Command, e *engine.Engine) {
	out := cmd.OutOrStdout()
	usedSources := map[string]bool{}
	usedGroups := map[string]bool{}
	for _, r := range e.Loaded.Results {
		for _, s := range r.Sources {
			usedSources[s] = true
		}
		for _, g := range r.Chroot {
			usedGroups[g] = true
		}
	}
	for name := range e.Loaded.Sources {
		if !usedSources[name] {
			fmt.Fprintf(out, "unused source: %s\n", name)
		}
	}
	for name := range e.Loaded.ChrootGroups {
		if !usedGroups[name] {
			fmt.Fprintf(out, "unused chroot group: %s\n", name)
		}
	}
}

// printDot emits a Graphviz dependency graph: one edge per (result, depend)
// pair, plus source edges when --dot-sources is given. --swap reverses
// every edge's direction (dependency -> dependent instead of the default
// dependent -> dependency).
func printDot(cmd *cobra.Command, e *engine.Engine) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "digraph e2 {")
	for _, name := range sortedResultNames(e.Loaded.Results) {
		r := e.Loaded.Results[name]
		for _, dep := range r.Depends {
			printEdge(out, name, dep)
		}
		if lsDotSources {
			for _, src := range r.Sources {
				printEdge(out, name, "src_"+src)
			}
		}
	}
	fmt.Fprintln(out, "}")
}

func printEdge(out interface{ Write([]byte) (int, error) }, from, to string) {
	if lsSwap {
		from, to = to, from
	}
	fmt.Fprintf(out, "  %q -> %q;\n", from, to)
}

func joinSorted(in []string) string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	s := ""
	for i, v := range out {
		if i > 0 {
			s += ", "
		}
		s += v
	}
	return s
}

func init() {
	f := lsProjectCmd.Flags()
	f.BoolVar(&lsAll, "all", false, "list every result, not only those named in default_results")
	f.BoolVar(&lsDot, "dot", false, "emit the result dependency graph in Graphviz dot format")
	f.BoolVar(&lsDotSources, "dot-sources", false, "like --dot, also including source nodes")
	f.BoolVar(&lsSwap, "swap", false, "reverse edge direction in --dot/--dot-sources output")
	f.BoolVar(&lsChroot, "chroot", false, "list chroot groups instead of results")
	f.BoolVar(&lsEnv, "env", false, "include each result's merged environment")
	f.BoolVar(&lsUnused, "unused", false, "list declared sources and chroot groups unused by any result")
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/pkg/buildproc"
	"github.com/emlix/e2factory/pkg/graph"
)

var (
	buildAll          bool
	buildMode         string
	buildRelease      bool
	buildTag          bool
	buildBranch       bool
	buildWorkingCopy  bool
	wcModeList        string
	branchModeList    string
	buildCheck        bool
	buildCheckRemote  bool
	buildPlayground   bool
	buildKeep         bool
	buildForceRebuild bool
	buildIDOnly       bool
)

var buildCmd = &cobra.Command{
	Use:   "build [results...]",
	Short: "Build one or more results",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaultMode, err := resolveDefaultMode()
		if err != nil {
			return err
		}
		e, ctx, sup, err := newEngine(buildCheckRemote)
		if err != nil {
			return err
		}
		defer sup.Stop()

		roots := args
		if buildAll {
			roots = nil
			for name := range e.Loaded.Results {
				roots = append(roots, name)
			}
		}
		if len(roots) == 0 {
			return e2err.New(e2err.Configuration, "build: no results named and --all not given")
		}

		modes := map[string]graph.BuildMode{}
		for _, name := range splitCSV(wcModeList) {
			modes[name] = graph.ModeWorkingCopy
		}
		for _, name := range splitCSV(branchModeList) {
			modes[name] = graph.ModeBranch
		}

		nodes, err := e.Plan(roots, modes, defaultMode)
		if err != nil {
			return err
		}

		opts := buildproc.Options{
			Keep:         buildKeep,
			ForceRebuild: buildForceRebuild,
			Check:        buildCheck,
			Playground:   buildPlayground,
		}

		reports, err := e.Build(ctx, nodes, opts)
		for _, r := range reports {
			if buildIDOnly {
				fmt.Fprintln(cmd.OutOrStdout(), r.BuildID)
				continue
			}
			switch {
			case r.Failed:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: FAILED: %v\n", r.ResultName, r.Err)
			case r.Skipped:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (cached)\n", r.ResultName, r.BuildID)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", r.ResultName, r.BuildID)
			}
		}
		return err
	},
}

func resolveDefaultMode() (graph.BuildMode, error) {
	set := 0
	mode := buildMode
	for _, pair := range []struct {
		flag bool
		mode string
	}{{buildRelease, "release"}, {buildTag, "tag"}, {buildBranch, "branch"}, {buildWorkingCopy, "working-copy"}} {
		if pair.flag {
			mode = pair.mode
			set++
		}
	}
	if set > 1 {
		return "", e2err.New(e2err.Configuration, "build: only one of --release/--tag/--branch/--working-copy may be given")
	}
	if mode == "" {
		mode = "tag"
	}
	switch graph.BuildMode(mode) {
	case graph.ModeRelease, graph.ModeTag, graph.ModeBranch, graph.ModeWorkingCopy:
		return graph.BuildMode(mode), nil
	default:
		return "", e2err.Newf(e2err.Configuration, "build: unknown --build-mode %q", mode)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	f := buildCmd.Flags()
	f.BoolVar(&buildAll, "all", false, "build every result in the project")
	f.StringVar(&buildMode, "build-mode", "", "sourceset: release, tag, branch, or working-copy")
	f.BoolVar(&buildRelease, "release", false, "alias for --build-mode=release")
	f.BoolVar(&buildTag, "tag", false, "alias for --build-mode=tag")
	f.BoolVar(&buildBranch, "branch", false, "alias for --build-mode=branch")
	f.BoolVar(&buildWorkingCopy, "working-copy", false, "alias for --build-mode=working-copy")
	f.StringVar(&wcModeList, "wc-mode", "", "comma-separated results to force into working-copy mode")
	f.StringVar(&branchModeList, "branch-mode", "", "comma-separated results to force into branch mode")
	f.BoolVar(&buildCheck, "check", false, "validate without executing the build step")
	f.BoolVar(&buildCheckRemote, "check-remote", false, "verify tag sources against their remote")
	f.BoolVar(&buildPlayground, "playground", false, "prepare the chroot for inspection, skip the build step")
	f.BoolVar(&buildKeep, "keep", false, "keep the chroot after building")
	f.BoolVar(&buildForceRebuild, "force-rebuild", false, "rebuild even if the buildid is already stored")
	f.BoolVar(&buildIDOnly, "buildid", false, "print only the resolved buildid per result")
}

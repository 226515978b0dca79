// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/pkg/model"
)

var (
	fsFetch    bool
	fsUpdate   bool
	fsAll      bool
	fsSCM      bool
	fsFiles    bool
	fsGit      bool
	fsSVN      bool
	fsCVS      bool
	fsGitRepo  bool
	fsSource   []string
	fsResult   []string
	fsChroot   []string
)

var fetchSourcesCmd = &cobra.Command{
	Use:   "fetch-sources",
	Short: "Fetch or update source working copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fsFetch == fsUpdate {
			// Neither or both given: default to update, the idempotent,
			// always-safe-to-repeat operation (§8 property 10).
			fsFetch = false
			fsUpdate = true
		}
		e, ctx, sup, err := newEngine(false)
		if err != nil {
			return err
		}
		defer sup.Stop()

		names, err := selectSources(e.Loaded.Sources, e.Loaded.Results)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return e2err.New(e2err.Configuration, "fetch-sources: no sources selected")
		}

		for _, name := range names {
			src := e.Loaded.Sources[name]
			driver, derr := e.Drivers.New(src, e.Loaded.Root+"/in/"+name)
			if derr != nil {
				return derr
			}
			if err := fetchOne(ctx, cmd, name, driver); err != nil {
				return err
			}
		}
		return nil
	},
}

func fetchOne(ctx context.Context, cmd *cobra.Command, name string, driver interface {
	FetchSource(ctx context.Context) error
	UpdateSource(ctx context.Context) error
	WorkingCopyAvailable() (bool, error)
}) error {
	if fsFetch {
		available, err := driver.WorkingCopyAvailable()
		if err != nil {
			return err
		}
		if available {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: already present, skipping fetch\n", name)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: fetching\n", name)
		return driver.FetchSource(ctx)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: updating\n", name)
	return driver.UpdateSource(ctx)
}

// selectSources resolves the --all/--scm/--files/.../--source/--result
// flags into a sorted, deduplicated list of source names.
func selectSources(sources map[string]*model.Source, results map[string]*model.Result) ([]string, error) {
	set := map[string]bool{}
	anyTypeFlag := fsSCM || fsFiles || fsGit || fsSVN || fsCVS || fsGitRepo

	if fsAll && !anyTypeFlag && len(fsSource) == 0 && len(fsResult) == 0 {
		for name := range sources {
			set[name] = true
		}
	}
	if anyTypeFlag {
		for name, s := range sources {
			if fsFiles && s.Type == model.SourceFiles {
				set[name] = true
			}
			if fsGit && s.Type == model.SourceGit {
				set[name] = true
			}
			if fsGitRepo && s.Type == model.SourceGitRepo {
				set[name] = true
			}
			if fsSVN && s.Type == model.SourceSVN {
				set[name] = true
			}
			if fsCVS && s.Type == model.SourceCVS {
				set[name] = true
			}
			if fsSCM && (s.Type == model.SourceGit || s.Type == model.SourceGitRepo || s.Type == model.SourceSVN || s.Type == model.SourceCVS) {
				set[name] = true
			}
		}
	}
	for _, name := range fsSource {
		if _, ok := sources[name]; !ok {
			return nil, e2err.Newf(e2err.Configuration, "fetch-sources: unknown source %q", name)
		}
		set[name] = true
	}
	for _, name := range fsResult {
		r, ok := results[name]
		if !ok {
			return nil, e2err.Newf(e2err.Configuration, "fetch-sources: unknown result %q", name)
		}
		for _, srcName := range r.Sources {
			set[srcName] = true
		}
	}
	for _, groupName := range fsChroot {
		_ = groupName // chroot group tarballs are cached, not fetched as sources
	}

	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return sortedStrings(out), nil
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func init() {
	f := fetchSourcesCmd.Flags()
	f.BoolVar(&fsFetch, "fetch", false, "fetch sources not yet present locally (no-op if already present)")
	f.BoolVar(&fsUpdate, "update", false, "update already-fetched sources (default)")
	f.BoolVar(&fsAll, "all", false, "select every source in the project")
	f.BoolVar(&fsSCM, "scm", false, "select every git/gitrepo/svn/cvs source")
	f.BoolVar(&fsFiles, "files", false, "select every files-type source")
	f.BoolVar(&fsGit, "git", false, "select every git source")
	f.BoolVar(&fsSVN, "svn", false, "select every svn source")
	f.BoolVar(&fsCVS, "cvs", false, "select every cvs source")
	f.BoolVar(&fsGitRepo, "gitrepo", false, "select every gitrepo source")
	f.StringSliceVar(&fsSource, "source", nil, "select sources by name")
	f.StringSliceVar(&fsResult, "result", nil, "select sources used by the named result")
	f.StringSliceVar(&fsChroot, "chroot", nil, "select the named chroot group's sources (reserved)")
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Command e2 is the single build driver binary: a single executable with
// subcommands (build, fetch-sources, ls-project) replacing the original
// tool family (e2-build, e2-fetch-sources, e2-ls-project, ...). The
// interactive per-tool wrappers and their man pages are out of scope; only
// the flag surface and exit-code convention of §6 are respecified here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/engine"
	"github.com/emlix/e2factory/internal/siteconfig"
	"github.com/emlix/e2factory/internal/supervisor"
)

var (
	e2Config        = flag.String("e2-config", "", "path to the global e2.conf")
	enableWriteback = flag.String("enable-writeback", "", "force writeback on for SERVER")
	disableWb       = flag.String("disable-writeback", "", "force writeback off for SERVER")
	licenceFlag     = flag.Bool("licence", false, "print licence information and exit")

	quiet     = flag.Bool("quiet", false, "suppress non-error output")
	verbose   = flag.Bool("verbose", false, "enable verbose logging")
	debug     = flag.Bool("debug", false, "enable debug logging")
	toolDebug = flag.Bool("tooldebug", false, "log invoked tool commands and their output")
	vAll      = flag.Bool("vall", false, "enable all verbosity classes")
	v1        = flag.Bool("v1", false, "verbosity level 1")
	v2        = flag.Bool("v2", false, "verbosity level 2")
	v3        = flag.Bool("v3", false, "verbosity level 3")
	v4        = flag.Bool("v4", false, "verbosity level 4")

	wAll        = flag.Bool("Wall", false, "enable all warning classes")
	wDefault    = flag.Bool("Wdefault", true, "enable default warning class")
	wDeprecated = flag.Bool("Wdeprecated", false, "warn on use of deprecated features")
	wNoOther    = flag.Bool("Wnoother", false, "suppress warnings outside the default class")
	wPolicy     = flag.Bool("Wpolicy", false, "warn on policy violations")
	wHint       = flag.Bool("Whint", false, "print hint-level warnings")
)

var rootCmd = &cobra.Command{
	Use:     "e2 [subcommand]",
	Short:   "e2factory reproducible build driver",
	Version: "3.0.0",
}

// projectRootFlag is shared by every subcommand that operates on a project
// tree; cobra resolves it per-command via PersistentFlags on rootCmd.
var projectRootFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRootFlag, "project", ".", "project root directory")
	for _, name := range []string{
		"e2-config", "enable-writeback", "disable-writeback", "licence",
		"quiet", "verbose", "debug", "tooldebug", "vall", "v1", "v2", "v3", "v4",
		"Wall", "Wdefault", "Wdeprecated", "Wnoother", "Wpolicy", "Whint",
	} {
		rootCmd.PersistentFlags().AddGoFlag(flag.Lookup(name))
	}

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(fetchSourcesCmd)
	rootCmd.AddCommand(lsProjectCmd)
}

func configureLogging() {
	switch {
	case *quiet:
		log.SetOutput(os.Stderr)
	case *debug, *vAll, *v4:
		log.SetFlags(log.Ltime | log.Lshortfile)
	case *verbose, *v1, *v2, *v3:
		log.SetFlags(log.Ltime)
	default:
		log.SetFlags(0)
	}
	if *toolDebug {
		log.SetFlags(log.Ltime | log.Lshortfile)
	}
}

// loadSiteConfig resolves and parses the global config per §6's search
// order, applying --enable-writeback/--disable-writeback overrides.
func loadSiteConfig(projectRoot string) (*siteconfig.Config, error) {
	home, _ := os.UserHomeDir()
	cfg, path, err := siteconfig.Load(*e2Config, os.Getenv("E2_CONFIG"), projectRoot, home)
	if err != nil {
		return nil, err
	}
	log.Printf("e2: using global config %s", path)
	if *enableWriteback != "" {
		s, ok := cfg.Servers[*enableWriteback]
		if !ok {
			return nil, e2err.Newf(e2err.Configuration, "--enable-writeback: no server %q", *enableWriteback)
		}
		s.Writeback = true
		cfg.Servers[*enableWriteback] = s
	}
	if *disableWb != "" {
		s, ok := cfg.Servers[*disableWb]
		if !ok {
			return nil, e2err.Newf(e2err.Configuration, "--disable-writeback: no server %q", *disableWb)
		}
		s.Writeback = false
		cfg.Servers[*disableWb] = s
	}
	return cfg, nil
}

// newEngine wires a full engine for the project rooted at projectRootFlag,
// the composition step every subcommand performs before doing real work.
func newEngine(checkRemoteTag bool) (*engine.Engine, context.Context, *supervisor.Supervisor, error) {
	root, err := filepath.Abs(projectRootFlag)
	if err != nil {
		return nil, nil, nil, err
	}
	site, err := loadSiteConfig(root)
	if err != nil {
		return nil, nil, nil, err
	}
	sup, ctx := supervisor.New()
	e, err := engine.New(site, engine.Options{
		ProjectRoot:    root,
		CheckRemoteTag: checkRemoteTag,
	})
	if err != nil {
		sup.Stop()
		return nil, nil, nil, err
	}
	return e, ctx, sup, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, e2err.Chain(err))
	if e2err.Is(err, e2err.Interruption) {
		os.Exit(128 + 2)
	}
	os.Exit(1)
}

func main() {
	// The global flags are parsed by rootCmd.Execute, so logging setup and
	// --licence run once cobra has parsed them.
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		configureLogging()
		if *licenceFlag {
			fmt.Println("e2factory is free software; see the accompanying licence file for details.")
			os.Exit(0)
		}
	}
	rootCmd.Run = func(cmd *cobra.Command, _ []string) { cmd.Help() }
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package buildproc

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/locator"
	"github.com/emlix/e2factory/internal/registry"
	"github.com/emlix/e2factory/pkg/chroot"
	"github.com/emlix/e2factory/pkg/envx"
	"github.com/emlix/e2factory/pkg/fileref"
	"github.com/emlix/e2factory/pkg/graph"
	"github.com/emlix/e2factory/pkg/model"
	"github.com/emlix/e2factory/pkg/scm"
)

// FileCache is the subset of pkg/cache.Cache the pipeline needs to place
// file-backed content (chroot group tarballs, dependency tarballs, the
// stored result itself) onto local disk.
type FileCache interface {
	FetchFilePath(ctx context.Context, ref locator.Ref, expect *Checksum) (string, error)
	PushFile(ctx context.Context, localPath string, ref locator.Ref) error
	CacheEnabled(server string) bool
}

// Checksum mirrors pkg/cache.Checksum; declared locally to avoid importing
// pkg/cache's full surface into this package's dependency interface.
type Checksum struct {
	SHA1   string
	SHA256 string
}

// ResultsServer names the server (in FileCache terms) where built result
// tarballs are stored and checked for pre-existing buildids (§4.6 step 1,
// step 11).
type ResultsServer struct {
	Name string
}

// Project bundles the lookups the pipeline needs beyond a single result:
// other results' build state (for install_deps), sources by name (for
// install_sources), and chroot groups by name (for install_chroot_groups).
type Project struct {
	Results map[string]*model.Result
	Sources map[string]*model.Source
	Groups  map[string]*model.ChrootGroup
	Init    []string // proj/init/* entries, always read directly from the
	                  // project's working tree rather than through the cache
}

// Deps bundles every collaborator a build run needs.
type Deps struct {
	Chroot  *chroot.Controller
	Cache   FileCache
	Drivers *scm.Registry
	Plugins *registry.Registry
	Exec    BuildExecutor
	Results ResultsServer
	TempDir string // parent of this run's per-invocation temp directories
}

// BuildExecutor runs the build-driver script inside the chroot. It is
// implemented by wrapping chroot.Controller.Run, kept as its own interface
// so tests can substitute a fake without a real chroot helper.
type BuildExecutor interface {
	RunBuildScript(ctx context.Context, baseDir string, arch model.ChrootArch, hostArch model.ChrootArch) error
}

// Options are the per-run flags that affect pipeline behavior (§6 build
// flags).
type Options struct {
	Keep         bool
	ForceRebuild bool
	Check        bool // --check: validate without executing the build step
	Playground   bool // --playground: prepare the chroot, skip the build step, keep it
	InitFiles    []string
	ProjectRoot  string
}

// Result is what BuildOne reports back for one result build.
type Result struct {
	ResultName  string
	BuildID     string
	WorkingCopy bool
	Skipped     bool // true if check_buildid found it already stored
	State       State
}

// Pipeline drives one result through the twelve canonical steps (§4.6),
// calling plugin-contributed steps immediately before their target step.
type Pipeline struct {
	deps Deps
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// BuildOne runs node's result through the full pipeline. buildID and
// workingCopy carry the already-resolved buildid (computed by the caller via
// pkg/graph + pkg/model, since those require live SCM/source data this
// package does not itself resolve).
func (p *Pipeline) BuildOne(ctx context.Context, node graph.Node, buildID string, workingCopy bool, project *Project, dependBuildIDs map[string]string, opts Options) (res Result, err error) {
	r := node.Result
	res = Result{ResultName: r.Name, BuildID: buildID, WorkingCopy: workingCopy, State: StatePending}

	log.Printf("build: %s: buildid %s", r.Name, buildID)

	// Step 1: check_buildid.
	res.State = StateReady
	if !workingCopy && !opts.ForceRebuild {
		storedRef := resultRef(buildID)
		if p.deps.Cache.CacheEnabled(p.deps.Results.Name) {
			if _, err := p.deps.Cache.FetchFilePath(ctx, storedRef, nil); err == nil {
				log.Printf("build: %s: buildid %s already stored, skipping", r.Name, buildID)
				res.State = StateStored
				res.Skipped = true
				return res, nil
			}
		}
	}
	if opts.Check {
		return res, nil
	}

	runID := uuid.NewString()
	baseDir, release, err := p.deps.Chroot.Lock(r.Name + "-" + runID)
	if err != nil {
		res.State = StateFailed
		return res, e2err.Wrapf(err, e2err.Resource, "locking chroot for %s", r.Name)
	}
	teardownDone := false
	teardown := func() {
		if teardownDone {
			return
		}
		teardownDone = true
		if opts.Keep {
			release()
			return
		}
		if terr := p.deps.Chroot.Teardown(ctx, baseDir, release); terr != nil {
			log.Printf("build: %s: teardown error: %v", r.Name, terr)
		}
	}
	defer func() {
		if err != nil {
			res.State = StateFailed
			teardown()
		}
	}()

	// Step 2: setup_chroot.
	for _, step := range p.deps.pluginSteps("setup_chroot") {
		if err = step.Run(ctx, registry.StepEnv{BaseDir: baseDir, ResultName: r.Name}); err != nil {
			return res, e2err.Wrapf(err, e2err.Build, "plugin step %q", step.Name)
		}
	}
	if err = p.deps.Chroot.Setup(ctx, baseDir); err != nil {
		return res, e2err.Wrapf(err, e2err.Privileged, "%s: setup_chroot", r.Name)
	}

	// Step 3: install_chroot_groups, in deterministic (caller-sorted) order.
	groups, gerr := groupsInOrder(r, project)
	if gerr != nil {
		err = gerr
		return res, err
	}
	for _, group := range groups {
		for _, f := range group.Files {
			local, ferr := p.materializeFile(ctx, f, opts.ProjectRoot)
			if ferr != nil {
				err = e2err.Wrapf(ferr, e2err.Transport, "%s: chroot group %q", r.Name, group.Name)
				return res, err
			}
			if err = p.deps.Chroot.InstallGroup(ctx, baseDir, local); err != nil {
				return res, e2err.Wrapf(err, e2err.Privileged, "%s: installing chroot group %q", r.Name, group.Name)
			}
		}
	}

	// Step 4: install_deps.
	tmpE2 := filepath.Join(baseDir, "chroot", "tmp", "e2")
	for _, dep := range r.Depends {
		if _, ok := project.Results[dep]; !ok {
			err = e2err.Newf(e2err.Configuration, "%s: unknown dependency %q", r.Name, dep)
			return res, err
		}
		depBuildID, ok := dependBuildIDs[dep]
		if !ok {
			err = e2err.Newf(e2err.Configuration, "%s: no resolved buildid for dependency %q", r.Name, dep)
			return res, err
		}
		destDir := filepath.Join(tmpE2, "dep", dep)
		if mkErr := os.MkdirAll(destDir, 0o755); mkErr != nil {
			err = e2err.Wrapf(mkErr, e2err.Resource, "%s: creating dep dir for %q", r.Name, dep)
			return res, err
		}
		depTar, ferr := p.deps.Cache.FetchFilePath(ctx, resultRef(depBuildID), nil)
		if ferr != nil {
			err = e2err.Wrapf(ferr, e2err.Transport, "%s: fetching dependency %q (buildid %s)", r.Name, dep, depBuildID)
			return res, err
		}
		if err = extractTarFile(depTar, destDir); err != nil {
			return res, e2err.Wrapf(err, e2err.Build, "%s: extracting dependency %q", r.Name, dep)
		}
	}

	// Step 5: install_sources.
	buildPath := filepath.Join(tmpE2, "build")
	for _, srcName := range r.Sources {
		src, ok := project.Sources[srcName]
		if !ok {
			err = e2err.Newf(e2err.Configuration, "%s: unknown source %q", r.Name, srcName)
			return res, err
		}
		driver, derr := p.deps.Drivers.New(src, filepath.Join(opts.ProjectRoot, "in", srcName))
		if derr != nil {
			err = derr
			return res, err
		}
		if err = driver.PrepareSource(ctx, node.Mode.SourceSet(), buildPath); err != nil {
			return res, e2err.Wrapf(err, e2err.Build, "%s: preparing source %q", r.Name, srcName)
		}
	}

	// Step 6: install_init.
	initDir := filepath.Join(tmpE2, "init")
	if err = os.MkdirAll(initDir, 0o755); err != nil {
		return res, e2err.Wrapf(err, e2err.Resource, "%s: creating init dir", r.Name)
	}
	for _, src := range opts.InitFiles {
		if cerr := copyFile(src, filepath.Join(initDir, filepath.Base(src))); cerr != nil {
			err = e2err.Wrapf(cerr, e2err.Resource, "%s: copying init file %s", r.Name, src)
			return res, err
		}
	}

	// Step 7: install_script_and_env.
	scriptDir := filepath.Join(tmpE2, "script")
	if err = os.MkdirAll(scriptDir, 0o755); err != nil {
		return res, e2err.Wrapf(err, e2err.Resource, "%s: creating script dir", r.Name)
	}
	scriptPath := filepath.Join(scriptDir, "build-script")
	if err = p.writeBuildScript(ctx, r, scriptPath, opts.ProjectRoot); err != nil {
		return res, err
	}
	envPath := filepath.Join(scriptDir, "env")
	if err = os.WriteFile(envPath, []byte(strings.Join(mergedEnv(r).AsSortedPairs(), "\n")+"\n"), 0o644); err != nil {
		return res, e2err.Wrapf(err, e2err.Resource, "%s: writing env file", r.Name)
	}
	builtinPath := filepath.Join(scriptDir, "builtin")
	if err = os.WriteFile(builtinPath, []byte(fmt.Sprintf("RESULT=%s\nBUILDID=%s\n", r.Name, buildID)), 0o644); err != nil {
		return res, e2err.Wrapf(err, e2err.Resource, "%s: writing builtin file", r.Name)
	}
	if err = writeBuildDriver(scriptDir); err != nil {
		return res, err
	}

	// Step 8: fix_permissions.
	if err = p.deps.Chroot.FixPermissions(ctx, baseDir, "tmp/e2"); err != nil {
		return res, e2err.Wrapf(err, e2err.Privileged, "%s: fix_permissions", r.Name)
	}

	res.State = StateChrootPrepared

	if opts.Playground {
		log.Printf("build: %s: playground mode, chroot prepared at %s, build step skipped", r.Name, baseDir)
		teardownDone = true
		release()
		return res, nil
	}

	// Step 9: build.
	for _, step := range p.deps.pluginSteps("build") {
		if err = step.Run(ctx, registry.StepEnv{BaseDir: baseDir, ResultName: r.Name}); err != nil {
			return res, e2err.Wrapf(err, e2err.Build, "plugin step %q", step.Name)
		}
	}
	hostArch := model.ArchX86_64
	if err = p.deps.Exec.RunBuildScript(ctx, baseDir, hostChrootArch(r), hostArch); err != nil {
		return res, e2err.Wrapf(err, e2err.Build, "%s: build", r.Name)
	}
	res.State = StateBuilt

	// Step 10: collect_result.
	outDir := filepath.Join(tmpE2, "out")
	tarPath := filepath.Join(p.runTempDir(runID), r.Name+".tar")
	if err = os.MkdirAll(filepath.Dir(tarPath), 0o755); err != nil {
		return res, e2err.Wrapf(err, e2err.Resource, "%s: creating output temp dir", r.Name)
	}
	if _, statErr := os.Stat(outDir); statErr == nil {
		if err = packResult(outDir, tarPath); err != nil {
			return res, e2err.Wrapf(err, e2err.Build, "%s: collect_result", r.Name)
		}
	} else if err = packResult(mustMkdirTemp(outDir), tarPath); err != nil {
		return res, e2err.Wrapf(err, e2err.Build, "%s: collect_result (empty output)", r.Name)
	}
	logPath := filepath.Join(p.runTempDir(runID), r.Name+".log")
	if _, statErr := os.Stat(logPath); statErr == nil {
		if err = appendGzipMember(tarPath, logPath, "build.log.gz", gzipCompress); err != nil {
			return res, e2err.Wrapf(err, e2err.Build, "%s: embedding build log", r.Name)
		}
	}

	// Step 11: store.
	if workingCopy {
		log.Printf("build: %s: working-copy result, not stored", r.Name)
	} else {
		for _, step := range p.deps.pluginSteps("store") {
			if err = step.Run(ctx, registry.StepEnv{BaseDir: baseDir, ResultName: r.Name}); err != nil {
				return res, e2err.Wrapf(err, e2err.Build, "plugin step %q", step.Name)
			}
		}
		if err = p.deps.Cache.PushFile(ctx, tarPath, resultRef(buildID)); err != nil {
			return res, e2err.Wrapf(err, e2err.Transport, "%s: store", r.Name)
		}
	}
	res.State = StateStored

	// Step 12: teardown.
	teardown()
	res.State = StateCleaned
	return res, nil
}

func resultRef(buildID string) locator.Ref {
	return locator.Ref{Server: "results", Location: buildID + ".tar"}
}

func (d Deps) pluginSteps(canonical string) []registry.StepInsertion {
	if d.Plugins == nil {
		return nil
	}
	return d.Plugins.StepsBefore(canonical)
}

// groupsInOrder resolves r.Chroot (already sorted by model.AugmentChroot)
// against the project's chroot-group table, in that fixed order (§4.6
// step 3: "deterministic order").
func groupsInOrder(r *model.Result, project *Project) ([]*model.ChrootGroup, error) {
	out := make([]*model.ChrootGroup, 0, len(r.Chroot))
	for _, name := range r.Chroot {
		g, ok := project.Groups[name]
		if !ok {
			return nil, e2err.Newf(e2err.Configuration, "%s: unknown chroot group %q", r.Name, name)
		}
		out = append(out, g)
	}
	return out, nil
}

// materializeFile resolves a file reference to a local path: in-project
// files are read directly from the project tree, everything else goes
// through the content cache so repeated builds hit the cache instead of
// re-fetching (§4.4).
func (p *Pipeline) materializeFile(ctx context.Context, f fileref.File, projectRoot string) (string, error) {
	if f.Server == "." {
		return filepath.Join(projectRoot, f.Location), nil
	}
	var expect *Checksum
	if f.SHA1 != "" || f.SHA256 != "" {
		expect = &Checksum{SHA1: f.SHA1, SHA256: f.SHA256}
	}
	return p.deps.Cache.FetchFilePath(ctx, f.Ref(), expect)
}

// writeBuildScript resolves the result's build-script file reference and
// copies its bytes to scriptPath (§4.6 step 7).
func (p *Pipeline) writeBuildScript(ctx context.Context, r *model.Result, scriptPath, projectRoot string) error {
	local, err := p.materializeFile(ctx, r.BuildScript, projectRoot)
	if err != nil {
		return e2err.Wrapf(err, e2err.Transport, "%s: fetching build script", r.Name)
	}
	if err := copyFile(local, scriptPath); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "%s: installing build script", r.Name)
	}
	return os.Chmod(scriptPath, 0o755)
}

// writeBuildDriver writes /tmp/e2/script/build-driver, the wrapper the
// chroot helper actually invokes: it sources env and builtin, then execs
// the build script under `bash -e -x` (§4.6 step 9).
func writeBuildDriver(scriptDir string) error {
	const driver = `#!/bin/bash
set -e
cd /tmp/e2/script
set -a
. ./builtin
. ./env
set +a
exec /bin/bash -e -x /tmp/e2/script/build-script
`
	path := filepath.Join(scriptDir, "build-driver")
	if err := os.WriteFile(path, []byte(driver), 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "writing build-driver")
	}
	return nil
}

func mergedEnv(r *model.Result) *envx.Env {
	if r.Env != nil {
		return r.Env
	}
	return envx.New()
}

func hostChrootArch(r *model.Result) model.ChrootArch {
	return model.ArchX86_64
}

func (p *Pipeline) runTempDir(runID string) string {
	return filepath.Join(p.deps.TempDir, runID)
}

func mustMkdirTemp(dir string) string {
	os.MkdirAll(dir, 0o755)
	return dir
}

func gzipCompress(dst io.Writer, src io.Reader) error {
	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		return err
	}
	return gw.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

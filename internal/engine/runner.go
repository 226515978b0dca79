// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/locator"
	"github.com/emlix/e2factory/internal/procx"
	"github.com/emlix/e2factory/internal/registry"
	"github.com/emlix/e2factory/internal/siteconfig"
	"github.com/emlix/e2factory/pkg/buildproc"
	"github.com/emlix/e2factory/pkg/cache"
	"github.com/emlix/e2factory/pkg/chroot"
	"github.com/emlix/e2factory/pkg/envx"
	"github.com/emlix/e2factory/pkg/fileref"
	"github.com/emlix/e2factory/pkg/graph"
	"github.com/emlix/e2factory/pkg/model"
	"github.com/emlix/e2factory/pkg/project"
	"github.com/emlix/e2factory/pkg/scm"
)

// maxParallelBuilds bounds how many results build concurrently within a
// dependency level (§5: "an implementation MAY run results in parallel
// provided buildid computation remains serial and per-chroot locking is
// honored").
const maxParallelBuilds = 4

// Engine bundles the fully-wired collaborators a build run needs, built
// once per invocation of the e2 CLI from site configuration and the
// loaded project.
type Engine struct {
	Site    *siteconfig.Config
	Loaded  *project.Loaded
	Cache   *cache.Cache
	Drivers *scm.Registry
	Chroot  *chroot.Controller
	Plugins *registry.Registry
	Exec    procx.Executor

	sourceIDs *sourceIDCache
}

// Options configures the engine build root at construction time, mirroring
// the e2 CLI's global flags (§6).
type Options struct {
	ProjectRoot    string
	CheckRemoteTag bool
	UseSudoHelper  bool // chroot helper dispatch, a SPEC_FULL.md Open Question resolution
	HelperPath     string
}

// parsePushPermissions interprets a server's push_permissions string (an
// octal mode such as "0644") falling back to a conservative default if the
// site config leaves it empty or malformed.
func parsePushPermissions(raw string) os.FileMode {
	if raw == "" {
		return os.FileMode(0o644)
	}
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		log.Printf("engine: invalid push_permissions %q, defaulting to 0644", raw)
		return os.FileMode(0o644)
	}
	return os.FileMode(v)
}

// New loads the project at opts.ProjectRoot, parses site config, and wires
// every collaborator the build pipeline needs. It does not itself run any
// builds.
func New(site *siteconfig.Config, opts Options) (*Engine, error) {
	loaded, err := project.Load(opts.ProjectRoot)
	if err != nil {
		return nil, err
	}

	exec := procx.NewReal()

	servers := map[string]cache.ServerConfig{}
	for name, s := range site.Servers {
		servers[name] = cache.ServerConfig{
			Name:            name,
			URL:             s.URL,
			Cachable:        s.Cachable,
			Cache:           s.Cache,
			IsLocal:         s.IsLocal,
			Writeback:       s.Writeback,
			PushPermissions: parsePushPermissions(s.PushPermissions),
		}
	}
	cacheDir := site.Cache.Path
	if cacheDir == "" {
		cacheDir = filepath.Join(opts.ProjectRoot, ".e2", "cache")
	}
	fileCache, err := cache.New(cacheDir, servers, exec)
	if err != nil {
		return nil, err
	}

	e := &Engine{Site: site, Loaded: loaded, Cache: fileCache, Exec: exec}

	if err := resolveIdentities(loaded, projectByteSource{root: opts.ProjectRoot, cache: fileCache}); err != nil {
		return nil, err
	}

	e.sourceIDs = newSourceIDCache(nil, loaded.Sources, opts.ProjectRoot)
	deps := scm.Dependencies{
		Cache:            scmCacheAdapter{c: fileCache},
		Exec:             execRunner{exec: exec},
		ResolveServer:    site.ResolveServer,
		CheckRemoteTag:   opts.CheckRemoteTag,
		ResolveSourceID:  e.sourceIDs.resolve,
		ResolveLicenceID: licenceIDResolver(loaded.Licences),
	}
	e.Drivers = scm.Default(deps)
	// The licence driver's ResolveSourceID callback recurses through
	// e.sourceIDs, which in turn constructs drivers from this same
	// registry -- tied together here now that both halves exist.
	e.sourceIDs.drivers = e.Drivers

	var helper chroot.Helper
	if opts.UseSudoHelper {
		helper = chroot.NewSudoHelper(chrootExecAdapter{exec: exec})
	} else {
		helper = chroot.NewSetuidHelper(chrootExecAdapter{exec: exec}, opts.HelperPath)
	}
	versionBase := filepath.Join(site.Site.TmpDir, "e2", "chroot")
	if versionBase == "" || site.Site.TmpDir == "" {
		versionBase = filepath.Join(os.TempDir(), "e2", "chroot")
	}
	e.Chroot = chroot.NewController(versionBase, helper)
	e.Plugins = registry.NewRegistry()

	return e, nil
}

// Plan computes the ordered build set for roots under the given mode (§4.3).
func (e *Engine) Plan(roots []string, modes map[string]graph.BuildMode, defaultMode graph.BuildMode) ([]graph.Node, error) {
	return graph.Plan(graph.MapProject(e.Loaded.Results), roots, modes, defaultMode)
}

// MergedEnv computes a result's effective environment: the project's
// global env, overlaid by each of its sources' env in declaration order,
// overlaid last by the result's own env (§4.1 "env overlay precedence").
func (e *Engine) MergedEnv(r *model.Result) *envx.Env {
	merged := e.Loaded.Project.GlobalEnv
	for _, name := range r.Sources {
		if src, ok := e.Loaded.Sources[name]; ok {
			merged = envx.Merge(merged, src.Env)
		}
	}
	merged = envx.Merge(merged, r.Env)
	return merged
}

// resolveBuildID computes a result's buildid (and whether it is a
// never-cacheable working-copy build) given its chosen sourceset and the
// already-resolved buildids of its dependencies.
func (e *Engine) resolveBuildID(ctx context.Context, r *model.Result, set model.SourceSet, dependBuildIDs map[string]string) (string, bool, *envx.Env, error) {
	groups, err := resolveGroupsFor(r, e.Loaded.ChrootGroups)
	if err != nil {
		return "", false, nil, err
	}
	scriptID, err := fileref.ID(r.BuildScript, projectByteSource{root: e.Loaded.Root, cache: e.Cache})
	if err != nil {
		return "", false, nil, e2err.Wrapf(err, e2err.Identity, "result %q: build script fileid", r.Name)
	}
	sourceIDs := make([]string, len(r.Sources))
	for i, name := range r.Sources {
		id, err := e.sourceIDs.resolve(ctx, name, set)
		if err != nil {
			return "", false, nil, err
		}
		sourceIDs[i] = id
	}
	dependIDs := make([]string, len(r.Depends))
	for i, dep := range r.Depends {
		id, ok := dependBuildIDs[dep]
		if !ok {
			return "", false, nil, e2err.Newf(e2err.Configuration, "result %q: dependency %q not yet resolved", r.Name, dep)
		}
		dependIDs[i] = id
	}
	env := e.MergedEnv(r)
	inputs := model.BuildIDInputs{
		ProjectID:      e.Loaded.Project.ID(),
		MergedEnvID:    env.ID(),
		ChrootGroups:   groups,
		ScriptFileID:   scriptID,
		SourceIDs:      sourceIDs,
		DependBuildIDs: dependIDs,
	}
	id, workingCopy := r.ID(inputs)
	return id, workingCopy, env, nil
}

func resolveGroupsFor(r *model.Result, all map[string]*model.ChrootGroup) ([]*model.ChrootGroup, error) {
	out := make([]*model.ChrootGroup, 0, len(r.Chroot))
	for _, name := range r.Chroot {
		g, ok := all[name]
		if !ok {
			return nil, e2err.Newf(e2err.Configuration, "result %q: unknown chroot group %q", r.Name, name)
		}
		out = append(out, g)
	}
	return out, nil
}

// RunReport is what Build returns per scheduled result.
type RunReport struct {
	ResultName string
	BuildID    string
	Skipped    bool
	Failed     bool
	Err        error
}

// Build runs every node in nodes (already in dependency-first topological
// order from Plan) through buildid resolution, collision detection, and
// the build pipeline. Nodes are grouped into dependency levels (a level's
// members depend only on results in earlier levels) and each level's
// members build concurrently, bounded by maxParallelBuilds -- buildid
// resolution and collision-claiming still happen under a single lock per
// node, and each node's chroot lock is already exclusive, so this satisfies
// §5's "buildid computation remains serial and per-chroot locking is
// honored" proviso for optional result-level parallelism.
func (e *Engine) Build(ctx context.Context, nodes []graph.Node, opts buildproc.Options) ([]RunReport, error) {
	collisions := graph.NewBuildIDRegistry()
	resolved := map[string]string{}
	var mu sync.Mutex
	var reportsMu sync.Mutex
	var reports []RunReport

	pipeline := buildproc.New(buildproc.Deps{
		Chroot:  e.Chroot,
		Cache:   cacheAdapter{c: e.Cache},
		Drivers: e.Drivers,
		Plugins: e.Plugins,
		Exec:    buildExecutor{ctrl: e.Chroot},
		Results: buildproc.ResultsServer{Name: "results"},
		TempDir: filepath.Join(e.Loaded.Root, ".e2", "tmp"),
	})

	proj := &buildproc.Project{
		Results: e.Loaded.Results,
		Sources: e.Loaded.Sources,
		Groups:  e.Loaded.ChrootGroups,
		Init:    e.Loaded.InitFiles,
	}
	opts.InitFiles = e.Loaded.InitFiles
	opts.ProjectRoot = e.Loaded.Root

	buildNode := func(node graph.Node) error {
		r := node.Result
		set := node.Mode.SourceSet()

		mu.Lock()
		buildID, workingCopy, env, err := e.resolveBuildID(ctx, r, set, resolved)
		if err == nil && !workingCopy {
			err = collisions.Claim(r.Name, buildID)
		}
		if err == nil {
			resolved[r.Name] = buildID
		}
		mu.Unlock()
		if err != nil {
			reportsMu.Lock()
			reports = append(reports, RunReport{ResultName: r.Name, Failed: true, Err: err})
			reportsMu.Unlock()
			return err
		}

		mu.Lock()
		dependSnapshot := make(map[string]string, len(resolved))
		for k, v := range resolved {
			dependSnapshot[k] = v
		}
		mu.Unlock()

		rCopy := *r
		rCopy.Env = env
		res, err := pipeline.BuildOne(ctx, graph.Node{Result: &rCopy, Mode: node.Mode}, buildID, workingCopy, proj, dependSnapshot, opts)
		report := RunReport{ResultName: r.Name, BuildID: buildID, Skipped: res.Skipped}
		if err != nil {
			report.Failed = true
			report.Err = err
		} else {
			log.Printf("engine: %s: buildid %s complete", r.Name, buildID)
		}
		reportsMu.Lock()
		reports = append(reports, report)
		reportsMu.Unlock()
		return err
	}

	for _, level := range levelsOf(nodes) {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelBuilds)
		for _, node := range level {
			node := node
			g.Go(func() error { return buildNode(graph.Node{Result: node.Result, Mode: node.Mode}) })
		}
		if err := g.Wait(); err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// levelsOf groups a dependency-first topological order into waves where
// each wave's members depend only on results already placed in an earlier
// wave, preserving nodes' relative order within a wave.
func levelsOf(nodes []graph.Node) [][]graph.Node {
	level := map[string]int{}
	maxLevel := 0
	for _, n := range nodes {
		lvl := 0
		for _, dep := range n.Result.Depends {
			if l, ok := level[dep]; ok && l+1 > lvl {
				lvl = l + 1
			}
		}
		level[n.Result.Name] = lvl
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	levels := make([][]graph.Node, maxLevel+1)
	for _, n := range nodes {
		lvl := level[n.Result.Name]
		levels[lvl] = append(levels[lvl], n)
	}
	return levels
}

// resultLocator is the cache reference under which a result's tarball is
// (or would be) stored.
func (e *Engine) resultLocator(buildID string) locator.Ref {
	return locator.Ref{Server: "results", Location: buildID + ".tar"}
}

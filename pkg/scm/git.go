// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package scm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/pkg/model"
)

// RegisterGit installs the git-source driver factory (§4.5): fetch uses
// clone, update uses fetch+fetch-tags+fast-forward-only merge.
func RegisterGit(r *Registry, deps Dependencies) {
	r.Register(model.SourceGit, func(src *model.Source, workDir string) (Driver, error) {
		return &gitDriver{src: src, workDir: workDir, deps: deps}, nil
	})
}

// RegisterGitRepo installs the gitrepo-source driver factory: identical to
// git except prepare_source materializes the entire .git directory rather
// than just the tree, so the build script can perform its own git
// operations (§4.5).
func RegisterGitRepo(r *Registry, deps Dependencies) {
	r.Register(model.SourceGitRepo, func(src *model.Source, workDir string) (Driver, error) {
		return &gitDriver{src: src, workDir: workDir, deps: deps, fullRepo: true}, nil
	})
}

type gitDriver struct {
	src      *model.Source
	workDir  string
	deps     Dependencies
	fullRepo bool
}

var _ Driver = (*gitDriver)(nil)

func (d *gitDriver) remoteURL() (string, error) {
	base, err := d.deps.ResolveServer(d.src.SCM.Server)
	if err != nil {
		return "", e2err.Wrapf(err, e2err.Configuration, "source %q: resolving server %q", d.src.Name, d.src.SCM.Server)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(d.src.SCM.Location, "/"), nil
}

func (d *gitDriver) open() (*git.Repository, error) {
	return git.PlainOpen(d.workDir)
}

func (d *gitDriver) FetchSource(ctx context.Context) error {
	if avail, _ := d.WorkingCopyAvailable(); avail {
		// fetch of an already-present working copy is a no-op (§7 policy).
		return nil
	}
	url, err := d.remoteURL()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.workDir), 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "source %q: creating working directory", d.src.Name)
	}
	_, err = git.PlainCloneContext(ctx, d.workDir, false, &git.CloneOptions{
		URL:        url,
		Tags:       git.AllTags,
		NoCheckout: false,
	})
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: cloning %s", d.src.Name, url)
	}
	return nil
}

func (d *gitDriver) UpdateSource(ctx context.Context) error {
	repo, err := d.open()
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: opening working copy", d.src.Name)
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: resolving remote", d.src.Name)
	}
	err = remote.FetchContext(ctx, &git.FetchOptions{Tags: git.AllTags})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return e2err.Wrapf(err, e2err.SCM, "source %q: fetch", d.src.Name)
	}
	if d.src.SCM.Branch == "" {
		return nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: opening worktree", d.src.Name)
	}
	head, err := repo.Head()
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: resolving HEAD", d.src.Name)
	}
	if head.Name().Short() != d.src.SCM.Branch {
		// Never clobber local work on an unexpected branch (§4.5).
		return nil
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", d.src.SCM.Branch), true)
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: resolving remote branch %s", d.src.Name, d.src.SCM.Branch)
	}
	isAncestor, err := isFastForward(repo, head.Hash(), remoteRef.Hash())
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: checking fast-forward", d.src.Name)
	}
	if !isAncestor {
		return e2err.Newf(e2err.SCM, "source %q: local branch %s has diverged from origin", d.src.Name, d.src.SCM.Branch)
	}
	// Advance the local branch itself and keep HEAD on it; checking out the
	// bare hash would leave HEAD detached from the tracked branch.
	branchRef := plumbing.NewBranchReferenceName(d.src.SCM.Branch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, remoteRef.Hash())); err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: fast-forwarding %s", d.src.Name, d.src.SCM.Branch)
	}
	err = wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: false})
	if err != nil {
		repo.Storer.SetReference(head)
		return e2err.Wrapf(err, e2err.SCM, "source %q: fast-forwarding %s", d.src.Name, d.src.SCM.Branch)
	}
	return nil
}

func isFastForward(repo *git.Repository, from, to plumbing.Hash) (bool, error) {
	if from == to {
		return true, nil
	}
	toCommit, err := repo.CommitObject(to)
	if err != nil {
		return false, err
	}
	isAncestor := false
	err = object.NewCommitPreorderIter(toCommit, nil, nil).ForEach(func(c *object.Commit) error {
		if c.Hash == from {
			isAncestor = true
			return nil
		}
		return nil
	})
	return isAncestor, err
}

func (d *gitDriver) resolveCommit(repo *git.Repository, set model.SourceSet) (plumbing.Hash, error) {
	switch set {
	case model.SetTag:
		ref, err := repo.Tag(d.src.SCM.Tag)
		if err != nil {
			return plumbing.ZeroHash, e2err.Wrapf(err, e2err.SCM, "source %q: tag %q not found", d.src.Name, d.src.SCM.Tag)
		}
		if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
			return tagObj.Target, nil
		}
		return ref.Hash(), nil
	case model.SetBranch:
		ref, err := repo.Reference(plumbing.NewBranchReferenceName(d.src.SCM.Branch), true)
		if err != nil {
			// Fall back to the remote-tracking ref if no local branch exists.
			ref, err = repo.Reference(plumbing.NewRemoteReferenceName("origin", d.src.SCM.Branch), true)
			if err != nil {
				return plumbing.ZeroHash, e2err.Wrapf(err, e2err.SCM, "source %q: branch %q not found", d.src.Name, d.src.SCM.Branch)
			}
		}
		return ref.Hash(), nil
	default:
		return plumbing.ZeroHash, e2err.Newf(e2err.Configuration, "source %q: unsupported sourceset %q for git", d.src.Name, set)
	}
}

func (d *gitDriver) SourceID(ctx context.Context, set model.SourceSet) (string, error) {
	if set == model.SetWorkingCopy {
		return model.WorkingCopySourceID, nil
	}
	repo, err := d.open()
	if err != nil {
		return "", e2err.Wrapf(err, e2err.SCM, "source %q: opening working copy", d.src.Name)
	}
	commit, err := d.resolveCommit(repo, set)
	if err != nil {
		return "", err
	}
	if set == model.SetTag && d.deps.CheckRemoteTag {
		if err := d.verifyRemoteTag(ctx, commit); err != nil {
			return "", err
		}
	}
	b := hashx.New(hashx.SHA256).Field(d.src.Name).Field(string(d.src.Type)).Field(d.src.Env.ID())
	for _, l := range d.src.Licences {
		id, err := d.deps.ResolveLicenceID(l)
		if err != nil {
			return "", e2err.Wrapf(err, e2err.Identity, "source %q: licence %q", d.src.Name, l)
		}
		b.Field(id)
	}
	// The sourceset itself is mixed into the hash so tag and branch modes
	// that happen to resolve to the same commit still produce distinct
	// sourceids (§8 scenario S6).
	b.Field(string(set)).Field(d.src.SCM.Server).Field(d.src.SCM.Location).Field(commit.String())
	return b.Sum(), nil
}

// verifyRemoteTag re-fetches tag refs and confirms the tag still points at
// commit on the remote, catching a tag that was force-moved after the
// working copy's last update (§4.5, "tag mode may verify remote tag
// identity").
func (d *gitDriver) verifyRemoteTag(ctx context.Context, commit plumbing.Hash) error {
	repo, err := d.open()
	if err != nil {
		return err
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: resolving remote", d.src.Name)
	}
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: listing remote refs", d.src.Name)
	}
	want := plumbing.NewTagReferenceName(d.src.SCM.Tag)
	for _, ref := range refs {
		if ref.Name() == want {
			if ref.Hash() == commit {
				return nil
			}
			if tagObj, err := repo.TagObject(ref.Hash()); err == nil && tagObj.Target == commit {
				return nil
			}
			return e2err.Newf(e2err.SCM, "source %q: tag %q differs from remote", d.src.Name, d.src.SCM.Tag)
		}
	}
	return e2err.Newf(e2err.SCM, "source %q: tag %q not found on remote", d.src.Name, d.src.SCM.Tag)
}

func (d *gitDriver) PrepareSource(ctx context.Context, set model.SourceSet, buildPath string) error {
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return e2err.Wrapf(err, e2err.Resource, "source %q: creating build path", d.src.Name)
	}
	if set == model.SetWorkingCopy {
		return copyWorkingTree(d.workDir, buildPath, d.fullRepo)
	}
	repo, err := d.open()
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: opening working copy", d.src.Name)
	}
	commit, err := d.resolveCommit(repo, set)
	if err != nil {
		return err
	}
	commitObj, err := repo.CommitObject(commit)
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: loading commit %s", d.src.Name, commit)
	}
	tree, err := commitObj.Tree()
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: loading tree", d.src.Name)
	}
	if err := exportTree(tree, buildPath); err != nil {
		return e2err.Wrapf(err, e2err.Build, "source %q: exporting tree", d.src.Name)
	}
	if d.fullRepo {
		if err := copyDir(filepath.Join(d.workDir, ".git"), filepath.Join(buildPath, ".git")); err != nil {
			return e2err.Wrapf(err, e2err.Build, "source %q: copying .git metadata", d.src.Name)
		}
	}
	return nil
}

func exportTree(tree *object.Tree, dest string) error {
	return tree.Files().ForEach(func(f *object.File) error {
		target := filepath.Join(dest, f.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		r, err := f.Reader()
		if err != nil {
			return err
		}
		defer r.Close()
		mode := os.FileMode(0o644)
		if f.Mode == filemodeExecutable {
			mode = 0o755
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, r)
		return err
	})
}

// filemodeExecutable mirrors go-git's filemode.Executable without an extra
// import just for one constant comparison.
const filemodeExecutable = 0o100755

func copyWorkingTree(src, dest string, includeGit bool) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == ".git" && !includeGit {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func (d *gitDriver) WorkingCopyAvailable() (bool, error) {
	if _, err := os.Stat(filepath.Join(d.workDir, ".git")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *gitDriver) CheckWorkingCopy(ctx context.Context) error {
	repo, err := d.open()
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: opening working copy", d.src.Name)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: opening worktree", d.src.Name)
	}
	status, err := wt.Status()
	if err != nil {
		return e2err.Wrapf(err, e2err.SCM, "source %q: computing status", d.src.Name)
	}
	if !status.IsClean() {
		return e2err.Newf(e2err.SCM, "source %q: working copy has uncommitted changes", d.src.Name)
	}
	return nil
}

func (d *gitDriver) Display() []string {
	return []string{fmt.Sprintf("source %s (%s) %s:%s branch=%s tag=%s",
		d.src.Name, d.src.Type, d.src.SCM.Server, d.src.SCM.Location, d.src.SCM.Branch, d.src.SCM.Tag)}
}

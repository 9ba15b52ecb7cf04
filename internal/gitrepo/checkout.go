// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gitrepo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/internal/registry"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

var fetchRefSpecs = []ggitcfg.RefSpec{
	"+refs/heads/*:refs/remotes/origin/*",
	"+refs/tags/*:refs/tags/*",
}

// Checkout is a cached working copy positioned on its tracked branch.
type Checkout struct {
	Path   string
	Branch string

	repository *git.Repository
	logger     *slog.Logger
}

// Sync clones repo into the cache, or fetches when a checkout exists,
// and leaves the worktree clean at the tip of the tracked branch.
//
// The branch is the registry branch when set, else the remote default
// branch (cached per repository), else FallbackBranch.
func (c *Client) Sync(ctx context.Context, repo registry.Repository) (*Checkout, error) {
	path := c.Path(repo)
	url := c.URL(repo)
	logger := insiderslog.WithRepository(c.logger, repo.ID(), repo.Distribution)

	auth, err := c.auth(url)
	if err != nil {
		return nil, err
	}

	var repository *git.Repository
	if _, statErr := os.Stat(filepath.Join(path, ".git")); statErr != nil {
		logger.Info("cloning repository", slog.String("url", url), slog.String("path", path))
		if err := os.RemoveAll(path); err != nil {
			return nil, insiderserrors.Wrap(err, "remove stale checkout")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, insiderserrors.Wrap(err, "create checkout directory")
		}
		opts := &git.CloneOptions{URL: url, Auth: auth, Tags: git.AllTags}
		if repo.Branch != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(repo.Branch)
		}
		repository, err = git.PlainCloneContext(ctx, path, false, opts)
		if err != nil {
			os.RemoveAll(path)
			return nil, &insiderserrors.UpstreamUnavailableError{Repository: repo.ID(), URL: url, Cause: err}
		}
		if repo.Branch == "" {
			if head, err := repository.Head(); err == nil && head.Name().IsBranch() {
				c.rememberDefaultBranch(repo, head.Name().Short())
			}
		}
	} else {
		repository, err = git.PlainOpen(path)
		if err != nil {
			return nil, insiderserrors.Wrapf(err, "open checkout %s", path)
		}
		logger.Debug("fetching repository", slog.String("path", path))
		err = repository.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   fetchRefSpecs,
			Auth:       auth,
			Tags:       git.AllTags,
			Force:      true,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, &insiderserrors.UpstreamUnavailableError{Repository: repo.ID(), URL: url, Cause: err}
		}
	}

	branch := c.resolveBranch(ctx, repo, repository)
	co := &Checkout{
		Path:       path,
		Branch:     branch,
		repository: repository,
		logger:     logger,
	}
	if err := co.resetToRemote(); err != nil {
		return nil, err
	}
	return co, nil
}

func (c *Client) resolveBranch(ctx context.Context, repo registry.Repository, repository *git.Repository) string {
	if repo.Branch != "" {
		return repo.Branch
	}
	if branch := c.cachedDefaultBranch(repo); branch != "" {
		return branch
	}
	if branch := c.remoteDefaultBranch(ctx, repo, repository); branch != "" {
		c.rememberDefaultBranch(repo, branch)
		return branch
	}
	return FallbackBranch
}

// remoteDefaultBranch asks the remote for its HEAD symref and falls back
// to a local refs/remotes/origin/HEAD.
func (c *Client) remoteDefaultBranch(ctx context.Context, repo registry.Repository, repository *git.Repository) string {
	if refs, err := c.listRemote(ctx, c.URL(repo)); err == nil {
		for _, ref := range refs {
			if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
				return ref.Target().Short()
			}
		}
	}
	if ref, err := repository.Reference(plumbing.ReferenceName("refs/remotes/origin/HEAD"), false); err == nil {
		if ref.Type() == plumbing.SymbolicReference {
			return plumbing.ReferenceName(ref.Target()).Short()
		}
	}
	return ""
}

// resetToRemote points the local branch at origin/<branch> and cleans
// the worktree.
func (co *Checkout) resetToRemote() error {
	remoteRef, err := co.repository.Reference(plumbing.NewRemoteReferenceName("origin", co.Branch), true)
	if err != nil {
		return insiderserrors.Wrapf(err, "branch %s not found on remote", co.Branch)
	}

	wt, err := co.repository.Worktree()
	if err != nil {
		return insiderserrors.Wrap(err, "worktree")
	}

	localName := plumbing.NewBranchReferenceName(co.Branch)
	if _, err := co.repository.Reference(localName, false); err != nil {
		if err := co.repository.Storer.SetReference(plumbing.NewHashReference(localName, remoteRef.Hash())); err != nil {
			return insiderserrors.Wrapf(err, "create branch %s", co.Branch)
		}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: localName, Force: true}); err != nil {
		return insiderserrors.Wrapf(err, "checkout %s", co.Branch)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return insiderserrors.Wrapf(err, "reset %s", co.Branch)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return insiderserrors.Wrap(err, "clean worktree")
	}
	return nil
}

// CheckoutTag detaches the worktree at the commit tag points to.
func (co *Checkout) CheckoutTag(tag string) error {
	ref, err := co.repository.Tag(tag)
	if err != nil {
		return insiderserrors.Wrapf(err, "tag %s", tag)
	}

	hash := ref.Hash()
	if obj, err := co.repository.TagObject(hash); err == nil {
		commit, err := obj.Commit()
		if err != nil {
			return insiderserrors.Wrapf(err, "tag %s does not point to a commit", tag)
		}
		hash = commit.Hash
	} else if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return insiderserrors.Wrapf(err, "tag %s", tag)
	}

	wt, err := co.repository.Worktree()
	if err != nil {
		return insiderserrors.Wrap(err, "worktree")
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return insiderserrors.Wrapf(err, "checkout tag %s", tag)
	}
	co.logger.Debug("checked out tag", slog.String(insiderslog.TagKey, tag), slog.String("commit", hash.String()[:8]))
	return nil
}

// Restore puts the worktree back on its branch and removes untracked
// files, including build output.
func (co *Checkout) Restore() error {
	wt, err := co.repository.Worktree()
	if err != nil {
		return insiderserrors.Wrap(err, "worktree")
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(co.Branch), Force: true}); err != nil {
		return insiderserrors.Wrapf(err, "restore %s", co.Branch)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return insiderserrors.Wrap(err, "clean worktree")
	}
	return nil
}

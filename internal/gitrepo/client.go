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

// Package gitrepo talks to the upstream git repositories: it lists
// remote tags without cloning and maintains one cached checkout per
// watched repository for building.
package gitrepo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"

	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/internal/registry"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

// FallbackBranch is used when neither the registry nor the remote names
// a branch.
const FallbackBranch = "main"

// Options configures a Client.
type Options struct {
	// Dir is the root under which checkouts are cached.
	Dir string

	// CloneURL is the URL template; {namespace} and {project} are
	// substituted.
	CloneURL string

	// SSHKeyPath selects a private key for SSH remotes. When empty the
	// SSH agent is used.
	SSHKeyPath string

	// Token authenticates HTTPS remotes.
	Token string

	Logger *slog.Logger
}

// Client lists tags and manages cached checkouts.
type Client struct {
	dir        string
	cloneURL   string
	sshKeyPath string
	token      string
	logger     *slog.Logger

	mu              sync.Mutex
	defaultBranches map[string]string
}

// New creates a Client.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		dir:             opts.Dir,
		cloneURL:        opts.CloneURL,
		sshKeyPath:      opts.SSHKeyPath,
		token:           opts.Token,
		logger:          insiderslog.WithComponent(logger, "git"),
		defaultBranches: make(map[string]string),
	}
}

// URL returns the remote URL for repo.
func (c *Client) URL(repo registry.Repository) string {
	r := strings.NewReplacer("{namespace}", repo.Namespace, "{project}", repo.Project)
	return r.Replace(c.cloneURL)
}

// Path returns the cached checkout directory for repo.
func (c *Client) Path(repo registry.Repository) string {
	return filepath.Join(c.dir, strings.ToLower(repo.Namespace), strings.ToLower(repo.Project))
}

// Tags lists the tag names advertised by the remote. A remote with no
// refs has no tags. Any transport failure is an UpstreamUnavailableError.
func (c *Client) Tags(ctx context.Context, repo registry.Repository) ([]string, error) {
	url := c.URL(repo)
	refs, err := c.listRemote(ctx, url)
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, nil
		}
		return nil, &insiderserrors.UpstreamUnavailableError{Repository: repo.ID(), URL: url, Cause: err}
	}

	seen := make(map[string]struct{})
	var tags []string
	for _, ref := range refs {
		if !ref.Name().IsTag() {
			continue
		}
		name := strings.TrimSuffix(ref.Name().Short(), "^{}")
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tags = append(tags, name)
	}
	sort.Strings(tags)
	return tags, nil
}

func (c *Client) listRemote(ctx context.Context, url string) ([]*plumbing.Reference, error) {
	auth, err := c.auth(url)
	if err != nil {
		return nil, err
	}
	remote := git.NewRemote(memory.NewStorage(), &ggitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	return remote.ListContext(ctx, &git.ListOptions{Auth: auth})
}

// Evict removes the cached checkout and default branch for repo.
func (c *Client) Evict(repo registry.Repository) error {
	c.mu.Lock()
	delete(c.defaultBranches, strings.ToLower(repo.ID()))
	c.mu.Unlock()

	path := c.Path(repo)
	if err := os.RemoveAll(path); err != nil {
		return insiderserrors.Wrapf(err, "remove checkout %s", path)
	}
	c.logger.Debug("evicted checkout", slog.String(insiderslog.RepositoryKey, repo.ID()), slog.String("path", path))
	return nil
}

// auth selects credentials by URL scheme.
func (c *Client) auth(url string) (transport.AuthMethod, error) {
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		if c.token == "" {
			return nil, nil
		}
		return &githttp.BasicAuth{Username: "token", Password: c.token}, nil
	case strings.HasPrefix(url, "ssh://"), isSCPLike(url):
		if c.sshKeyPath == "" {
			return nil, nil
		}
		keys, err := ssh.NewPublicKeysFromFile("git", c.sshKeyPath, "")
		if err != nil {
			return nil, insiderserrors.Wrapf(err, "load ssh key %s", c.sshKeyPath)
		}
		return keys, nil
	}
	return nil, nil
}

// isSCPLike matches "user@host:path" remotes.
func isSCPLike(url string) bool {
	at := strings.Index(url, "@")
	colon := strings.Index(url, ":")
	return at > 0 && colon > at && !strings.Contains(url[:colon], "/")
}

func (c *Client) cachedDefaultBranch(repo registry.Repository) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultBranches[strings.ToLower(repo.ID())]
}

func (c *Client) rememberDefaultBranch(repo registry.Repository, branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultBranches[strings.ToLower(repo.ID())] = branch
}

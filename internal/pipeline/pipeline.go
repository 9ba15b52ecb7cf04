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

// Package pipeline builds a release tag of a registered repository and
// publishes the resulting distribution files to the configured indexes.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/gitrepo"
	"github.com/tombee/insiders/internal/index"
	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/internal/registry"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

// Workspace is a checkout that can be moved to a tag and back.
type Workspace interface {
	Dir() string
	CheckoutTag(tag string) error
	Restore() error
}

// Source prepares a clean workspace for a repository.
type Source interface {
	Sync(ctx context.Context, repo registry.Repository) (Workspace, error)
}

// Uploader publishes one file to one index.
type Uploader interface {
	Upload(ctx context.Context, target index.UploadTarget, path string) error
}

// SecretLookup resolves a secret, returning fallback when no backend holds it.
type SecretLookup interface {
	Lookup(ctx context.Context, key, fallback string) (string, error)
}

// Job identifies one build of one tag.
type Job struct {
	ID            string
	Repository    registry.Repository
	Tag           string
	ArtifactPaths []string
}

// Result describes a completed run. Published maps index name to whether
// every artifact reached that index.
type Result struct {
	Job       Job
	Artifacts []string
	Published map[string]bool
	Duration  time.Duration
}

// Config configures a Pipeline.
type Config struct {
	Build   config.BuildConfig
	Targets []config.IndexTarget
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithLocks shares a KeyedMutex with other callers, such as the watcher.
func WithLocks(locks *KeyedMutex) Option {
	return func(p *Pipeline) {
		p.locks = locks
	}
}

// WithSecrets sets the resolver consulted for index passwords.
func WithSecrets(secrets SecretLookup) Option {
	return func(p *Pipeline) {
		p.secrets = secrets
	}
}

// Pipeline checks out, builds and publishes release tags.
type Pipeline struct {
	source   Source
	uploader Uploader
	secrets  SecretLookup
	locks    *KeyedMutex
	cfg      Config
	logger   *slog.Logger
}

// New creates a Pipeline. Zero build settings fall back to the config
// package defaults.
func New(source Source, uploader Uploader, cfg Config, opts ...Option) *Pipeline {
	defaults := config.Default().Build
	if cfg.Build.Command == "" {
		cfg.Build.Command = defaults.Command
	}
	if cfg.Build.Timeout <= 0 {
		cfg.Build.Timeout = defaults.Timeout
	}
	if cfg.Build.OutputDir == "" {
		cfg.Build.OutputDir = defaults.OutputDir
	}

	p := &Pipeline{
		source:   source,
		uploader: uploader,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.locks == nil {
		p.locks = NewKeyedMutex()
	}
	p.logger = insiderslog.WithComponent(p.logger, "pipeline")
	return p
}

// Locks returns the per-distribution lock used by Run.
func (p *Pipeline) Locks() *KeyedMutex {
	return p.locks
}

// Run builds tag of repo and publishes the artifacts. Only one run per
// distribution proceeds at a time. The checkout is returned to its
// branch on every exit path.
//
// A partial publish returns both the Result and a *errors.PublishFailedError.
func (p *Pipeline) Run(ctx context.Context, repo registry.Repository, tag string) (*Result, error) {
	start := time.Now()
	job := &Job{ID: uuid.NewString(), Repository: repo, Tag: tag}
	logger := insiderslog.WithJob(
		insiderslog.WithRepository(p.logger, repo.ID(), repo.Distribution),
		job.ID, tag,
	)

	unlock, err := p.locks.Lock(ctx, index.NormalizeName(repo.Distribution))
	if err != nil {
		return nil, err
	}
	defer unlock()

	logger.Info("starting build job")

	ws, err := p.source.Sync(ctx, repo)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Restore(); err != nil {
			logger.Warn("failed to restore checkout", insiderslog.Error(err))
		}
	}()

	if err := ws.CheckoutTag(tag); err != nil {
		return nil, insiderserrors.Wrapf(err, "check out %s", tag)
	}

	artifacts, err := p.build(ctx, logger, job, ws.Dir())
	if err != nil {
		return nil, err
	}
	job.ArtifactPaths = artifacts

	published, err := p.publish(ctx, logger, job)
	result := &Result{
		Job:       *job,
		Artifacts: artifacts,
		Published: published,
		Duration:  time.Since(start),
	}
	if err != nil {
		logger.Error("publish failed", insiderslog.Error(err), insiderslog.Duration(result.Duration))
		return result, err
	}
	logger.Info("build job completed", insiderslog.Duration(result.Duration))
	return result, nil
}

// GitSource adapts a gitrepo.Client to Source.
func GitSource(client *gitrepo.Client) Source {
	return gitSource{client: client}
}

type gitSource struct {
	client *gitrepo.Client
}

func (s gitSource) Sync(ctx context.Context, repo registry.Repository) (Workspace, error) {
	co, err := s.client.Sync(ctx, repo)
	if err != nil {
		return nil, err
	}
	return gitWorkspace{co}, nil
}

type gitWorkspace struct {
	*gitrepo.Checkout
}

func (w gitWorkspace) Dir() string { return w.Path }

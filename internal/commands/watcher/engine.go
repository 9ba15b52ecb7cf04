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

package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/gitrepo"
	"github.com/tombee/insiders/internal/index"
	"github.com/tombee/insiders/internal/oracle"
	"github.com/tombee/insiders/internal/pipeline"
	"github.com/tombee/insiders/internal/registry"
	"github.com/tombee/insiders/internal/secrets"
	"github.com/tombee/insiders/internal/watcher"
	"github.com/tombee/insiders/pkg/httpclient"
)

// engine is the registry and loop wired from configuration. The watcher
// daemon and 'insiders update' share it.
type engine struct {
	registry *registry.Registry
	loop     *watcher.Loop
}

func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...watcher.Option) (*engine, error) {
	resolver := secrets.Default()

	token, err := resolver.Lookup(ctx, secrets.GitTokenKey, cfg.Git.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git token: %w", err)
	}
	git := gitrepo.New(gitrepo.Options{
		Dir:        cfg.Paths.Repos,
		CloneURL:   cfg.Git.CloneURL,
		SSHKeyPath: cfg.Git.SSHKeyPath,
		Token:      token,
		Logger:     logger,
	})

	hcfg := httpclient.DefaultConfig()
	hcfg.Logger = logger
	if v, _, _ := shared.GetVersion(); v != "" {
		hcfg.UserAgent = "insiders/" + v
	}
	hc, err := httpclient.New(hcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index client: %w", err)
	}

	obs := oracle.New(git, index.NewClient(cfg.Watcher.IndexURL, hc),
		oracle.WithPrereleases(cfg.Watcher.Prereleases == config.PrereleasesInclude),
		oracle.WithLogger(logger),
	)
	builder := pipeline.New(pipeline.GitSource(git), index.NewUploader(hc),
		pipeline.Config{Build: cfg.Build, Targets: cfg.PublishTargets()},
		pipeline.WithLogger(logger),
		pipeline.WithSecrets(resolver),
	)
	reg := registry.New(cfg.Paths.Registry,
		registry.WithLogger(logger),
		registry.WithEvictor(git),
	)

	opts = append([]watcher.Option{
		watcher.WithInterval(cfg.Watcher.Interval),
		watcher.WithLogger(logger),
	}, opts...)

	return &engine{
		registry: reg,
		loop:     watcher.New(reg, obs, builder, opts...),
	}, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

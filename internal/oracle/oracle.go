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

// Package oracle decides, per watched repository, whether the newest
// upstream release still has to be built and published.
package oracle

import (
	"context"
	"log/slog"

	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/internal/pep440"
	"github.com/tombee/insiders/internal/registry"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

// Reasons reported in Observation.SkipReason.
const (
	SkipNoTags             = "no release tags"
	SkipPrereleaseExcluded = "prerelease excluded"
	SkipAlreadyPublished   = "already published"
)

// TagSource lists release tags on the upstream repository.
type TagSource interface {
	Tags(ctx context.Context, repo registry.Repository) ([]string, error)
}

// VersionSource lists the versions of a distribution published locally.
type VersionSource interface {
	Versions(ctx context.Context, distribution string) ([]string, error)
}

// Observation is the result of comparing upstream and local state.
type Observation struct {
	Repository         registry.Repository
	LatestTag          string
	NormalizedVersion  string
	LatestLocalVersion string
	LocalVersions      []string
	IsPrerelease       bool
	BuildRequired      bool
	SkipReason         string
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithPrereleases sets whether pre-release tags may trigger builds.
func WithPrereleases(include bool) Option {
	return func(o *Oracle) {
		o.includePrereleases = include
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger
	}
}

// Oracle compares upstream tags with locally published versions.
type Oracle struct {
	tags               TagSource
	versions           VersionSource
	includePrereleases bool
	logger             *slog.Logger
}

// New creates an Oracle. Pre-releases are included by default.
func New(tags TagSource, versions VersionSource, opts ...Option) *Oracle {
	o := &Oracle{
		tags:               tags,
		versions:           versions,
		includePrereleases: true,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = insiderslog.WithComponent(o.logger, "oracle")
	return o
}

// Observe queries both sides for repo. The latest tag is the greatest
// tag by PEP 440 ordering; tags that are not versions are ignored. A
// build is required when that version is absent from the local index.
func (o *Oracle) Observe(ctx context.Context, repo registry.Repository) (Observation, error) {
	obs := Observation{Repository: repo}
	logger := insiderslog.WithRepository(o.logger, repo.ID(), repo.Distribution)

	tags, err := o.tags.Tags(ctx, repo)
	if err != nil {
		var upErr *insiderserrors.UpstreamUnavailableError
		if !insiderserrors.As(err, &upErr) {
			err = &insiderserrors.UpstreamUnavailableError{Repository: repo.ID(), Cause: err}
		}
		return obs, err
	}

	tag, version, ok := Latest(tags)
	if !ok {
		obs.SkipReason = SkipNoTags
		logger.Debug("no release tags", slog.Int("tags", len(tags)))
		return obs, nil
	}
	obs.LatestTag = tag
	obs.NormalizedVersion = version.String()
	obs.IsPrerelease = version.IsPrerelease()

	local, err := o.versions.Versions(ctx, repo.Distribution)
	if err != nil {
		var idxErr *insiderserrors.IndexUnavailableError
		if !insiderserrors.As(err, &idxErr) {
			err = &insiderserrors.IndexUnavailableError{Distribution: repo.Distribution, Cause: err}
		}
		return obs, err
	}
	obs.LocalVersions = local

	var latestLocal *pep440.Version
	published := false
	for _, s := range local {
		lv, err := pep440.Parse(s)
		if err != nil {
			if pep440.Same(s, obs.NormalizedVersion) {
				published = true
			}
			continue
		}
		if lv.Equal(version) {
			published = true
		}
		if latestLocal == nil || pep440.Less(*latestLocal, lv) {
			lv := lv
			latestLocal = &lv
		}
	}
	if latestLocal != nil {
		obs.LatestLocalVersion = latestLocal.String()
	}

	switch {
	case published:
		obs.SkipReason = SkipAlreadyPublished
	case obs.IsPrerelease && !o.includePrereleases:
		obs.SkipReason = SkipPrereleaseExcluded
	default:
		obs.BuildRequired = true
	}

	if latestLocal != nil && pep440.Less(version, *latestLocal) {
		logger.Warn("latest upstream tag is older than the latest local version",
			slog.String(insiderslog.TagKey, tag),
			slog.String("local_version", obs.LatestLocalVersion))
	}

	logger.Debug("observed repository",
		slog.String(insiderslog.TagKey, tag),
		slog.String("version", obs.NormalizedVersion),
		slog.Bool("build_required", obs.BuildRequired),
		slog.String("skip_reason", obs.SkipReason))
	return obs, nil
}

// Latest returns the tag with the greatest version among tags.
func Latest(tags []string) (string, pep440.Version, bool) {
	var (
		bestTag string
		best    pep440.Version
		found   bool
	)
	for _, tag := range tags {
		v, err := pep440.ParseTag(tag)
		if err != nil {
			continue
		}
		if !found || pep440.Less(best, v) {
			bestTag, best, found = tag, v, true
		}
	}
	return bestTag, best, found
}

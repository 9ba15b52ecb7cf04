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

// Package watcher polls registered repositories for new release tags and
// runs the build and publish pipeline for each one that is missing from
// the index.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/internal/oracle"
	"github.com/tombee/insiders/internal/pipeline"
	"github.com/tombee/insiders/internal/registry"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

// DefaultInterval is the sleep between cycles.
const DefaultInterval = 30 * time.Minute

// Registry lists the repositories to watch.
type Registry interface {
	List() ([]registry.Repository, error)
}

// Observer decides whether a repository needs a build.
type Observer interface {
	Observe(ctx context.Context, repo registry.Repository) (oracle.Observation, error)
}

// Builder builds and publishes one tag.
type Builder interface {
	Run(ctx context.Context, repo registry.Repository, tag string) (*pipeline.Result, error)
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the sleep between cycles.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithDryRun reports which builds would run without running them.
func WithDryRun(dryRun bool) Option {
	return func(l *Loop) {
		l.dryRun = dryRun
	}
}

// WithRegistryWatch wakes the sleeping loop when the file at path
// changes. An empty path disables watching.
func WithRegistryWatch(path string) Option {
	return func(l *Loop) {
		l.watchPath = path
	}
}

// WithCycleHook calls fn after every cycle of Run.
func WithCycleHook(fn func(*CycleReport)) Option {
	return func(l *Loop) {
		l.onCycle = fn
	}
}

// WithProgress calls fn before each repository is processed.
func WithProgress(fn func(registry.Repository)) Option {
	return func(l *Loop) {
		l.onRepo = fn
	}
}

// Loop runs observe/build cycles over the registry. Repositories are
// processed one at a time in registry order.
type Loop struct {
	registry  Registry
	oracle    Observer
	pipeline  Builder
	interval  time.Duration
	dryRun    bool
	watchPath string
	onCycle   func(*CycleReport)
	onRepo    func(registry.Repository)
	logger    *slog.Logger
}

// New creates a Loop.
func New(reg Registry, obs Observer, builder Builder, opts ...Option) *Loop {
	l := &Loop{
		registry: reg,
		oracle:   obs,
		pipeline: builder,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = insiderslog.WithComponent(l.logger, "watcher")
	return l
}

// Run executes cycles until ctx is cancelled. A build in progress when
// ctx is cancelled runs to completion; no further repositories are
// started.
func (l *Loop) Run(ctx context.Context) error {
	var wake <-chan struct{}
	if l.watchPath != "" {
		w, err := watchFile(ctx, l.watchPath, l.logger)
		if err != nil {
			l.logger.Warn("registry changes will only be seen on the next cycle", insiderslog.Error(err))
		} else {
			wake = w
		}
	}

	l.logger.Info("watcher started",
		slog.Duration("interval", l.interval),
		slog.Bool("dry_run", l.dryRun),
	)

	for {
		report := l.cycle(ctx, nil)
		recordCycle(report)
		if l.onCycle != nil {
			l.onCycle(report)
		}

		if ctx.Err() != nil {
			l.logger.Info("watcher stopped")
			return nil
		}

		l.logger.Debug("sleeping until next cycle", slog.Duration("interval", l.interval))
		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("watcher stopped")
			return nil
		case <-timer.C:
		case <-wake:
			timer.Stop()
			l.logger.Info("registry changed, starting cycle early")
		}
	}
}

// RunOnce runs a single cycle over the repositories matching filter. A
// filter entry is a repository ID or a glob such as "acme/*"; matching is
// case-insensitive. An empty filter selects every repository.
//
// A filter entry without glob characters that matches nothing yields a
// *errors.NotFoundError.
func (l *Loop) RunOnce(ctx context.Context, filter ...string) (*CycleReport, error) {
	patterns := make([]string, 0, len(filter))
	for _, f := range filter {
		p := strings.ToLower(strings.TrimSpace(f))
		if !doublestar.ValidatePattern(p) {
			return nil, &insiderserrors.ConfigError{Key: "filter", Reason: fmt.Sprintf("invalid pattern %q", f)}
		}
		patterns = append(patterns, p)
	}

	report := l.cycle(ctx, patterns)
	if report.Err != nil {
		return report, report.Err
	}
	if err := unmatched(patterns, report); err != nil {
		return report, err
	}
	return report, nil
}

// cycle processes every repository selected by patterns.
func (l *Loop) cycle(ctx context.Context, patterns []string) *CycleReport {
	report := &CycleReport{StartedAt: time.Now()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	repos, err := l.registry.List()
	if err != nil {
		l.logger.Error("failed to read registry, skipping cycle", insiderslog.Error(err))
		report.Err = err
		return report
	}

	for _, repo := range repos {
		if !selected(repo, patterns) {
			continue
		}
		if ctx.Err() != nil {
			l.logger.Info("cycle interrupted", slog.Int("remaining", len(repos)-len(report.Repositories)))
			break
		}
		if l.onRepo != nil {
			l.onRepo(repo)
		}
		rr := l.process(ctx, repo)
		recordRepository(&rr)
		report.Repositories = append(report.Repositories, rr)
	}

	l.logger.Info("cycle completed",
		slog.Int("repositories", len(report.Repositories)),
		slog.Int("built", report.Built()),
		slog.Int("failed", report.Failed()),
		insiderslog.Duration(time.Since(report.StartedAt)),
	)
	return report
}

// process observes one repository and builds it when required. Failures
// are recorded in the report and never abort the cycle.
func (l *Loop) process(ctx context.Context, repo registry.Repository) (rr RepositoryReport) {
	start := time.Now()
	logger := insiderslog.WithRepository(l.logger, repo.ID(), repo.Distribution)
	rr = RepositoryReport{Repository: repo.ID(), Distribution: repo.Distribution}
	defer func() {
		rr.Duration = time.Since(start)
	}()

	fail := func(stage string, err error) RepositoryReport {
		logger.Error("repository processing failed",
			slog.String("operation", stage),
			insiderslog.Error(err),
		)
		rr.Outcome = OutcomeFailed
		rr.Stage = stage
		rr.Err = err
		rr.Error = err.Error()
		return rr
	}

	obs, err := l.oracle.Observe(ctx, repo)
	if err != nil {
		return fail(StageObserve, err)
	}
	rr.Tag = obs.LatestTag
	rr.Version = obs.NormalizedVersion
	rr.LatestLocal = obs.LatestLocalVersion

	if !obs.BuildRequired {
		logger.Debug("no build required",
			slog.String(insiderslog.TagKey, obs.LatestTag),
			slog.String("reason", obs.SkipReason),
		)
		rr.Outcome = OutcomeSkipped
		rr.Reason = obs.SkipReason
		return rr
	}

	if l.dryRun {
		logger.Info("would build", slog.String(insiderslog.TagKey, obs.LatestTag), slog.String("version", obs.NormalizedVersion))
		rr.Outcome = OutcomeWouldBuild
		return rr
	}

	logger.Info("new release detected",
		slog.String(insiderslog.TagKey, obs.LatestTag),
		slog.String("version", obs.NormalizedVersion),
		slog.String("latest_local", obs.LatestLocalVersion),
	)

	// Uploads must not be cut off half way by a shutdown signal.
	result, err := l.pipeline.Run(context.WithoutCancel(ctx), repo, obs.LatestTag)
	if result != nil {
		rr.JobID = result.Job.ID
		rr.Artifacts = result.Artifacts
		rr.Published = result.Published
	}
	if err != nil {
		var publishErr *insiderserrors.PublishFailedError
		if errors.As(err, &publishErr) {
			return fail(StagePublish, err)
		}
		return fail(StageBuild, err)
	}

	rr.Outcome = OutcomeBuilt
	return rr
}

func selected(repo registry.Repository, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	id := strings.ToLower(repo.ID())
	dist := strings.ToLower(repo.Distribution)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, id); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, dist); ok {
			return true
		}
	}
	return false
}

// unmatched returns a NotFoundError for the first literal pattern that
// selected no repository.
func unmatched(patterns []string, report *CycleReport) error {
	for _, p := range patterns {
		if strings.ContainsAny(p, "*?[{") {
			continue
		}
		found := false
		for _, rr := range report.Repositories {
			if strings.EqualFold(rr.Repository, p) || strings.EqualFold(rr.Distribution, p) {
				found = true
				break
			}
		}
		if !found {
			return &insiderserrors.NotFoundError{Resource: "repository", ID: p}
		}
	}
	return nil
}

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

// Package watcher provides the 'insiders watcher' commands and
// 'insiders update'.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/daemon"
	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/lifecycle"
	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/internal/watcher"
)

type runFlags struct {
	interval    time.Duration
	indexURL    string
	metricsAddr string
}

func (f *runFlags) apply(cfg *config.Config) {
	if f.interval > 0 {
		cfg.Watcher.Interval = f.interval
	}
	if f.indexURL != "" {
		cfg.Watcher.IndexURL = f.indexURL
	}
	if f.metricsAddr != "" {
		cfg.Watcher.MetricsAddr = f.metricsAddr
	}
}

// NewCommand creates the watcher command group.
func NewCommand() *cobra.Command {
	flags := &runFlags{}

	return daemon.NewGroup(daemon.Definition{
		Kind:  "watcher",
		Short: "Manage the release watcher",
		Long: `Commands for managing the release watcher.

The watcher periodically lists the tags of every registered repository,
and builds and publishes each new release that the index does not have
yet. Editing the registry ('insiders repos add') wakes it immediately.`,
		Run:        newRunCommand(flags),
		ApplyFlags: flags.apply,
		StopTimeout: func(cfg *config.Config) time.Duration {
			return cfg.Watcher.StopTimeout
		},
	})
}

func newRunCommand(flags *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watcher in the foreground",
		Long: `Run the release watcher in the foreground until interrupted.

This is the process that 'insiders watcher start' launches in the
background. On SIGINT or SIGTERM a build in progress runs to completion
before the watcher exits.`,
		Example: `  insiders watcher run
  insiders watcher run --interval 5m --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			flags.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, shared.NewLogger(cfg, os.Stderr))
		},
	}

	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "Time between cycles (e.g. 30m)")
	cmd.Flags().StringVar(&flags.indexURL, "index-url", "", "Index consulted for published versions")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := lifecycle.ShutdownContext(parent, logger)
	defer stop()

	eng, err := newEngine(ctx, cfg, logger, watcher.WithRegistryWatch(absPath(cfg.Paths.Registry)))
	if err != nil {
		return err
	}

	if cfg.Watcher.MetricsAddr != "" {
		go func() {
			if err := watcher.ServeMetrics(ctx, cfg.Watcher.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", insiderslog.Error(err))
			}
		}()
	}

	logger.Info("starting watcher",
		slog.String("registry", eng.registry.Path()),
		slog.String("index", cfg.Watcher.IndexURL),
		insiderslog.Duration(cfg.Watcher.Interval),
	)
	return eng.loop.Run(ctx)
}

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

// Package server provides the 'insiders server' commands: the local
// package index in the foreground and its supervised background form.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/dnscache"
	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/daemon"
	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/index"
	"github.com/tombee/insiders/internal/lifecycle"
	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/pkg/httpclient"
)

const (
	defaultStopTimeout = 30 * time.Second
	dnsRefreshInterval = 5 * time.Minute
	probeTimeout       = time.Second
)

type runFlags struct {
	host       string
	port       int
	distDir    string
	upstream   string
	noFallback bool
}

// apply copies the flags that were set into cfg.
func (f *runFlags) apply(cfg *config.Config) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.distDir != "" {
		cfg.Paths.Dists = f.distDir
	}
	if f.upstream != "" {
		cfg.Server.Upstream = f.upstream
	}
	if f.noFallback {
		cfg.Server.DisableFallback = true
	}
}

// NewCommand creates the server command group.
func NewCommand() *cobra.Command {
	flags := &runFlags{}

	return daemon.NewGroup(daemon.Definition{
		Kind:  "server",
		Short: "Manage the local package index",
		Long: `Commands for managing the local package index.

The server serves built distributions over the PyPI simple API and
accepts uploads. Projects that were never published locally are relayed
to the upstream index unless fallback is disabled.

Point pip at it with:

  pip install --index-url http://127.0.0.1:31411/simple/ <package>`,
		Run:        newRunCommand(flags),
		ApplyFlags: flags.apply,
		Configure:  configure,
		StopTimeout: func(cfg *config.Config) time.Duration {
			if cfg.Server.ShutdownTimeout > 0 {
				return cfg.Server.ShutdownTimeout
			}
			return defaultStopTimeout
		},
	})
}

// configure makes start wait for /health before reporting success.
func configure(cfg *config.Config, sup *lifecycle.Supervisor) {
	logger := sup.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sup.Addr = cfg.ListenAddr()
	sup.StartTimeout = cfg.Server.StartTimeout
	sup.Health = lifecycle.NewHealthChecker(HealthURL(cfg)).
		WithHTTPClient(&http.Client{Timeout: probeTimeout}).
		OnAttempt(func(res *lifecycle.HealthCheckResult, attempt int) {
			if !res.Success {
				logger.Debug("server not ready yet", slog.Int("attempt", attempt), insiderslog.Error(res.Error))
			}
		})
}

// HealthURL returns the health endpoint reachable from this host.
func HealthURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)) + "/health"
}

func newRunCommand(flags *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the package index in the foreground",
		Long: `Run the local package index in the foreground until interrupted.

This is the process that 'insiders server start' launches in the
background. SIGINT or SIGTERM stops accepting connections and waits for
in-flight requests to finish.`,
		Example: `  insiders server run
  insiders server run --port 8080 --no-fallback`,
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

	cmd.Flags().StringVar(&flags.host, "host", "", "Interface to listen on")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "Port to listen on")
	cmd.Flags().StringVar(&flags.distDir, "dist-dir", "", "Directory holding the published distributions")
	cmd.Flags().StringVar(&flags.upstream, "upstream", "", "Upstream index for projects not published locally")
	cmd.Flags().BoolVar(&flags.noFallback, "no-fallback", false, "Serve local projects only")

	return cmd
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := lifecycle.ShutdownContext(parent, logger)
	defer stop()

	store, err := index.NewStore(cfg.Paths.Dists)
	if err != nil {
		return fmt.Errorf("failed to open distribution directory: %w", err)
	}

	var upstream *index.Upstream
	if !cfg.Server.DisableFallback {
		upstream, err = newUpstream(ctx, cfg, logger)
		if err != nil {
			return err
		}
	}

	srv := index.NewServer(index.ServerConfig{
		Store:           store,
		Upstream:        upstream,
		Users:           cfg.Server.Users,
		Overwrite:       cfg.Server.Overwrite,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})

	logger.Info("starting package index",
		slog.String("addr", cfg.ListenAddr()),
		slog.String("dists", store.Dir()),
		slog.Bool("fallback", upstream != nil),
	)
	return srv.ListenAndServe(ctx, cfg.ListenAddr())
}

// newUpstream builds the fallback relay. DNS answers for the upstream
// host are cached and refreshed until ctx is done.
func newUpstream(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*index.Upstream, error) {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(dnsRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resolver.Refresh(true)
			}
		}
	}()

	hcfg := httpclient.DefaultConfig()
	hcfg.Resolver = resolver
	hcfg.Logger = logger
	if v, _, _ := shared.GetVersion(); v != "" {
		hcfg.UserAgent = "insiders/" + v
	}
	client, err := httpclient.New(hcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	return index.NewUpstream(index.UpstreamConfig{
		BaseURL:       cfg.Server.Upstream,
		Client:        client,
		RatePerSecond: cfg.Server.UpstreamRate,
		Burst:         cfg.Server.UpstreamBurst,
		Logger:        logger,
	})
}

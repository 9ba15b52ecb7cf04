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

package server

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/lifecycle"
)

func TestRunFlags_Apply(t *testing.T) {
	cfg := config.Default()
	original := *cfg

	(&runFlags{}).apply(cfg)
	if cfg.Server.Port != original.Server.Port || cfg.Server.Upstream != original.Server.Upstream {
		t.Error("unset flags should leave the configuration alone")
	}

	(&runFlags{
		host:       "0.0.0.0",
		port:       8080,
		distDir:    "/srv/dists",
		upstream:   "https://mirror.example.com",
		noFallback: true,
	}).apply(cfg)

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("listen = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Paths.Dists != "/srv/dists" {
		t.Errorf("Paths.Dists = %q", cfg.Paths.Dists)
	}
	if cfg.Server.Upstream != "https://mirror.example.com" {
		t.Errorf("Upstream = %q", cfg.Server.Upstream)
	}
	if !cfg.Server.DisableFallback {
		t.Error("DisableFallback should be set")
	}
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"", "http://127.0.0.1:31411/health"},
		{"0.0.0.0", "http://127.0.0.1:31411/health"},
		{"::", "http://127.0.0.1:31411/health"},
		{"localhost", "http://localhost:31411/health"},
		{"::1", "http://[::1]:31411/health"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			cfg := config.Default()
			cfg.Server.Host = tt.host
			cfg.Server.Port = 31411
			if got := HealthURL(cfg); got != tt.want {
				t.Errorf("HealthURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewCommand_Subcommands(t *testing.T) {
	cmd := NewCommand()
	run, _, err := cmd.Find([]string{"run"})
	if err != nil || run.Name() != "run" {
		t.Fatalf("run subcommand missing: %v", err)
	}
	start, _, err := cmd.Find([]string{"start"})
	if err != nil {
		t.Fatalf("start subcommand missing: %v", err)
	}
	for _, name := range []string{"host", "port", "dist-dir", "upstream", "no-fallback"} {
		if start.Flags().Lookup(name) == nil {
			t.Errorf("start is missing --%s", name)
		}
	}
}

func TestConfigure_ProbesListenAddress(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port
	cfg.Server.StartTimeout = 3 * time.Second

	var logs bytes.Buffer
	sup := &lifecycle.Supervisor{
		Kind:   "server",
		Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	configure(cfg, sup)

	if sup.Addr != cfg.ListenAddr() {
		t.Errorf("Addr = %q, want %q", sup.Addr, cfg.ListenAddr())
	}
	if sup.StartTimeout != 3*time.Second {
		t.Errorf("StartTimeout = %v", sup.StartTimeout)
	}
	if sup.Health == nil {
		t.Fatal("server start should wait for the health endpoint")
	}

	if err := sup.Health.WaitUntilHealthy(context.Background(), 200*time.Millisecond); err == nil {
		t.Fatal("WaitUntilHealthy() succeeded with nothing listening")
	}
	if !strings.Contains(logs.String(), "server not ready yet") || !strings.Contains(logs.String(), "attempt=1") {
		t.Errorf("probe attempts not logged:\n%s", logs.String())
	}
}

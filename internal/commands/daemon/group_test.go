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

package daemon

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/lifecycle"
)

func testDefinition(port *int) Definition {
	run := &cobra.Command{
		Use:  "run",
		RunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	run.Flags().IntVar(port, "port", 0, "listen port")

	return Definition{
		Kind: "server",
		Run:  run,
		ApplyFlags: func(cfg *config.Config) {
			if *port != 0 {
				cfg.Server.Port = *port
			}
		},
		StopTimeout: func(cfg *config.Config) time.Duration { return time.Second },
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "paths:\n  state: " + filepath.Join(dir, "state") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestNewGroup_Subcommands(t *testing.T) {
	var port int
	group := NewGroup(testDefinition(&port))

	var names []string
	for _, c := range group.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"start", "stop", "status", "logs", "run"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing subcommand %q, have %v", want, names)
		}
	}
	if group.Annotations["group"] != "daemons" {
		t.Errorf("group annotation = %q, want daemons", group.Annotations["group"])
	}
}

func TestStartCommand_SharesRunFlags(t *testing.T) {
	var port int
	def := testDefinition(&port)
	start := newStartCommand(def)

	if start.Flags().Lookup("port") == nil {
		t.Fatal("start should accept the run command's --port flag")
	}
	if err := start.Flags().Parse([]string{"--port", "9000"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if port != 9000 {
		t.Errorf("port = %d, want 9000", port)
	}

	got := forwardedFlags(start.Flags(), def.Run)
	if !slices.Equal(got, []string{"--port=9000"}) {
		t.Errorf("forwardedFlags() = %v", got)
	}
}

func TestForwardedFlags_SkipsUnsetAndForeign(t *testing.T) {
	var port int
	def := testDefinition(&port)
	start := newStartCommand(def)
	start.Flags().Bool("extra", false, "not a run flag")

	if err := start.Flags().Parse([]string{"--extra"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := forwardedFlags(start.Flags(), def.Run); len(got) != 0 {
		t.Errorf("forwardedFlags() = %v, want none", got)
	}
	if got := forwardedFlags(start.Flags(), nil); got != nil {
		t.Errorf("forwardedFlags(nil run) = %v, want nil", got)
	}
}

func TestChildArgs(t *testing.T) {
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	shared.SetConfigPathForTest("")
	got := childArgs("watcher", []string{"--interval=5m"})
	want := []string{"watcher", "run", "--interval=5m"}
	if !slices.Equal(got, want) {
		t.Errorf("childArgs() = %v, want %v", got, want)
	}

	shared.SetConfigPathForTest("insiders.yaml")
	got = childArgs("server", nil)
	if len(got) < 4 || got[0] != "--config" {
		t.Fatalf("childArgs() = %v, want leading --config", got)
	}
	if !filepath.IsAbs(got[1]) {
		t.Errorf("config path %q should be absolute for the detached child", got[1])
	}
	if !slices.Equal(got[len(got)-2:], []string{"server", "run"}) {
		t.Errorf("childArgs() = %v, want trailing 'server run'", got)
	}
}

func TestNewStatusView(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &lifecycle.Record{Kind: "server", PID: 4242, StartedAt: started, Addr: "127.0.0.1:31411"}

	running := newStatusView("server", lifecycle.Status{State: lifecycle.StateRunning, Record: rec}, "/state/server.log", started.Add(90*time.Second))
	if running.PID != 4242 || running.Addr != "127.0.0.1:31411" {
		t.Errorf("running view = %+v", running)
	}
	if running.Uptime == "" {
		t.Error("running view should carry an uptime")
	}

	stale := newStatusView("server", lifecycle.Status{State: lifecycle.StateStale, Record: rec, Reason: "process exited"}, "/state/server.log", started)
	if stale.Uptime != "" {
		t.Errorf("stale view uptime = %q, want empty", stale.Uptime)
	}

	var buf bytes.Buffer
	printStatus(&buf, stale)
	out := buf.String()
	if !strings.Contains(out, "stale") || !strings.Contains(out, "process exited") {
		t.Errorf("printStatus() = %q, want state and reason", out)
	}

	stopped := newStatusView("watcher", lifecycle.Status{State: lifecycle.StateStopped}, "/state/watcher.log", started)
	buf.Reset()
	printStatus(&buf, stopped)
	if !strings.Contains(buf.String(), "stopped") || !strings.Contains(buf.String(), "/state/watcher.log") {
		t.Errorf("printStatus() = %q", buf.String())
	}
}

func TestStatusAndStop_NotRunning(t *testing.T) {
	shared.SetConfigPathForTest(writeConfig(t))
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	var port int
	group := NewGroup(testDefinition(&port))

	var out bytes.Buffer
	group.SetOut(&out)
	group.SetErr(&out)

	group.SetArgs([]string{"status"})
	if err := group.Execute(); err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out.String(), "stopped") {
		t.Errorf("status output = %q, want stopped", out.String())
	}

	out.Reset()
	group.SetArgs([]string{"stop"})
	if err := group.Execute(); err != nil {
		t.Fatalf("stop error = %v", err)
	}
	if !strings.Contains(out.String(), "not running") {
		t.Errorf("stop output = %q, want not running", out.String())
	}
}

func TestLogs_MissingFile(t *testing.T) {
	shared.SetConfigPathForTest(writeConfig(t))
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	var port int
	group := NewGroup(testDefinition(&port))

	var out bytes.Buffer
	group.SetOut(&out)
	group.SetArgs([]string{"logs", "-n", "10"})
	if err := group.Execute(); err != nil {
		t.Fatalf("logs error = %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("logs output = %q, want empty", out.String())
	}
}

func TestLogs_Events(t *testing.T) {
	path := writeConfig(t)
	shared.SetConfigPathForTest(path)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	state := filepath.Join(filepath.Dir(path), "state")
	if err := os.MkdirAll(state, 0o700); err != nil {
		t.Fatal(err)
	}
	events := lifecycle.NewLifecycleLogger(filepath.Join(state, "lifecycle.log"))
	_ = events.LogStart("server", []string{"server", "run"})
	_ = events.LogStartFailure("server", 0, errors.New("listen tcp 127.0.0.1:31411: bind: address already in use"))
	_ = events.LogStart("watcher", []string{"watcher", "run"})

	var port int
	group := NewGroup(testDefinition(&port))

	var out bytes.Buffer
	group.SetOut(&out)
	group.SetArgs([]string{"logs", "--events"})
	if err := group.Execute(); err != nil {
		t.Fatalf("logs --events error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("logs --events printed %d lines, want header and two server events:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[2], "start_failure") || !strings.Contains(lines[2], "address already in use") {
		t.Errorf("last event line = %q", lines[2])
	}
}

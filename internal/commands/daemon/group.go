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

// Package daemon builds the start, stop, status and logs subcommands
// shared by the supervised daemons (server and watcher).
package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/lifecycle"
)

// Definition describes one supervised daemon kind.
type Definition struct {
	Kind  string
	Short string
	Long  string

	// Run is the foreground command. Its local flags are also accepted
	// by start and forwarded to the detached child.
	Run *cobra.Command

	// ApplyFlags copies flag overrides into cfg. Optional.
	ApplyFlags func(cfg *config.Config)

	// Configure completes the supervisor, e.g. with a health probe.
	// Optional.
	Configure func(cfg *config.Config, sup *lifecycle.Supervisor)

	// StopTimeout returns the default wait before escalating to SIGKILL.
	StopTimeout func(cfg *config.Config) time.Duration
}

// NewGroup creates the command group for def.
func NewGroup(def Definition) *cobra.Command {
	cmd := &cobra.Command{
		Use:   def.Kind,
		Short: def.Short,
		Long:  def.Long,
		Annotations: map[string]string{
			"group": "daemons",
		},
	}

	cmd.AddCommand(newStartCommand(def))
	cmd.AddCommand(newStopCommand(def))
	cmd.AddCommand(newStatusCommand(def))
	cmd.AddCommand(newLogsCommand(def))
	if def.Run != nil {
		cmd.AddCommand(def.Run)
	}

	return cmd
}

// loadConfig loads the configuration with def's flag overrides applied.
func loadConfig(def Definition) (*config.Config, error) {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, err
	}
	if def.ApplyFlags != nil {
		def.ApplyFlags(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newSupervisor builds the supervisor for def. forwarded holds the
// run flags to pass to the child.
func newSupervisor(def Definition, cfg *config.Config, logger *slog.Logger, forwarded []string) (*lifecycle.Supervisor, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate the insiders executable: %w", err)
	}

	sup := &lifecycle.Supervisor{
		Kind:     def.Kind,
		StateDir: cfg.Paths.State,
		Binary:   binary,
		Args:     childArgs(def.Kind, forwarded),
		Logger:   logger,
	}
	if def.Configure != nil {
		def.Configure(cfg, sup)
	}
	return sup, nil
}

// childArgs returns the arguments for "insiders <kind> run", carrying
// the global flags that shape configuration and logging.
func childArgs(kind string, forwarded []string) []string {
	var args []string
	if p := shared.GetConfigPath(); p != "" {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		args = append(args, "--config", p)
	}
	if l := shared.GetLogLevel(); l != "" {
		args = append(args, "--log-level", l)
	} else if shared.GetVerbose() {
		args = append(args, "--log-level", "debug")
	}
	if f := shared.GetLogFormat(); f != "" {
		args = append(args, "--log-format", f)
	}
	args = append(args, kind, "run")
	return append(args, forwarded...)
}

// forwardedFlags renders the flags of fs that were set on the command
// line and also exist on the run command.
func forwardedFlags(fs *pflag.FlagSet, run *cobra.Command) []string {
	if run == nil {
		return nil
	}
	var args []string
	fs.Visit(func(f *pflag.Flag) {
		if run.Flags().Lookup(f.Name) == nil {
			return
		}
		args = append(args, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
	})
	return args
}

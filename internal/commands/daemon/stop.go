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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/lifecycle"
)

func newStopCommand(def Definition) *cobra.Command {
	var (
		timeout    time.Duration
		force      bool
		noEscalate bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: fmt.Sprintf("Stop the background %s", def.Kind),
		Long: fmt.Sprintf(`Stop the %[1]s gracefully.

Sends SIGTERM and waits for the process to exit. If the timeout is
exceeded, SIGKILL is sent unless --no-escalate is given. Use --force to
send SIGKILL immediately.

The stop command is idempotent: if the %[1]s is not running it only
removes a stale record.`, def.Kind),
		Example: fmt.Sprintf(`  insiders %[1]s stop
  insiders %[1]s stop --timeout 60s
  insiders %[1]s stop --force`, def.Kind),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(def)
			if err != nil {
				return err
			}
			if timeout == 0 && def.StopTimeout != nil {
				timeout = def.StopTimeout(cfg)
			}

			sup, err := newSupervisor(def, cfg, shared.NewCLILogger(cfg), nil)
			if err != nil {
				return err
			}

			res, err := sup.Stop(cmd.Context(), lifecycle.StopOptions{
				Timeout:    timeout,
				Force:      force,
				NoEscalate: noEscalate,
			})
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSONResult(def.Kind+" stop", res)
			}
			if shared.GetQuiet() {
				return nil
			}

			out := cmd.OutOrStdout()
			switch {
			case !res.WasRunning:
				fmt.Fprintln(out, shared.RenderInfo(def.Kind+" is not running"))
			case res.Escalated:
				fmt.Fprintln(out, shared.RenderWarn(fmt.Sprintf("%s killed after %s (PID %d)", def.Kind, timeout, res.PID)))
			default:
				fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s stopped (PID %d)", def.Kind, res.PID)))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Graceful shutdown timeout before SIGKILL (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Skip graceful shutdown, send SIGKILL immediately")
	cmd.Flags().BoolVar(&noEscalate, "no-escalate", false, "Fail instead of sending SIGKILL when the timeout is exceeded")
	cmd.MarkFlagsMutuallyExclusive("force", "no-escalate")

	return cmd
}

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

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/lifecycle"
)

type startResult struct {
	Started bool              `json:"started"`
	Record  *lifecycle.Record `json:"record"`
}

func newStartCommand(def Definition) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: fmt.Sprintf("Start the %s in the background", def.Kind),
		Long: fmt.Sprintf(`Start the %[1]s as a detached background process.

Output is appended to the %[1]s log ('insiders %[1]s logs'). The command
is idempotent: when the %[1]s is already running nothing is started. A
stale record left by a crashed process is cleaned up first.

If the process exits during startup the command fails and prints the
last lines of its log.`, def.Kind),
		Example: fmt.Sprintf(`  insiders %[1]s start
  insiders %[1]s start --json`, def.Kind),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, def)
		},
	}

	if def.Run != nil {
		def.Run.Flags().VisitAll(func(f *pflag.Flag) {
			cmd.Flags().AddFlag(f)
		})
	}

	return cmd
}

func runStart(cmd *cobra.Command, def Definition) error {
	cfg, err := loadConfig(def)
	if err != nil {
		return err
	}

	sup, err := newSupervisor(def, cfg, shared.NewCLILogger(cfg), forwardedFlags(cmd.Flags(), def.Run))
	if err != nil {
		return err
	}

	rec, started, err := sup.Start(cmd.Context())
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSONResult(def.Kind+" start", startResult{Started: started, Record: rec})
	}
	if shared.GetQuiet() {
		return nil
	}

	out := cmd.OutOrStdout()
	if !started {
		fmt.Fprintln(out, shared.RenderInfo(fmt.Sprintf("%s is already running (PID %d)", def.Kind, rec.PID)))
		return nil
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s started (PID %d)", def.Kind, rec.PID)))
	if rec.Addr != "" {
		fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("address:"), rec.Addr)
	}
	fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("log:    "), sup.LogFile())
	return nil
}

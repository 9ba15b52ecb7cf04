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
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/lifecycle"
)

type statusView struct {
	Kind      string          `json:"kind"`
	State     lifecycle.State `json:"state"`
	PID       int             `json:"pid,omitempty"`
	Addr      string          `json:"addr,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	Uptime    string          `json:"uptime,omitempty"`
	LogPath   string          `json:"log_path"`
	Reason    string          `json:"reason,omitempty"`
}

func newStatusCommand(def Definition) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: fmt.Sprintf("Show whether the %s is running", def.Kind),
		Long: fmt.Sprintf(`Show the state of the %[1]s: running, stopped or stale.

A record is stale when its process has exited or its PID now belongs to
another process. Stale records are reported once and removed.`, def.Kind),
		Example: fmt.Sprintf(`  insiders %[1]s status
  insiders %[1]s status --json | jq -r .result.state`, def.Kind),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(def)
			if err != nil {
				return err
			}
			sup, err := newSupervisor(def, cfg, shared.NewCLILogger(cfg), nil)
			if err != nil {
				return err
			}

			st, err := sup.Status()
			if err != nil {
				return err
			}
			view := newStatusView(def.Kind, st, sup.LogFile(), time.Now())

			if shared.GetJSON() {
				return shared.EmitJSONResult(def.Kind+" status", view)
			}
			printStatus(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func newStatusView(kind string, st lifecycle.Status, logPath string, now time.Time) statusView {
	view := statusView{Kind: kind, State: st.State, LogPath: logPath, Reason: st.Reason}
	if st.Record != nil {
		view.PID = st.Record.PID
		view.Addr = st.Record.Addr
		started := st.Record.StartedAt
		view.StartedAt = &started
		if st.State == lifecycle.StateRunning {
			view.Uptime = shared.FormatElapsed(now.Sub(started))
		}
	}
	return view
}

func printStatus(w io.Writer, v statusView) {
	switch v.State {
	case lifecycle.StateRunning:
		fmt.Fprintf(w, "%s: %s (PID %d)\n", shared.Bold.Render(v.Kind), shared.RenderState(string(v.State)), v.PID)
		if v.Addr != "" {
			fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("address:"), v.Addr)
		}
		fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("uptime: "), v.Uptime)
	case lifecycle.StateStale:
		fmt.Fprintf(w, "%s: %s (PID %d: %s, record removed)\n", shared.Bold.Render(v.Kind), shared.RenderState(string(v.State)), v.PID, v.Reason)
	default:
		fmt.Fprintf(w, "%s: %s\n", shared.Bold.Render(v.Kind), shared.RenderState(string(v.State)))
	}
	fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("log:    "), v.LogPath)
}

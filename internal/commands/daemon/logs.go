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
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/lifecycle"
)

func newLogsCommand(def Definition) *cobra.Command {
	var (
		lines  int
		follow bool
		events bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: fmt.Sprintf("Print the %s log", def.Kind),
		Long: fmt.Sprintf(`Print the output of the background %[1]s.

With --follow, new output is streamed until interrupted. A missing log
file prints nothing. With --events, the start and stop history recorded
by the supervisor is printed instead.`, def.Kind),
		Example: fmt.Sprintf(`  insiders %[1]s logs
  insiders %[1]s logs -n 200
  insiders %[1]s logs --follow
  insiders %[1]s logs --events`, def.Kind),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(def)
			if err != nil {
				return err
			}
			sup, err := newSupervisor(def, cfg, nil, nil)
			if err != nil {
				return err
			}

			if events {
				history, err := sup.Events(lines)
				if err != nil {
					return err
				}
				if shared.GetJSON() {
					return shared.EmitJSONResult(def.Kind+" logs", map[string]any{"events": history})
				}
				printEvents(cmd.OutOrStdout(), history)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return sup.Logs(ctx, cmd.OutOrStdout(), lifecycle.LogOptions{
				Lines:  lines,
				Follow: follow,
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print (0 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new output")
	cmd.Flags().BoolVar(&events, "events", false, "Print lifecycle events instead of daemon output")
	cmd.MarkFlagsMutuallyExclusive("follow", "events")

	return cmd
}

func printEvents(w io.Writer, events []lifecycle.LifecycleEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, shared.Muted.Render("No lifecycle events recorded."))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tPID\tDETAIL")
	for _, ev := range events {
		pid := "-"
		if ev.PID > 0 {
			pid = fmt.Sprint(ev.PID)
		}
		detail := ev.Message
		if ev.Error != "" {
			detail = ev.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.Timestamp.Local().Format(time.DateTime), ev.Event, pid, detail)
	}
	tw.Flush()
}

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

package watcher

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/completion"
	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/registry"
	"github.com/tombee/insiders/internal/watcher"
)

// NewUpdateCommand creates 'insiders update'.
func NewUpdateCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "update [REPO|GLOB...]",
		Short: "Build and publish new releases now",
		Long: `Run one watcher cycle in the foreground.

Without arguments every registered repository is checked. Arguments
select repositories by NAMESPACE/PROJECT, distribution name or glob
(e.g. 'acme/*'), ignoring case.

The command exits non-zero when any selected repository failed.`,
		Example: `  insiders update
  insiders update acme/tool
  insiders update 'acme/*' --dry-run
  insiders update --json | jq '.result.repositories[] | select(.outcome == "built")'`,
		Annotations: map[string]string{
			"group": "releases",
		},
		ValidArgsFunction: completion.CompleteRepositories,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			logger := shared.NewCLILogger(cfg)

			opts := []watcher.Option{watcher.WithDryRun(dryRun)}
			var spinner *shared.Spinner
			if !shared.GetJSON() && !shared.GetQuiet() {
				spinner = shared.NewSpinner()
				opts = append(opts, watcher.WithProgress(func(repo registry.Repository) {
					spinner.Update("Checking " + repo.ID())
				}))
			}

			eng, err := newEngine(cmd.Context(), cfg, logger, opts...)
			if err != nil {
				return err
			}

			if spinner != nil {
				spinner.Start("Checking repositories for new releases")
			}
			report, err := eng.loop.RunOnce(cmd.Context(), args...)
			if spinner != nil {
				spinner.Stop()
			}
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				if err := shared.EmitJSONResult("update", report); err != nil {
					return err
				}
			} else if !shared.GetQuiet() {
				printReport(cmd.OutOrStdout(), report)
			}

			if n := report.Failed(); n > 0 {
				return shared.NewFailureError(fmt.Sprintf("%d of %d repositories failed", n, len(report.Repositories)), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be built without building")

	return cmd
}

func printReport(out io.Writer, report *watcher.CycleReport) {
	if len(report.Repositories) == 0 {
		fmt.Fprintln(out, "No repositories registered.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Run 'insiders repos add NAMESPACE/PROJECT' to watch one.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tTAG\tOUTCOME\tDETAIL")
	for _, rr := range report.Repositories {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rr.Repository, orDash(rr.Tag), outcomeLabel(rr.Outcome), detail(rr))
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d built, %d skipped, %d failed in %s\n",
		report.Built(),
		report.Count(watcher.OutcomeSkipped)+report.Count(watcher.OutcomeWouldBuild),
		report.Failed(),
		shared.FormatElapsed(report.Duration.Round(time.Second)),
	)
}

func outcomeLabel(o watcher.Outcome) string {
	switch o {
	case watcher.OutcomeBuilt:
		return shared.StatusOK.Render(string(o))
	case watcher.OutcomeFailed:
		return shared.StatusError.Render(string(o))
	case watcher.OutcomeWouldBuild:
		return shared.StatusWarn.Render("would build")
	default:
		return shared.Muted.Render(string(o))
	}
}

func detail(rr watcher.RepositoryReport) string {
	switch rr.Outcome {
	case watcher.OutcomeBuilt:
		return fmt.Sprintf("published %s (%d artifacts)", rr.Version, len(rr.Artifacts))
	case watcher.OutcomeFailed:
		return fmt.Sprintf("%s: %s", rr.Stage, rr.Error)
	case watcher.OutcomeWouldBuild:
		if rr.LatestLocal == "" {
			return rr.Version + " (nothing published yet)"
		}
		return fmt.Sprintf("%s (index has %s)", rr.Version, rr.LatestLocal)
	default:
		return rr.Reason
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

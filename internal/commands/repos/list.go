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

package repos

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/registry"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List watched repositories",
		Long:    "Display the registered repositories in the order they were added.",
		Example: `  insiders repos list
  insiders repos list --json | jq -r '.result.repositories[].distribution'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			repos, err := reg.List()
			if err != nil {
				return err
			}
			if repos == nil {
				repos = []registry.Repository{}
			}

			if shared.GetJSON() {
				return shared.EmitJSONResult("repos list", map[string]any{"repositories": repos})
			}

			out := cmd.OutOrStdout()
			if len(repos) == 0 {
				fmt.Fprintln(out, "No repositories registered.")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Run 'insiders repos add NAMESPACE/PROJECT' to watch one.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REPOSITORY\tDISTRIBUTION\tBRANCH")
			for _, r := range repos {
				branch := r.Branch
				if branch == "" {
					branch = shared.Muted.Render("(default)")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID(), r.Distribution, branch)
			}
			return w.Flush()
		},
	}
}

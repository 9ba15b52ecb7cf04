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

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/registry"
)

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add NAMESPACE/PROJECT[:DISTRIBUTION][@BRANCH]...",
		Short: "Watch one or more repositories",
		Long: `Register repositories with the watcher.

DISTRIBUTION is the name artifacts are published under and defaults to
the project name. BRANCH overrides the remote default branch used for
checkouts.

Every argument is validated before any is registered. A repository that
is already registered fails the command but does not stop the others.`,
		Example: `  insiders repos add acme/tool
  insiders repos add acme/tool:acme-tool
  insiders repos add acme/tool:acme-tool@develop acme/lib`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]registry.Repository, 0, len(args))
			for _, arg := range args {
				repo, err := registry.Parse(arg)
				if err != nil {
					return err
				}
				parsed = append(parsed, repo)
			}

			reg, err := loadRegistry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var (
				added    []registry.Repository
				firstErr error
			)
			for _, repo := range parsed {
				if err := reg.Add(repo); err != nil {
					if firstErr == nil {
						firstErr = err
					}
					if !shared.GetJSON() {
						fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderError(err.Error()))
					}
					continue
				}
				added = append(added, repo)
				if !shared.GetJSON() && !shared.GetQuiet() {
					fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Watching %s (distribution %s)", repo.ID(), repo.Distribution)))
				}
			}

			if shared.GetJSON() && firstErr == nil {
				return shared.EmitJSONResult("repos add", map[string]any{"added": added})
			}
			return firstErr
		},
	}
}

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
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/completion"
	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/registry"
)

// confirm asks before removing. Replaced in tests.
var confirm = func(ids []string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Stop watching %s?", strings.Join(ids, ", "))).
				Description("Cached checkouts are deleted. Published artifacts are kept.").
				Affirmative("Remove").
				Negative("Cancel").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func newRemoveCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "remove NAMESPACE/PROJECT...",
		Aliases: []string{"rm"},
		Short:   "Stop watching one or more repositories",
		Long: `Unregister repositories and delete their cached checkouts.

Re-adding a removed repository starts from a clean state. Artifacts
already published to an index are not touched.

Confirmation is requested when running interactively; pass --yes to
skip it. Non-interactive sessions must pass --yes.`,
		Example: `  insiders repos remove acme/tool
  insiders repos remove acme/tool acme/lib --yes`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.CompleteRepositories,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if shared.IsNonInteractive() {
					return shared.NewInvalidInputError("refusing to remove without confirmation; pass --yes", nil)
				}
				ok, err := confirm(args)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			reg, err := loadRegistry()
			if err != nil {
				return err
			}

			var (
				removed  []registry.Repository
				firstErr error
			)
			for _, id := range args {
				repo, err := reg.Remove(id)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					if !shared.GetJSON() {
						fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderError(err.Error()))
					}
					continue
				}
				removed = append(removed, repo)
				if !shared.GetJSON() && !shared.GetQuiet() {
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Removed "+repo.ID()))
				}
			}

			if shared.GetJSON() && firstErr == nil {
				return shared.EmitJSONResult("repos remove", map[string]any{"removed": removed})
			}
			return firstErr
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

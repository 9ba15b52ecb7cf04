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

// Package repos provides the 'insiders repos' commands that manage the
// repository registry.
package repos

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/gitrepo"
	"github.com/tombee/insiders/internal/registry"
)

// NewCommand creates the repos command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "repos",
		Aliases: []string{"repo"},
		Short:   "Manage watched repositories",
		Long: `Commands for managing the repositories the watcher tracks.

Each entry maps an upstream NAMESPACE/PROJECT to the distribution name
its artifacts are published under. The registry is a JSON file in the
configuration directory; the watcher daemon picks up edits on its own.`,
		Annotations: map[string]string{
			"group": "releases",
		},
	}

	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newListCommand())

	return cmd
}

// openRegistry opens the configured registry. Removal also evicts the
// cached clone.
func openRegistry(cfg *config.Config, logger *slog.Logger) *registry.Registry {
	git := gitrepo.New(gitrepo.Options{
		Dir:      cfg.Paths.Repos,
		CloneURL: cfg.Git.CloneURL,
		Logger:   logger,
	})
	return registry.New(cfg.Paths.Registry,
		registry.WithLogger(logger),
		registry.WithEvictor(git),
	)
}

func loadRegistry() (*registry.Registry, error) {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, err
	}
	return openRegistry(cfg, shared.NewCLILogger(cfg)), nil
}

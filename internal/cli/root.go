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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/completion"
	"github.com/tombee/insiders/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for insiders
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insiders",
		Short: "Mirror Insiders releases into a local package index",
		Long: `insiders watches the git repositories of privately released ("Insiders")
Python packages, builds every new release tag and publishes the artifacts
to a local package index. The index serves those builds first and falls
back to the public index for everything else.

Register a repository with 'insiders repos add', then start both daemons:

  insiders server start
  insiders watcher start

Point pip at http://localhost:31411/simple/ to install Insiders builds.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, quiet, json, config := shared.RegisterFlagPointers()
	logLevel, logFormat := shared.RegisterLogFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output (debug logging)")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/insiders/config.yaml)")
	cmd.PersistentFlags().StringVar(logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(logFormat, "log-format", "", "Log format (text, json)")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	_ = cmd.RegisterFlagCompletionFunc("log-level", completion.CompleteLogLevels)
	_ = cmd.RegisterFlagCompletionFunc("log-format", completion.CompleteLogFormats)

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}

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

package completion

import (
	"github.com/spf13/cobra"
)

// CompleteLogLevels provides completion for --log-level flag values.
func CompleteLogLevels(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return guard(func() ([]string, cobra.ShellCompDirective) {
		levels := []string{
			"trace\tFull build output and HTTP detail",
			"debug\tPer-repository decisions",
			"info\tBuilds, publishes and daemon events",
			"warn\tRecoverable problems only",
			"error\tFailures only",
		}
		return levels, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteLogFormats provides completion for --log-format flag values.
func CompleteLogFormats(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return guard(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			"text\tHuman-readable key=value lines",
			"json\tOne JSON object per line",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

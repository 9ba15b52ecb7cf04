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
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/registry"
	"github.com/tombee/insiders/internal/secrets"
)

// CompleteRepositories completes registered repository IDs, skipping
// those already given as arguments.
func CompleteRepositories(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return guard(func() ([]string, cobra.ShellCompDirective) {
		cfg, err := completionConfig()
		if err != nil || cfg == nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		repos, err := registry.New(cfg.Paths.Registry).List()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return repositoryCandidates(repos, args, toComplete), cobra.ShellCompDirectiveNoFileComp
	})
}

func repositoryCandidates(repos []registry.Repository, args []string, toComplete string) []string {
	prefix := strings.ToLower(toComplete)
	var out []string
	for _, r := range repos {
		if slices.ContainsFunc(args, r.Matches) {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(r.ID()), prefix) {
			continue
		}
		out = append(out, r.ID()+"\t"+r.Distribution)
	}
	return out
}

// CompleteCredentialKeys completes the git token key and the password
// keys of indexes that require authentication.
func CompleteCredentialKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return guard(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		keys := []string{secrets.GitTokenKey + "\tToken for HTTPS clones"}
		cfg, err := completionConfig()
		if err == nil && cfg != nil {
			for _, idx := range cfg.Indexes {
				if idx.Auth {
					keys = append(keys, secrets.IndexPasswordKey(idx.Name)+"\tPassword for "+idx.URL)
				}
			}
		}
		return keys, cobra.ShellCompDirectiveNoFileComp
	})
}

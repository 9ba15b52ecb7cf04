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
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
)

// privateFile reports whether only the owner can read path. A missing
// file counts as private; the loader reports it.
func privateFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Mode().Perm()&0o077 == 0
}

// completionConfig loads the configuration for a completion request.
// A config file other users can read may hold a git token and is
// ignored, giving a nil config.
func completionConfig() (*config.Config, error) {
	path := shared.GetConfigPath()
	if path == "" {
		path = os.Getenv("INSIDERS_CONFIG")
	}
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if !privateFile(path) {
		return nil, nil
	}
	return shared.LoadConfig()
}

// guard runs a completion function. A panic or nil result becomes an
// empty list so the shell never sees a stack trace.
func guard(fn func() ([]string, cobra.ShellCompDirective)) (out []string, dir cobra.ShellCompDirective) {
	defer func() {
		if recover() != nil {
			out, dir = []string{}, cobra.ShellCompDirectiveNoFileComp
		}
	}()

	out, dir = fn()
	if out == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return out, dir
}

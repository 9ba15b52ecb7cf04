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

package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/config"
	"gopkg.in/yaml.v3"
)

// NewCommand creates the config command with subcommands.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
		Long: `View the effective insiders configuration.

Subcommands:
  show - Display the effective configuration
  path - Show the config file location`,
		Annotations: map[string]string{
			"group": "system",
		},
	}

	show := newShowCommand()
	cmd.AddCommand(show)
	cmd.AddCommand(newPathCommand())

	cmd.RunE = show.RunE

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults, environment variables and
path resolution have been applied.

Passwords and tokens are masked. Use --json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}

			masked := maskConfig(cfg)
			if shared.GetJSON() {
				doc, err := toDocument(masked)
				if err != nil {
					return err
				}
				return shared.EmitJSONResult("config show", doc)
			}
			return writeYAML(cmd.OutOrStdout(), configPath(), masked)
		},
	}
}

func newPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := configPath()
			if p == "" {
				return fmt.Errorf("failed to determine config path")
			}
			if shared.GetJSON() {
				return shared.EmitJSONResult("config path", map[string]string{"path": p})
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func configPath() string {
	if p := shared.GetConfigPath(); p != "" {
		return p
	}
	p, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return p
}

// maskConfig returns a copy of cfg with credentials masked.
func maskConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	masked.Git.Token = maskSecret(cfg.Git.Token)

	masked.Indexes = make([]config.IndexTarget, len(cfg.Indexes))
	for i, t := range cfg.Indexes {
		t.Password = maskSecret(t.Password)
		masked.Indexes[i] = t
	}

	if len(cfg.Server.Users) > 0 {
		masked.Server.Users = make(map[string]string, len(cfg.Server.Users))
		for user := range cfg.Server.Users {
			masked.Server.Users[user] = "****"
		}
	}
	return &masked
}

// maskSecret keeps the first and last four characters of long values.
// Environment references like ${TOKEN} are shown as written.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return s
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// toDocument round-trips cfg through YAML so JSON output uses the same
// keys as the config file.
func toDocument(cfg *config.Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return doc, nil
}

func writeYAML(w io.Writer, path string, cfg *config.Config) error {
	fmt.Fprintf(w, "Configuration: %s\n", path)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

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

package version

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tombee/insiders/internal/commands/shared"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	UserAgent string `json:"user_agent"`
}

func currentInfo() VersionInfo {
	v, c, b := shared.GetVersion()
	return VersionInfo{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		UserAgent: "insiders/" + v,
	}
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the insiders version, commit and build date.

The user agent is what the index server sends to the upstream index.`,
		Annotations: map[string]string{
			"group": "system",
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentInfo()
			out := cmd.OutOrStdout()

			switch {
			case shared.GetJSON():
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal version info: %w", err)
				}
				fmt.Fprintln(out, string(data))
			case short:
				fmt.Fprintln(out, info.Version)
			default:
				fmt.Fprintf(out, "insiders %s\n", info.Version)
				fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
				fmt.Fprintf(out, "  built:      %s\n", info.BuildDate)
				fmt.Fprintf(out, "  go:         %s %s\n", info.GoVersion, info.Platform)
				fmt.Fprintf(out, "  user agent: %s\n", info.UserAgent)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}

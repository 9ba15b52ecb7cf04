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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/insiders/internal/commands/shared"
)

const docsURL = "https://github.com/tombee/insiders#readme"

// groupTitles orders the command groups in the overview.
var groupTitles = []struct{ id, title string }{
	{"releases", "Repositories and releases"},
	{"daemons", "Daemons"},
	{"system", "System"},
}

// CommandMetadata describes one command in JSON help.
type CommandMetadata struct {
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	Short       string            `json:"short"`
	Long        string            `json:"long,omitempty"`
	Usage       string            `json:"usage"`
	Examples    string            `json:"examples,omitempty"`
	Group       string            `json:"group,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	Flags       []FlagMetadata    `json:"flags,omitempty"`
	Subcommands []CommandMetadata `json:"subcommands,omitempty"`
}

// FlagMetadata describes one flag in JSON help.
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required"`
}

// HelpResponse is the JSON form of help.
type HelpResponse struct {
	shared.JSONResponse
	Commands    []CommandMetadata `json:"commands,omitempty"`
	Command     *CommandMetadata  `json:"command,omitempty"`
	GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
	DocsURL     string            `json:"docs_url"`
}

// NewHelpCommand creates the help command. Without arguments it prints
// the commands grouped by purpose.
func NewHelpCommand(root *cobra.Command) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Show help for insiders or one of its commands.

Use --json for a machine-readable command tree.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON := jsonOutput || shared.GetJSON()

			if len(args) == 0 {
				if asJSON {
					var all []CommandMetadata
					for _, c := range visible(root) {
						all = append(all, describe(c))
					}
					return writeHelp(cmd.OutOrStdout(), HelpResponse{
						JSONResponse: envelope("help"),
						Commands:     all,
						GlobalFlags:  flagList(root.PersistentFlags()),
						DocsURL:      docsURL,
					})
				}
				printOverview(cmd.OutOrStdout(), root)
				return nil
			}

			target, _, err := root.Find(args)
			if err != nil || target == root {
				return shared.NewInvalidInputError(fmt.Sprintf("unknown command %q", strings.Join(args, " ")), err)
			}
			if !asJSON {
				return target.Help()
			}
			meta := describe(target)
			return writeHelp(cmd.OutOrStdout(), HelpResponse{
				JSONResponse: envelope("help " + meta.Path),
				Command:      &meta,
				GlobalFlags:  flagList(root.PersistentFlags()),
				DocsURL:      docsURL,
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func envelope(command string) shared.JSONResponse {
	return shared.JSONResponse{Version: "1.0", Command: command, Success: true}
}

func writeHelp(w io.Writer, resp HelpResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// printOverview lists top-level commands under their group titles.
// Commands without a known group go last.
func printOverview(w io.Writer, root *cobra.Command) {
	fmt.Fprintln(w, root.Long)
	fmt.Fprintln(w)

	byGroup := map[string][]*cobra.Command{}
	for _, c := range visible(root) {
		byGroup[c.Annotations["group"]] = append(byGroup[c.Annotations["group"]], c)
	}

	section := func(title string, cmds []*cobra.Command) {
		if len(cmds) == 0 {
			return
		}
		fmt.Fprintln(w, shared.Header.Render(title))
		for _, c := range cmds {
			fmt.Fprintf(w, "  %-14s %s\n", c.Name(), c.Short)
		}
		fmt.Fprintln(w)
	}

	for _, g := range groupTitles {
		section(g.title, byGroup[g.id])
		delete(byGroup, g.id)
	}
	var rest []*cobra.Command
	for _, cmds := range byGroup {
		rest = append(rest, cmds...)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Name() < rest[j].Name() })
	section("Other", rest)

	fmt.Fprintf(w, "Run '%s help <command>' for details.\n", root.Name())
}

func visible(cmd *cobra.Command) []*cobra.Command {
	var out []*cobra.Command
	for _, c := range cmd.Commands() {
		if !c.Hidden && c.IsAvailableCommand() {
			out = append(out, c)
		}
	}
	return out
}

// describe builds the metadata of cmd and its visible subcommands.
func describe(cmd *cobra.Command) CommandMetadata {
	path := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
	meta := CommandMetadata{
		Name:     cmd.Name(),
		Path:     path,
		Short:    cmd.Short,
		Long:     cmd.Long,
		Usage:    cmd.UseLine(),
		Examples: cmd.Example,
		Group:    cmd.Annotations["group"],
		Aliases:  cmd.Aliases,
		Flags:    flagList(cmd.LocalNonPersistentFlags()),
	}
	for _, sub := range visible(cmd) {
		meta.Subcommands = append(meta.Subcommands, describe(sub))
	}
	return meta
}

func flagList(fs *pflag.FlagSet) []FlagMetadata {
	var out []FlagMetadata
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		required := false
		if v, ok := f.Annotations[cobra.BashCompOneRequiredFlag]; ok && len(v) > 0 {
			required = v[0] == "true"
		}
		out = append(out, FlagMetadata{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  required,
		})
	})
	return out
}

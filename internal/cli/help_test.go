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
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func newHelpTestRoot() *cobra.Command {
	root := NewRootCommand()

	repos := &cobra.Command{
		Use:         "repos",
		Short:       "Manage watched repositories",
		Annotations: map[string]string{"group": "releases"},
	}
	add := &cobra.Command{
		Use:     "add NAMESPACE/PROJECT[:DISTRIBUTION][@BRANCH]...",
		Short:   "Register repositories",
		Example: "  insiders repos add acme/tool:acme-tool",
		Run:     func(*cobra.Command, []string) {},
	}
	add.Flags().String("branch", "", "Branch to build from")
	add.Flags().String("token", "", "Hidden flag")
	_ = add.Flags().MarkHidden("token")
	repos.AddCommand(add)
	root.AddCommand(repos)

	root.SetHelpCommand(NewHelpCommand(root))
	return root
}

func TestHelpCommandJSON_All(t *testing.T) {
	root := newHelpTestRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"help", "--json"})

	if err := root.Execute(); err != nil {
		t.Fatalf("help --json failed: %v", err)
	}

	var resp HelpResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out.String())
	}
	if !resp.Success || resp.JSONResponse.Command != "help" {
		t.Errorf("unexpected envelope: %+v", resp.JSONResponse)
	}

	var names []string
	for _, c := range resp.Commands {
		names = append(names, c.Name)
	}
	found := false
	for _, n := range names {
		if n == "repos" {
			found = true
		}
	}
	if !found {
		t.Errorf("repos missing from %v", names)
	}

	global := map[string]bool{}
	for _, f := range resp.GlobalFlags {
		global[f.Name] = true
	}
	for _, want := range []string{"json", "config", "log-level"} {
		if !global[want] {
			t.Errorf("global flag %q missing", want)
		}
	}
}

func TestHelpCommandJSON_Single(t *testing.T) {
	root := newHelpTestRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"help", "repos", "add", "--json"})

	if err := root.Execute(); err != nil {
		t.Fatalf("help repos add --json failed: %v", err)
	}

	var resp HelpResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Command == nil {
		t.Fatal("expected command metadata")
	}
	if resp.Command.Name != "add" || resp.Command.Path != "repos add" {
		t.Errorf("name, path = %q, %q; want add, repos add", resp.Command.Name, resp.Command.Path)
	}
	if resp.Command.Examples == "" {
		t.Error("expected examples")
	}
	for _, f := range resp.Command.Flags {
		if f.Name == "token" {
			t.Error("hidden flags must not be listed")
		}
	}
}

func TestHelpCommand_Unknown(t *testing.T) {
	root := newHelpTestRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"help", "nope", "--json"})

	if err := root.Execute(); err == nil {
		t.Error("expected an error for an unknown command")
	}
}

func TestHelpCommand_GroupedOverview(t *testing.T) {
	root := newHelpTestRoot()
	root.AddCommand(&cobra.Command{Use: "misc", Short: "Ungrouped", Run: func(*cobra.Command, []string) {}})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"help"})

	if err := root.Execute(); err != nil {
		t.Fatalf("help failed: %v", err)
	}

	text := out.String()
	releases := strings.Index(text, "Repositories and releases")
	other := strings.Index(text, "Other")
	if releases < 0 || other < 0 || releases > other {
		t.Fatalf("expected grouped sections in order:\n%s", text)
	}
	if !strings.Contains(text[releases:other], "repos") {
		t.Errorf("repos not listed under its group:\n%s", text)
	}
}

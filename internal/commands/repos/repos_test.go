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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tombee/insiders/internal/commands/shared"
	pkgerrors "github.com/tombee/insiders/pkg/errors"
)

func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "paths:\n" +
		"  registry: " + filepath.Join(dir, "repos.json") + "\n" +
		"  repos: " + filepath.Join(dir, "clones") + "\n" +
		"  state: " + filepath.Join(dir, "state") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	shared.SetConfigPathForTest(path)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAddListRemove(t *testing.T) {
	dir := setupConfig(t)

	out, _, err := execute(t, "add", "acme/tool:acme-tool", "acme/lib@develop")
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	if !strings.Contains(out, "Watching acme/tool (distribution acme-tool)") {
		t.Errorf("add output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "repos.json")); err != nil {
		t.Errorf("registry file not written: %v", err)
	}

	out, _, err = execute(t, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	tool := strings.Index(out, "acme/tool")
	lib := strings.Index(out, "acme/lib")
	if tool < 0 || lib < 0 || tool > lib {
		t.Errorf("list should show both in insertion order:\n%s", out)
	}
	if !strings.Contains(out, "develop") {
		t.Errorf("list should show the branch override:\n%s", out)
	}

	out, _, err = execute(t, "remove", "ACME/Tool", "--yes")
	if err != nil {
		t.Fatalf("remove error = %v", err)
	}
	if !strings.Contains(out, "Removed acme/tool") {
		t.Errorf("remove output = %q", out)
	}

	out, _, err = execute(t, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if strings.Contains(out, "acme/tool") {
		t.Errorf("acme/tool still listed:\n%s", out)
	}
}

func TestAdd_Duplicate(t *testing.T) {
	setupConfig(t)

	if _, _, err := execute(t, "add", "acme/tool"); err != nil {
		t.Fatalf("add error = %v", err)
	}
	out, errOut, err := execute(t, "add", "Acme/Tool", "acme/other")

	var dup *pkgerrors.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("error = %v, want DuplicateError", err)
	}
	if shared.ExitCodeFor(err) != shared.ExitInvalidInput {
		t.Errorf("exit code = %d, want %d", shared.ExitCodeFor(err), shared.ExitInvalidInput)
	}
	if errOut == "" {
		t.Errorf("duplicate should be reported on stderr")
	}
	if !strings.Contains(out, "acme/other") {
		t.Errorf("other repositories should still be added, output = %q", out)
	}
}

func TestAdd_InvalidRegistersNothing(t *testing.T) {
	setupConfig(t)

	_, _, err := execute(t, "add", "acme/tool", "not-a-repo")
	var cfgErr *pkgerrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigError", err)
	}

	out, _, err := execute(t, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "No repositories registered") {
		t.Errorf("nothing should be registered after invalid input:\n%s", out)
	}
}

func TestRemove_NotFound(t *testing.T) {
	setupConfig(t)

	_, _, err := execute(t, "remove", "acme/missing", "--yes")
	var nf *pkgerrors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if shared.ExitCodeFor(err) != shared.ExitNotFound {
		t.Errorf("exit code = %d, want %d", shared.ExitCodeFor(err), shared.ExitNotFound)
	}
}

func TestRemove_RequiresConfirmationWhenNonInteractive(t *testing.T) {
	setupConfig(t)
	t.Setenv("INSIDERS_NON_INTERACTIVE", "true")

	if _, _, err := execute(t, "add", "acme/tool"); err != nil {
		t.Fatalf("add error = %v", err)
	}

	_, _, err := execute(t, "remove", "acme/tool")
	if shared.ExitCodeFor(err) != shared.ExitInvalidInput {
		t.Fatalf("error = %v, want invalid input", err)
	}

	out, _, _ := execute(t, "list")
	if !strings.Contains(out, "acme/tool") {
		t.Error("repository should still be registered")
	}
}

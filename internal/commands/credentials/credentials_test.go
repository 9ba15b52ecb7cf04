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

package credentials

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/secrets"
)

type memoryBackend struct {
	values map[string]string
}

func (m *memoryBackend) Name() string    { return "memory" }
func (m *memoryBackend) Available() bool { return true }
func (m *memoryBackend) Priority() int   { return 100 }

func (m *memoryBackend) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", secrets.ErrSecretNotFound
	}
	return v, nil
}

func (m *memoryBackend) Set(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memoryBackend) Delete(ctx context.Context, key string) error {
	if _, ok := m.values[key]; !ok {
		return secrets.ErrSecretNotFound
	}
	delete(m.values, key)
	return nil
}

func useMemory(t *testing.T) *memoryBackend {
	t.Helper()
	backend := &memoryBackend{values: map[string]string{}}
	orig := newResolver
	newResolver = func() *secrets.Resolver { return secrets.NewResolver(backend) }
	t.Cleanup(func() { newResolver = orig })
	return backend
}

func execute(stdin string, args ...string) (string, error) {
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetGetDelete(t *testing.T) {
	backend := useMemory(t)

	if _, err := execute("ghp_abcdefghijkl\n", "set", "git/token"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	if backend.values["git/token"] != "ghp_abcdefghijkl" {
		t.Errorf("stored value = %q", backend.values["git/token"])
	}

	out, err := execute("", "get", "git/token")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if strings.Contains(out, "ghp_abcdefghijkl") || !strings.Contains(out, "ghp_...ijkl") {
		t.Errorf("get output should be masked, got %q", out)
	}

	out, err = execute("", "get", "git/token", "--unmask")
	if err != nil {
		t.Fatalf("get --unmask error = %v", err)
	}
	if strings.TrimSpace(out) != "ghp_abcdefghijkl" {
		t.Errorf("get --unmask output = %q", out)
	}

	if _, err := execute("", "delete", "git/token"); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if _, ok := backend.values["git/token"]; ok {
		t.Error("value should be deleted")
	}

	if _, err := execute("", "delete", "git/token"); err == nil {
		t.Error("deleting a missing credential should fail")
	}
}

func TestSet_RejectsInvalidInput(t *testing.T) {
	useMemory(t)

	_, err := execute("value", "set", "providers/anthropic/api_key")
	if shared.ExitCodeFor(err) != shared.ExitInvalidInput {
		t.Errorf("unknown key: exit code = %d, want %d", shared.ExitCodeFor(err), shared.ExitInvalidInput)
	}

	_, err = execute("   \n", "set", "index/pypi/password")
	if shared.ExitCodeFor(err) != shared.ExitInvalidInput {
		t.Errorf("empty value: exit code = %d, want %d", shared.ExitCodeFor(err), shared.ExitInvalidInput)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                 "****",
		"short":            "****",
		"pypi-AgEIcHlwaS5": "pypi...waS5",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

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

package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

type recordingEvictor struct {
	mu      sync.Mutex
	evicted []string
	err     error
}

func (e *recordingEvictor) Evict(repo Repository) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted = append(e.evicted, repo.ID())
	return e.err
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "config", "repos.json"), opts...)
}

func TestRegistry_EmptyWhenMissing(t *testing.T) {
	reg := newTestRegistry(t)

	repos, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, repos)

	_, err = os.Stat(reg.Path())
	assert.True(t, os.IsNotExist(err), "List must not create the registry file")
}

func TestRegistry_AddListOrder(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"}))
	require.NoError(t, reg.Add(Repository{Namespace: "acme", Project: "lib", Distribution: "acme-lib", Branch: "stable"}))
	require.NoError(t, reg.Add(Repository{Namespace: "beta", Project: "app", Distribution: "app"}))

	repos, err := reg.List()
	require.NoError(t, err)
	require.Len(t, repos, 3)
	assert.Equal(t, "acme/tool", repos[0].ID())
	assert.Equal(t, "acme/lib", repos[1].ID())
	assert.Equal(t, "stable", repos[1].Branch)
	assert.Equal(t, "beta/app", repos[2].ID())
}

func TestRegistry_AddDuplicate(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Add(Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"}))

	err := reg.Add(Repository{Namespace: "ACME", Project: "Tool", Distribution: "other"})
	require.Error(t, err)

	var dup *insiderserrors.DuplicateError
	require.True(t, errors.As(err, &dup), "expected DuplicateError, got %T", err)
	assert.Equal(t, "acme/tool", dup.ID)

	repos, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, repos, 1, "duplicate must not change the registry")
}

func TestRegistry_AddInvalid(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name string
		repo Repository
		key  string
	}{
		{"missing namespace", Repository{Project: "tool", Distribution: "tool"}, "namespace"},
		{"missing project", Repository{Namespace: "acme", Distribution: "tool"}, "project"},
		{"missing distribution", Repository{Namespace: "acme", Project: "tool"}, "distribution"},
		{"bad distribution", Repository{Namespace: "acme", Project: "tool", Distribution: "-tool"}, "distribution"},
		{"bad branch", Repository{Namespace: "acme", Project: "tool", Distribution: "tool", Branch: "a b"}, "branch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Add(tt.repo)
			var cfgErr *insiderserrors.ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestRegistry_RemoveEvicts(t *testing.T) {
	evictor := &recordingEvictor{}
	reg := newTestRegistry(t, WithEvictor(evictor))

	require.NoError(t, reg.Add(Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"}))
	require.NoError(t, reg.Add(Repository{Namespace: "acme", Project: "lib", Distribution: "acme-lib"}))

	removed, err := reg.Remove("Acme/Tool")
	require.NoError(t, err)
	assert.Equal(t, "acme/tool", removed.ID())
	assert.Equal(t, []string{"acme/tool"}, evictor.evicted)

	repos, err := reg.List()
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme/lib", repos[0].ID())
}

func TestRegistry_RemoveEvictorFailureIsNotFatal(t *testing.T) {
	evictor := &recordingEvictor{err: errors.New("disk full")}
	reg := newTestRegistry(t, WithEvictor(evictor))
	require.NoError(t, reg.Add(Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"}))

	_, err := reg.Remove("acme/tool")
	require.NoError(t, err)

	repos, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestRegistry_RemoveNotFound(t *testing.T) {
	evictor := &recordingEvictor{}
	reg := newTestRegistry(t, WithEvictor(evictor))

	_, err := reg.Remove("acme/missing")
	var nf *insiderserrors.NotFoundError
	require.True(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)
	assert.Empty(t, evictor.evicted)
}

func TestRegistry_Get(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Add(Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"}))

	repo, err := reg.Get("ACME/tool")
	require.NoError(t, err)
	assert.Equal(t, "acme-tool", repo.Distribution)

	_, err = reg.Get("acme/other")
	var nf *insiderserrors.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestRegistry_FileFormat(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Add(Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"}))

	data, err := os.ReadFile(reg.Path())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, float64(FormatVersion), doc["version"])
	assert.Contains(t, string(data), "\n  \"repositories\"", "registry should be indented")

	info, err := os.Stat(reg.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(reg.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temporary file left behind")
	}
}

func TestRegistry_SharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")
	cli := New(path)
	daemon := New(path)

	require.NoError(t, cli.Add(Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"}))

	repos, err := daemon.List()
	require.NoError(t, err)
	require.Len(t, repos, 1)

	err = daemon.Add(Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"})
	var dup *insiderserrors.DuplicateError
	assert.True(t, errors.As(err, &dup))
}

func TestRegistry_ConcurrentAdds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")

	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			// Separate instances exercise the file lock rather than the mutex.
			assert.NoError(t, New(path).Add(Repository{Namespace: "acme", Project: name, Distribution: name}))
		}(name)
	}
	wg.Wait()

	repos, err := New(path).List()
	require.NoError(t, err)
	assert.Len(t, repos, len(names))
}

func TestRegistry_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")

	old := lockTimeout
	lockTimeout = 100 * time.Millisecond
	t.Cleanup(func() { lockTimeout = old })

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- withFileLock(path, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := New(path).Add(Repository{Namespace: "acme", Project: "tool", Distribution: "tool"})
	assert.ErrorIs(t, err, ErrLockTimeout)

	close(release)
	require.NoError(t, <-done)
}

func TestRegistry_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := New(path).List()
	var cfgErr *insiderserrors.ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
}

func TestRegistry_InvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")
	doc := `{"version":1,"repositories":[{"namespace":"acme","project":"tool","distribution":"tool"},{"namespace":"acme","project":"","distribution":"x"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	_, err := New(path).List()
	var cfgErr *insiderserrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "repositories[1]", cfgErr.Key)
}

func TestRegistry_FutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":2,"repositories":[]}`), 0600))

	_, err := New(path).List()
	var cfgErr *insiderserrors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Repository
		wantErr bool
	}{
		{
			input: "acme/tool:acme-tool",
			want:  Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"},
		},
		{
			input: "acme/tool:acme-tool@develop",
			want:  Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool", Branch: "develop"},
		},
		{
			input: "  pawamoy/mkdocstrings-python.git  ",
			want:  Repository{Namespace: "pawamoy", Project: "mkdocstrings-python", Distribution: "mkdocstrings-python"},
		},
		{
			input: "acme/tool@release/1.x",
			want:  Repository{Namespace: "acme", Project: "tool", Distribution: "tool", Branch: "release/1.x"},
		},
		{input: "acme-tool", wantErr: true},
		{input: "acme/tool:", wantErr: true},
		{input: "acme/tool:x@", wantErr: true},
		{input: "/tool:x", wantErr: true},
		{input: "acme/:x", wantErr: true},
		{input: "acme/a/b:x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				var cfgErr *insiderserrors.ConfigError
				assert.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepository_String(t *testing.T) {
	repo := Repository{Namespace: "acme", Project: "tool", Distribution: "acme-tool"}
	assert.Equal(t, "acme/tool:acme-tool", repo.String())

	repo.Branch = "main"
	assert.Equal(t, "acme/tool:acme-tool@main", repo.String())
}

func TestRegistry_SaveSyncsDirectory(t *testing.T) {
	var synced []string
	orig := syncDir
	syncDir = func(dir string) error {
		synced = append(synced, dir)
		return orig(dir)
	}
	t.Cleanup(func() { syncDir = orig })

	reg := newTestRegistry(t)
	repo, err := Parse("acme/tool")
	require.NoError(t, err)
	require.NoError(t, reg.Add(repo))
	_, err = reg.Remove("acme/tool")
	require.NoError(t, err)

	dir := filepath.Dir(reg.Path())
	assert.Equal(t, []string{dir, dir}, synced)
}

func TestRegistry_SaveReportsDirectorySyncFailure(t *testing.T) {
	orig := syncDir
	syncDir = func(string) error { return errors.New("sync failed") }
	t.Cleanup(func() { syncDir = orig })

	reg := newTestRegistry(t)
	repo, err := Parse("acme/tool")
	require.NoError(t, err)

	err = reg.Add(repo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync registry directory")
}

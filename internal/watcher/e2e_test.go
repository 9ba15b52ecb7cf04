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

package watcher

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/gitrepo"
	"github.com/tombee/insiders/internal/index"
	"github.com/tombee/insiders/internal/oracle"
	"github.com/tombee/insiders/internal/pipeline"
	"github.com/tombee/insiders/internal/registry"
)

// gitUpstream creates <root>/acme/tool with one commit per tag.
func gitUpstream(t *testing.T, root string, tags ...string) {
	t.Helper()

	path := filepath.Join(root, "acme", "tool")
	require.NoError(t, os.MkdirAll(path, 0755))
	repo, err := git.PlainInit(path, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()}
	for _, tag := range tags {
		require.NoError(t, os.WriteFile(filepath.Join(path, "VERSION"), []byte(tag), 0644))
		_, err := wt.Add("VERSION")
		require.NoError(t, err)
		hash, err := wt.Commit("release "+tag, &git.CommitOptions{Author: sig})
		require.NoError(t, err)
		_, err = repo.CreateTag(tag, hash, nil)
		require.NoError(t, err)
	}

	head, err := repo.Head()
	require.NoError(t, err)
	if head.Name().Short() != "main" {
		require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("main"), Create: true}))
	}
}

func TestEndToEnd_BuildsAndPublishesNewTag(t *testing.T) {
	root := t.TempDir()
	gitUpstream(t, root, "v1.0.0-insiders-4.0", "v1.1.0-insiders-4.1")

	store, err := index.NewStore(filepath.Join(t.TempDir(), "dists"))
	require.NoError(t, err)
	_, err = store.Save("acme_tool-1.0.0+insiders.4.0.tar.gz", strings.NewReader("old"), false)
	require.NoError(t, err)
	srv := httptest.NewServer(index.NewServer(index.ServerConfig{Store: store}))
	defer srv.Close()

	reg := registry.New(filepath.Join(t.TempDir(), "registry.json"))
	repo, err := registry.Parse("acme/tool:acme-tool")
	require.NoError(t, err)
	require.NoError(t, reg.Add(repo))

	gitClient := gitrepo.New(gitrepo.Options{
		Dir:      filepath.Join(t.TempDir(), "repos"),
		CloneURL: filepath.Join(root, "{namespace}", "{project}"),
	})
	obs := oracle.New(gitClient, index.NewClient(srv.URL, srv.Client()))
	builder := pipeline.New(pipeline.GitSource(gitClient), index.NewUploader(srv.Client()), pipeline.Config{
		Build: config.BuildConfig{
			Command:   `printf "%s" "$(cat VERSION)" > "$INSIDERS_OUTDIR/acme_tool-$INSIDERS_VERSION.tar.gz"`,
			Timeout:   time.Minute,
			OutputDir: "dist-insiders",
		},
		Targets: []config.IndexTarget{{Name: "local", URL: srv.URL}},
	})

	loop := New(reg, obs, builder)

	report, err := loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Repositories, 1)
	rr := report.Repositories[0]
	require.Equal(t, OutcomeBuilt, rr.Outcome, "error: %s", rr.Error)
	assert.Equal(t, "v1.1.0-insiders-4.1", rr.Tag)
	assert.Equal(t, "1.1.0+insiders.4.1", rr.Version)
	assert.Equal(t, map[string]bool{"local": true}, rr.Published)

	file, err := store.Lookup("acme_tool-1.1.0+insiders.4.1.tar.gz")
	require.NoError(t, err)
	data, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, "v1.1.0-insiders-4.1", string(data), "artifact must be built from the tagged commit")

	versions, err := index.NewClient(srv.URL, srv.Client()).Versions(context.Background(), "acme-tool")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0+insiders.4.0", "1.1.0+insiders.4.1"}, versions)

	again, err := loop.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, again.Repositories[0].Outcome)
	assert.Equal(t, oracle.SkipAlreadyPublished, again.Repositories[0].Reason)
}

func TestEndToEnd_ExtraIndexesDoNotRebuild(t *testing.T) {
	root := t.TempDir()
	gitUpstream(t, root, "v1.0.0")

	newIndex := func() (*index.Store, *httptest.Server) {
		store, err := index.NewStore(filepath.Join(t.TempDir(), "dists"))
		require.NoError(t, err)
		srv := httptest.NewServer(index.NewServer(index.ServerConfig{Store: store}))
		t.Cleanup(srv.Close)
		return store, srv
	}
	localStore, local := newIndex()
	teamStore, team := newIndex()

	cfg := config.Default()
	cfg.Watcher.IndexURL = local.URL
	cfg.Indexes = []config.IndexTarget{{Name: "team", URL: team.URL}}
	require.NoError(t, cfg.Validate())

	reg := registry.New(filepath.Join(t.TempDir(), "registry.json"))
	repo, err := registry.Parse("acme/tool:acme-tool")
	require.NoError(t, err)
	require.NoError(t, reg.Add(repo))

	gitClient := gitrepo.New(gitrepo.Options{
		Dir:      filepath.Join(t.TempDir(), "repos"),
		CloneURL: filepath.Join(root, "{namespace}", "{project}"),
	})
	obs := oracle.New(gitClient, index.NewClient(cfg.Watcher.IndexURL, local.Client()))
	builder := pipeline.New(pipeline.GitSource(gitClient), index.NewUploader(local.Client()), pipeline.Config{
		Build: config.BuildConfig{
			Command:   `printf "%s" "$(cat VERSION)" > "$INSIDERS_OUTDIR/acme_tool-$INSIDERS_VERSION.tar.gz"`,
			Timeout:   time.Minute,
			OutputDir: "dist-insiders",
		},
		Targets: cfg.PublishTargets(),
	})
	loop := New(reg, obs, builder)

	first, err := loop.RunOnce(context.Background())
	require.NoError(t, err)
	rr := first.Repositories[0]
	require.Equal(t, OutcomeBuilt, rr.Outcome, "error: %s", rr.Error)
	assert.Equal(t, map[string]bool{config.LocalIndexName: true, "team": true}, rr.Published)

	for _, store := range []*index.Store{localStore, teamStore} {
		_, err := store.Lookup("acme_tool-1.0.0.tar.gz")
		assert.NoError(t, err, "artifact missing from %s", store.Dir())
	}

	for cycle := 2; cycle <= 3; cycle++ {
		report, err := loop.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, report.Repositories[0].Outcome, "cycle %d rebuilt a published version", cycle)
		assert.Equal(t, 0, report.Built())
	}
}

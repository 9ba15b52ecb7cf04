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

// Package registry persists the set of watched repositories.
//
// The registry is a small JSON document that both the CLI and the
// watcher daemon read. Every mutation is a read-modify-write under an
// advisory file lock and lands on disk through a temp file and rename,
// so a concurrent reader sees either the old or the new document.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

// FormatVersion is the current on-disk document version.
const FormatVersion = 1

// Repository is a watched upstream repository and the distribution it
// publishes.
type Repository struct {
	Namespace    string `json:"namespace"`
	Project      string `json:"project"`
	Distribution string `json:"distribution"`
	Branch       string `json:"branch,omitempty"`
}

// ID returns the NAMESPACE/PROJECT identity.
func (r Repository) ID() string {
	return r.Namespace + "/" + r.Project
}

// key is the case-insensitive identity used for lookups.
func (r Repository) key() string {
	return strings.ToLower(r.ID())
}

// Matches reports whether id names this repository, ignoring case.
func (r Repository) Matches(id string) bool {
	return strings.EqualFold(r.ID(), strings.TrimSpace(id))
}

// Evictor purges state cached for a repository when it is removed.
type Evictor interface {
	Evict(repo Repository) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for eviction warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithEvictor registers an evictor called after a successful Remove.
func WithEvictor(e Evictor) Option {
	return func(r *Registry) {
		r.evictors = append(r.evictors, e)
	}
}

// Registry is the file-backed repository registry.
type Registry struct {
	path     string
	logger   *slog.Logger
	evictors []Evictor

	// mu serializes mutations within this process; the file lock covers
	// other processes.
	mu sync.Mutex
}

// New returns a registry stored at path. The file is created on the
// first mutation.
func New(path string, opts ...Option) *Registry {
	r := &Registry{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the registry file path.
func (r *Registry) Path() string {
	return r.path
}

// Add registers repo. It fails with a DuplicateError when a repository
// with the same identity, compared case-insensitively, already exists.
func (r *Registry) Add(repo Repository) error {
	repo = repo.normalized()
	if err := repo.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return withFileLock(r.path, func() error {
		doc, err := r.load()
		if err != nil {
			return err
		}
		for _, existing := range doc.Repositories {
			if existing.key() == repo.key() {
				return &insiderserrors.DuplicateError{Resource: "repository", ID: existing.ID()}
			}
		}
		doc.Repositories = append(doc.Repositories, repo)
		return r.save(doc)
	})
}

// Remove unregisters the repository named by id and evicts any cached
// state for it. It fails with a NotFoundError when id is not registered.
func (r *Registry) Remove(id string) (Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed Repository
	err := withFileLock(r.path, func() error {
		doc, err := r.load()
		if err != nil {
			return err
		}
		idx := -1
		for i, existing := range doc.Repositories {
			if existing.Matches(id) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &insiderserrors.NotFoundError{Resource: "repository", ID: id}
		}
		removed = doc.Repositories[idx]
		doc.Repositories = append(doc.Repositories[:idx], doc.Repositories[idx+1:]...)
		return r.save(doc)
	})
	if err != nil {
		return Repository{}, err
	}

	for _, e := range r.evictors {
		if err := e.Evict(removed); err != nil {
			r.logger.Warn("failed to evict cached repository state",
				slog.String("repository", removed.ID()),
				slog.Any("error", err))
		}
	}
	return removed, nil
}

// List returns the registered repositories in insertion order.
func (r *Registry) List() ([]Repository, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	return doc.Repositories, nil
}

// Get returns the repository named by id.
func (r *Registry) Get(id string) (Repository, error) {
	repos, err := r.List()
	if err != nil {
		return Repository{}, err
	}
	for _, repo := range repos {
		if repo.Matches(id) {
			return repo, nil
		}
	}
	return Repository{}, &insiderserrors.NotFoundError{Resource: "repository", ID: id}
}

type document struct {
	Version      int          `json:"version"`
	Repositories []Repository `json:"repositories"`
}

// load reads the registry file. A missing file is an empty registry.
func (r *Registry) load() (*document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Version: FormatVersion, Repositories: []Repository{}}, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &insiderserrors.ConfigError{
			Key:    r.path,
			Reason: "registry file is not valid JSON",
			Cause:  err,
		}
	}
	if doc.Version > FormatVersion {
		return nil, &insiderserrors.ConfigError{
			Key:    r.path,
			Reason: fmt.Sprintf("unsupported registry version %d (this build understands %d)", doc.Version, FormatVersion),
		}
	}
	if doc.Repositories == nil {
		doc.Repositories = []Repository{}
	}
	for i, repo := range doc.Repositories {
		if err := repo.Validate(); err != nil {
			return nil, &insiderserrors.ConfigError{
				Key:    fmt.Sprintf("repositories[%d]", i),
				Reason: err.Error(),
				Cause:  err,
			}
		}
	}
	doc.Version = FormatVersion
	return &doc, nil
}

// save writes doc atomically: temp file, fsync, rename.
func (r *Registry) save(doc *document) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set registry permissions: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("failed to sync registry directory: %w", err)
	}
	return nil
}

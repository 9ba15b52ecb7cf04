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

package index

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tombee/insiders/internal/pep440"
)

// ErrFileExists is returned when storing a file that is already present.
var ErrFileExists = errors.New("file already exists")

// File is a distribution file held by the store.
type File struct {
	FileInfo
	Path    string
	Size    int64
	SHA256  string
	ModTime time.Time
}

// Store is a flat directory of distribution files.
type Store struct {
	dir string

	mu     sync.Mutex
	hashes map[string]hashEntry
}

type hashEntry struct {
	size    int64
	modTime time.Time
	sum     string
}

// NewStore returns a store over dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create dist directory: %w", err)
	}
	return &Store{dir: dir, hashes: make(map[string]hashEntry)}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Projects returns the files grouped by normalized project name.
// Files whose names do not parse are ignored.
func (s *Store) Projects() (map[string][]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dist directory: %w", err)
	}

	projects := make(map[string][]File)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := ParseFilename(entry.Name())
		if err != nil {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		projects[info.Distribution] = append(projects[info.Distribution], File{
			FileInfo: info,
			Path:     filepath.Join(s.dir, entry.Name()),
			Size:     fi.Size(),
			ModTime:  fi.ModTime(),
		})
	}
	for name := range projects {
		sortFiles(projects[name])
	}
	return projects, nil
}

// Files returns the files of one project with their sha256 digests. The
// second result is false when the project has no local files.
func (s *Store) Files(name string) ([]File, bool, error) {
	projects, err := s.Projects()
	if err != nil {
		return nil, false, err
	}
	files, ok := projects[NormalizeName(name)]
	if !ok {
		return nil, false, nil
	}
	for i := range files {
		sum, err := s.digest(files[i])
		if err != nil {
			return nil, false, err
		}
		files[i].SHA256 = sum
	}
	return files, true, nil
}

// Versions returns the canonical versions of a project, oldest first.
func Versions(files []File) []string {
	seen := make(map[string]struct{})
	var versions []string
	for _, f := range files {
		v := f.CanonicalVersion()
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		versions = append(versions, v)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return compareVersionStrings(versions[i], versions[j]) < 0
	})
	return versions
}

// Latest returns the greatest version in versions, or "".
func Latest(versions []string) string {
	latest := ""
	for _, v := range versions {
		if latest == "" || compareVersionStrings(latest, v) < 0 {
			latest = v
		}
	}
	return latest
}

// Lookup returns the stored file named filename.
func (s *Store) Lookup(filename string) (File, error) {
	info, err := ParseFilename(filename)
	if err != nil {
		return File{}, err
	}
	path := filepath.Join(s.dir, filename)
	fi, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if !fi.Mode().IsRegular() {
		return File{}, os.ErrNotExist
	}
	f := File{FileInfo: info, Path: path, Size: fi.Size(), ModTime: fi.ModTime()}
	f.SHA256, err = s.digest(f)
	return f, err
}

// Save writes r to filename atomically. It fails with ErrFileExists when
// the file is present and overwrite is false.
func (s *Store) Save(filename string, r io.Reader, overwrite bool) (File, error) {
	info, err := ParseFilename(filename)
	if err != nil {
		return File{}, err
	}
	path := filepath.Join(s.dir, filename)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return File{}, ErrFileExists
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return File{}, fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		cleanup()
		return File{}, fmt.Errorf("write %s: %w", filename, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return File{}, fmt.Errorf("sync %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return File{}, fmt.Errorf("close %s: %w", filename, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return File{}, fmt.Errorf("chmod %s: %w", filename, err)
	}

	if overwrite {
		err = os.Rename(tmpPath, path)
	} else {
		// Link fails if another upload won the race.
		err = os.Link(tmpPath, path)
		os.Remove(tmpPath)
		if errors.Is(err, os.ErrExist) {
			return File{}, ErrFileExists
		}
	}
	if err != nil {
		os.Remove(tmpPath)
		return File{}, fmt.Errorf("store %s: %w", filename, err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	f := File{FileInfo: info, Path: path, Size: size, ModTime: fi.ModTime(), SHA256: hex.EncodeToString(h.Sum(nil))}
	s.mu.Lock()
	s.hashes[path] = hashEntry{size: fi.Size(), modTime: fi.ModTime(), sum: f.SHA256}
	s.mu.Unlock()
	return f, nil
}

// digest returns the sha256 of f, cached by size and mtime.
func (s *Store) digest(f File) (string, error) {
	s.mu.Lock()
	entry, ok := s.hashes[f.Path]
	s.mu.Unlock()
	if ok && entry.size == f.Size && entry.modTime.Equal(f.ModTime) {
		return entry.sum, nil
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", f.Filename, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	s.mu.Lock()
	s.hashes[f.Path] = hashEntry{size: f.Size, modTime: f.ModTime, sum: sum}
	s.mu.Unlock()
	return sum, nil
}

func sortFiles(files []File) {
	sort.SliceStable(files, func(i, j int) bool {
		if c := compareVersionStrings(files[i].Version, files[j].Version); c != 0 {
			return c < 0
		}
		return files[i].Filename < files[j].Filename
	})
}

// compareVersionStrings orders parseable versions by PEP 440 and places
// unparseable ones first, ordered lexically.
func compareVersionStrings(a, b string) int {
	va, errA := pep440.Parse(a)
	vb, errB := pep440.Parse(b)
	switch {
	case errA == nil && errB == nil:
		return pep440.Compare(va, vb)
	case errA != nil && errB == nil:
		return -1
	case errA == nil && errB != nil:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

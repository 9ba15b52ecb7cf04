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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	insiderslog "github.com/tombee/insiders/internal/log"
)

// debounceDelay coalesces the burst of events produced by an atomic
// rename of the registry file.
const debounceDelay = 200 * time.Millisecond

// watchFile returns a channel that receives after path is written,
// created, renamed or removed. The parent directory is watched so that
// replacing the file through a rename is still seen. The watch stops
// when ctx is done.
func watchFile(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Debug("watching registry for changes", slog.String("path", absPath))

	wake := make(chan struct{}, 1)
	go func() {
		defer fsWatcher.Close()

		var debounce *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(debounceDelay)
				} else {
					debounce.Reset(debounceDelay)
				}
				fire = debounce.C
			case <-fire:
				fire = nil
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				logger.Warn("registry watch error", insiderslog.Error(err))
			}
		}
	}()
	return wake, nil
}

// Copyright 2025 Kadir Pekel
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

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader is the part of Manager the watcher drives.
type Reloader interface {
	ReloadAllServers(ctx context.Context) (*ReloadAllResult, error)
}

const watchDebounce = 100 * time.Millisecond

// WatchServersFile reloads every server whenever the descriptor file at
// path is written or recreated. It blocks until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func WatchServersFile(ctx context.Context, path string, r Reloader) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir, file := filepath.Dir(abs), filepath.Base(abs)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	slog.Info("Watching MCP server configuration", "path", abs)

	changed := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				if event.Has(fsnotify.Remove) {
					slog.Warn("MCP server configuration removed; keeping running servers", "path", abs)
				}
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})

		case <-changed:
			slog.Info("MCP server configuration changed; reloading", "path", abs)
			res, err := r.ReloadAllServers(ctx)
			if err != nil {
				slog.Error("MCP reload after configuration change failed", "error", err)
				continue
			}
			slog.Info("MCP reload after configuration change finished",
				"reloaded", res.ReloadedCount,
				"failed", res.FailedCount)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

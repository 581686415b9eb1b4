// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Watcher reloads a config file when it changes.
//
// # Description
//
// Watches the file's directory rather than the file, so editors that save
// by rename are still seen. Each change is reloaded with Load; configs that
// fail to load are logged and skipped, and the callback only ever sees
// valid configs.
//
// # Thread Safety
//
// Start should only be called once. The callback runs on the watcher
// goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback func(Config)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for path.
//
// # Inputs
//
//   - path: Config file to watch.
//   - callback: Receives each successfully reloaded config.
//   - logger: May be nil.
//
// # Outputs
//
//   - *Watcher: Ready-to-start watcher.
//   - error: Non-nil if the fsnotify watcher cannot be created.
func NewWatcher(path string, callback func(Config), logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Watcher{
		path:     abs,
		watcher:  watcher,
		callback: callback,
		logger:   logger.With("component", "config_watcher", "path", abs),
	}, nil
}

// Start watches until ctx is cancelled or the watcher is stopped.
//
// # Example
//
//	w, _ := config.NewWatcher(path, apply, logger)
//	go w.Start(ctx)
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.logger.Debug("Started watching config")

	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.relevant(event) {
				pending = time.After(reloadDelay)
			}

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watcher error", "error", err)

		case <-ctx.Done():
			w.logger.Debug("Config watcher stopping")
			return nil
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Ignoring config change", "error", err)
		return
	}
	w.logger.Info("Config reloaded")
	if w.callback != nil {
		w.callback(cfg)
	}
}

// Stop releases the watcher. Start returns once its channels close.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

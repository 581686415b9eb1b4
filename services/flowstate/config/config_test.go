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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "", cfg.State.Filter)
	assert.Equal(t, "127.0.0.1:8081", cfg.Server.Listen)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowstate.yaml")
	writeFile(t, path, `
server:
  listen: ":9000"
  shutdown_timeout: 3s
state:
  filter: "~e | ~c 500"
  seed: flows.yaml
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "~e | ~c 500", cfg.State.Filter)
	assert.Equal(t, filepath.Join(dir, "flows.yaml"), cfg.State.Seed)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().Server.RateLimit, cfg.Server.RateLimit)
	assert.Equal(t, 1000, cfg.State.EventBuffer)
}

func TestLoad_EnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	writeFile(t, path, "state:\n  filter: \"~q\"\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "~q", cfg.State.Filter)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		writeFile(t, path, "server: [")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("validation", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		writeFile(t, path, "logging:\n  level: loud\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("bad listen", func(t *testing.T) {
		path := filepath.Join(dir, "listen.yaml")
		writeFile(t, path, "server:\n  listen: nowhere\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("bad exporter", func(t *testing.T) {
		path := filepath.Join(dir, "exporter.yaml")
		writeFile(t, path, "telemetry:\n  trace_exporter: zipkin\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "flowstate.yaml")
	cfg := DefaultConfig()
	cfg.State.Filter = "~s"

	require.NoError(t, Write(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowstate.yaml")
	writeFile(t, path, "state:\n  filter: \"~q\"\n")

	reloaded := make(chan Config, 4)
	w, err := NewWatcher(path, func(c Config) { reloaded <- c }, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan error, 1)
	go func() { started <- w.Start(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	// An invalid edit is skipped.
	writeFile(t, path, "logging:\n  level: loud\n")
	select {
	case c := <-reloaded:
		t.Fatalf("invalid config delivered: %+v", c.Logging)
	case <-time.After(400 * time.Millisecond):
	}

	writeFile(t, path, "state:\n  filter: \"~e\"\n")
	select {
	case c := <-reloaded:
		assert.Equal(t, "~e", c.State.Filter)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after a valid edit")
	}

	cancel()
	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowstate.yaml")
	writeFile(t, path, "state:\n  filter: \"~q\"\n")

	reloaded := make(chan Config, 1)
	w, err := NewWatcher(path, func(c Config) { reloaded <- c }, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "other.yaml"), "x: 1\n")
	select {
	case <-reloaded:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(400 * time.Millisecond):
	}
}

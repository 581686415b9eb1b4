// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the flowstate server configuration from YAML.
//
// Values missing from the file keep their DefaultConfig value. The file is
// validated after decoding; a config that fails validation is never
// returned. Watch reloads the file on change so the operator can edit the
// view filter without restarting.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/flowstate/services/flowstate/telemetry"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no path is
// given to Load.
const EnvConfigPath = "FLOWSTATE_CONFIG"

// ErrInvalidConfig wraps decode and validation failures.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the whole server configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	State     StateConfig      `yaml:"state"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Listen is the host:port the API binds to.
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	// Debug puts gin in debug mode.
	Debug bool `yaml:"debug"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// RateLimit throttles accept_all, kill_all and clear.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket. PerSecond of zero disables it.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// StateConfig configures the flow registry.
type StateConfig struct {
	// Filter is the initial view filter. Empty accepts every flow.
	Filter string `yaml:"filter" validate:"max=4096"`

	// Seed is an optional YAML file of flow snapshots loaded at startup.
	Seed string `yaml:"seed"`

	// EventBuffer is the number of events kept by the emitter.
	EventBuffer int `yaml:"event_buffer" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8081",
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				PerSecond: 2,
				Burst:     4,
			},
		},
		State: StateConfig{
			EventBuffer: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Validate checks cfg against its struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ResolvePath returns path, or the FLOWSTATE_CONFIG value when path is
// empty.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(EnvConfigPath)
}

// Load reads the YAML file at path over DefaultConfig and validates the
// result. An empty path (after ResolvePath) returns the defaults.
//
// A relative state.seed is resolved against the config file's directory.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	path = ResolvePath(path)
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.State.Seed != "" && !filepath.IsAbs(cfg.State.Seed) {
		cfg.State.Seed = filepath.Join(filepath.Dir(path), cfg.State.Seed)
	}
	return cfg, nil
}

// Write marshals cfg to path, creating parent directories.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

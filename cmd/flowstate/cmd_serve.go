// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/flowstate/pkg/logging"
	"github.com/AleutianAI/flowstate/services/flowstate"
	"github.com/AleutianAI/flowstate/services/flowstate/config"
	"github.com/AleutianAI/flowstate/services/flowstate/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if seedPath != "" {
		cfg.State.Seed = seedPath
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "flowstate",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	srv, err := newServer(ctx, cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer srv.close()

	httpSrv := srv.httpServer(cfg.Server.Listen)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting flowstate server", "address", cfg.Server.Listen, "version", flowstate.ServiceVersion)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down flowstate server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if path := config.ResolvePath(configPath); path != "" {
		watcher, err := config.NewWatcher(path, func(c config.Config) {
			srv.applyConfig(gctx, c)
		}, logger.Slog())
		if err != nil {
			logger.Warn("Config reload disabled", "error", err)
		} else {
			defer watcher.Stop()
			g.Go(func() error {
				if err := watcher.Start(gctx); err != nil {
					logger.Warn("Config reload disabled", "error", err)
				}
				return nil
			})
		}
	}

	return g.Wait()
}

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
	"log/slog"
	"net/http"
	"os"

	"github.com/AleutianAI/flowstate/services/flowstate"
	"github.com/AleutianAI/flowstate/services/flowstate/config"
	"github.com/AleutianAI/flowstate/services/flowstate/events"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
	"github.com/AleutianAI/flowstate/services/flowstate/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gopkg.in/yaml.v3"
)

// errEmptySeed is returned for a seed file without flows.
var errEmptySeed = errors.New("seed file contains no flows")

// server wires the state, its event stream and the HTTP API together.
type server struct {
	state       *flowstate.State
	emitter     *events.Emitter
	limiter     *flowstate.ActionLimiter
	router      *gin.Engine
	logger      *slog.Logger
	unsubscribe func()
}

// newServer builds the state from cfg, applies the initial filter, loads
// the seed file when one is configured and registers the routes.
func newServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*server, error) {
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	emitter := events.NewEmitter(
		events.WithBufferSize(cfg.State.EventBuffer),
		events.WithSource("flowstate"),
	)
	state := flowstate.New(
		flowstate.WithLogger(logger),
		flowstate.WithEmitter(emitter),
	)
	s := &server{
		state:       state,
		emitter:     emitter,
		limiter:     flowstate.NewActionLimiter(cfg.Server.RateLimit.PerSecond, cfg.Server.RateLimit.Burst),
		logger:      logger,
		unsubscribe: state.Subscribe(emitter),
	}

	if err := state.SetFilter(ctx, cfg.State.Filter); err != nil {
		s.close()
		return nil, fmt.Errorf("state.filter %q: %w", cfg.State.Filter, err)
	}

	if cfg.State.Seed != "" {
		flows, err := loadSeed(cfg.State.Seed)
		if err != nil {
			s.close()
			return nil, err
		}
		if err := state.LoadFlows(ctx, flows); err != nil {
			s.close()
			return nil, fmt.Errorf("load seed %s: %w", cfg.State.Seed, err)
		}
		logger.Info("Loaded seed flows", "path", cfg.State.Seed, "count", len(flows))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("flowstate"))
	if cfg.Server.Debug {
		router.Use(gin.Logger())
	}

	handlers := flowstate.NewHandlers(state, emitter).WithLogger(logger)
	v1 := router.Group("/v1")
	flowstate.RegisterRoutes(v1, handlers, s.limiter)

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	s.router = router
	return s, nil
}

// applyConfig applies the parts of a reloaded config that can change at
// runtime: the view filter and the bulk action rate limit.
func (s *server) applyConfig(ctx context.Context, cfg config.Config) {
	if cfg.State.Filter != s.state.FilterText() {
		if err := s.state.SetFilter(ctx, cfg.State.Filter); err != nil {
			s.logger.Warn("Keeping the current filter", "filter", cfg.State.Filter, "error", err)
		} else {
			s.logger.Info("Filter changed from config", "filter", cfg.State.Filter)
		}
	}

	perSecond, burst := s.limiter.Limit()
	next := cfg.Server.RateLimit
	if next.PerSecond <= 0 {
		next.PerSecond, next.Burst = 0, 0
	} else {
		next.Burst = max(1, next.Burst)
	}
	if next.PerSecond != perSecond || next.Burst != burst {
		s.limiter.Set(next.PerSecond, next.Burst)
		s.logger.Info("Bulk action rate limit changed from config",
			"per_second", next.PerSecond,
			"burst", next.Burst,
		)
	}
}

func (s *server) close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// httpServer returns an http.Server serving the router on addr.
func (s *server) httpServer(addr string) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// loadSeed reads a YAML document of the form {flows: [snapshot, ...]}.
func loadSeed(path string) ([]flow.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var req flowstate.LoadFlowsRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if len(req.Flows) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptySeed)
	}
	return flowstate.SnapshotsToFlows(req.Flows), nil
}

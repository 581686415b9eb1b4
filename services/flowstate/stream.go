// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flowstate

import (
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/flowstate/services/flowstate/events"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

// streamTypes are forwarded to websocket clients.
var streamTypes = []events.Type{
	events.TypeStateChanged,
	events.TypeFilterChanged,
	events.TypeResume,
	events.TypeKill,
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleStream handles GET /v1/flowstate/stream.
//
// Description:
//
//	Upgrades to a websocket, sends a snapshot frame with the current stats,
//	replays buffered events newer than since as replay frames, then
//	forwards state change, filter change, resume and kill events as event
//	frames until the client disconnects. A client that cannot keep up
//	loses frames rather than slowing the state down.
//
// Query Parameters:
//
//	since: RFC 3339 time; replay buffered events emitted after it (optional)
//	flow_id: Only events about this flow (optional)
func (h *Handlers) HandleStream(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStream")

	if h.emitter == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "event stream is not configured",
			Code:  "NO_EMITTER",
		})
		return
	}

	var q StreamQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		logger.Warn("Invalid stream query", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid query parameters",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	match := streamFilter(q.FlowID)
	frames := make(chan *events.Event, streamBuffer)
	var dropped atomic.Int64
	subID := h.emitter.SubscribeWithFilter(func(e *events.Event) {
		select {
		case frames <- e:
		default:
			dropped.Add(1)
		}
	}, match, streamTypes...)
	defer h.emitter.Unsubscribe(subID)

	logger.Info("Stream client connected", "flow_id", q.FlowID)
	defer func() {
		logger.Info("Stream client disconnected", "dropped_frames", dropped.Load())
	}()

	stats := h.stats()
	if err := sendJSON(ws, StreamFrame{Kind: "snapshot", Stats: &stats}); err != nil {
		return
	}

	// Events emitted between subscribing and reading the buffer arrive
	// twice; replayed ids are skipped on the live side.
	var replayed map[string]struct{}
	if !q.Since.IsZero() {
		backlog := h.emitter.GetBufferSince(q.Since)
		replayed = make(map[string]struct{}, len(backlog))
		for i := range backlog {
			e := &backlog[i]
			if !slices.Contains(streamTypes, e.Type) || (match != nil && !match(e)) {
				continue
			}
			replayed[e.ID] = struct{}{}
			if err := sendJSON(ws, StreamFrame{Kind: "replay", Event: e}); err != nil {
				return
			}
		}
	}

	// Reads only detect the close; clients have nothing to say.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case e := <-frames:
			if _, seen := replayed[e.ID]; seen {
				continue
			}
			if err := sendJSON(ws, StreamFrame{Kind: "event", Event: e}); err != nil {
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(streamWriteWait)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// streamFilter keeps events about flowID, or everything when it is "".
func streamFilter(flowID string) events.Filter {
	if flowID == "" {
		return nil
	}
	return func(e *events.Event) bool {
		return eventFlowID(e) == flowID
	}
}

// eventFlowID returns the flow an event is about, or "".
func eventFlowID(e *events.Event) string {
	switch d := e.Data.(type) {
	case events.FlowData:
		return d.Flow.ID
	case *events.FlowData:
		if d != nil {
			return d.Flow.ID
		}
	case events.StateChangedData:
		return d.FlowID
	case *events.StateChangedData:
		if d != nil {
			return d.FlowID
		}
	}
	return ""
}

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
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/AleutianAI/flowstate/services/flowstate/events"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
	"github.com/AleutianAI/flowstate/services/flowstate/store"
	"github.com/AleutianAI/flowstate/services/flowstate/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ServiceVersion is the flow state service version.
const ServiceVersion = "0.1.0"

// eventSource is stamped on events raised by the HTTP layer.
const eventSource = "flowstate.http"

// Handlers contains the HTTP handlers for the flow state service.
type Handlers struct {
	state   *State
	emitter *events.Emitter
	master  flow.Master
	logger  *slog.Logger
}

// NewHandlers creates handlers over state. Lifecycle ingestion, the stream
// and resume/kill notifications go through emitter; with a nil emitter
// those endpoints answer 503 and batch actions run without a master.
func NewHandlers(state *State, emitter *events.Emitter) *Handlers {
	h := &Handlers{
		state:   state,
		emitter: emitter,
		logger:  slog.Default(),
	}
	if emitter != nil {
		h.master = events.NewMaster(emitter, eventSource)
	}
	return h
}

// WithLogger sets the handler logger.
func (h *Handlers) WithLogger(logger *slog.Logger) *Handlers {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithMaster overrides the master used by accept_all and kill_all.
func (h *Handlers) WithMaster(m flow.Master) *Handlers {
	h.master = m
	return h
}

// getOrCreateRequestID extracts or generates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

// HandleHealth handles GET /v1/flowstate/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleStats handles GET /v1/flowstate/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats())
}

func (h *Handlers) stats() StatsResponse {
	resp := StatsResponse{
		Total:     h.state.FlowCount(),
		View:      h.state.ViewCount(),
		Active:    h.state.ActiveFlowCount(),
		Filter:    h.state.FilterText(),
		OpenViews: h.state.Store().ViewCount(),
	}
	if h.emitter != nil {
		resp.Subscribers = h.emitter.SubscriptionCount()
	}
	return resp
}

// HandleListFlows handles GET /v1/flowstate/flows.
//
// Description:
//
//	Lists the flows of the current view in store order.
//
// Query Parameters:
//
//	offset: Number of flows to skip (optional)
//	limit: Maximum number of flows (optional, default all)
func (h *Handlers) HandleListFlows(c *gin.Context) {
	h.listFlows(c, "HandleListFlows", h.state.ViewFlows(), h.state.FilterText())
}

// HandleListAllFlows handles GET /v1/flowstate/flows/all, ignoring the filter.
func (h *Handlers) HandleListAllFlows(c *gin.Context) {
	h.listFlows(c, "HandleListAllFlows", h.state.Store().Flows(), "")
}

func (h *Handlers) listFlows(c *gin.Context, handler string, flows []flow.Flow, filterText string) {
	logger := h.requestLogger(c, handler)

	var q ListFlowsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		logger.Warn("Invalid list query", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid query parameters",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	total := len(flows)
	start := min(q.Offset, total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}

	page := make([]flow.Snapshot, 0, end-start)
	for _, f := range flows[start:end] {
		page = append(page, flow.Describe(f))
	}

	c.JSON(http.StatusOK, FlowListResponse{
		Flows:  page,
		Total:  total,
		Offset: start,
		Filter: filterText,
	})
}

// HandleGetFlow handles GET /v1/flowstate/flows/:id.
func (h *Handlers) HandleGetFlow(c *gin.Context) {
	f, ok := h.lookup(c, "HandleGetFlow")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, FlowResponse{Flow: flow.Describe(f)})
}

// HandleGetViewFlow handles GET /v1/flowstate/view/:index.
func (h *Handlers) HandleGetViewFlow(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetViewFlow")

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "index must be a non-negative integer",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	f, ok := h.state.ViewAt(index)
	if !ok {
		logger.Debug("View index out of range", "index", index)
		h.writeError(c, logger, ErrIndexOutOfRange)
		return
	}
	c.JSON(http.StatusOK, ViewFlowResponse{Index: index, Flow: flow.Describe(f)})
}

// HandleSetFilter handles PUT /v1/flowstate/filter.
//
// Description:
//
//	Replaces the active filter. An unparsable expression answers 400 with
//	"Invalid filter expression." and leaves the filter unchanged.
//
// Request Body:
//
//	{"filter": "~s & ~m POST"}
func (h *Handlers) HandleSetFilter(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSetFilter")

	var req SetFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid filter request", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	if err := h.state.SetFilter(c.Request.Context(), req.Filter); err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, h.stats())
}

// HandleAcceptAll handles POST /v1/flowstate/flows/accept_all.
func (h *Handlers) HandleAcceptAll(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAcceptAll")
	attempted := h.state.FlowCount()
	err := h.state.AcceptAll(c.Request.Context(), h.master)
	h.writeBatch(c, logger, "accept_all", attempted, err)
}

// HandleKillAll handles POST /v1/flowstate/flows/kill_all.
func (h *Handlers) HandleKillAll(c *gin.Context) {
	logger := h.requestLogger(c, "HandleKillAll")
	attempted := h.state.FlowCount()
	err := h.state.KillAll(c.Request.Context(), h.master)
	h.writeBatch(c, logger, "kill_all", attempted, err)
}

func (h *Handlers) writeBatch(c *gin.Context, logger *slog.Logger, op string, attempted int, err error) {
	if err == nil {
		c.JSON(http.StatusOK, BatchResponse{Op: op, Attempted: attempted})
		return
	}

	var be *store.BatchError
	if !errors.As(err, &be) {
		h.writeError(c, logger, err)
		return
	}

	resp := BatchResponse{Op: op, Attempted: be.Attempts}
	for _, f := range be.Failures {
		resp.Failed = append(resp.Failed, FailedFlow{ID: f.FlowID, Error: f.Err.Error()})
	}
	logger.Warn("Batch operation had failures", "op", op, "failed", len(resp.Failed))
	c.JSON(http.StatusMultiStatus, resp)
}

// HandleDuplicate handles POST /v1/flowstate/flows/:id/duplicate.
func (h *Handlers) HandleDuplicate(c *gin.Context) {
	f, ok := h.lookup(c, "HandleDuplicate")
	if !ok {
		return
	}
	dup, err := h.state.Duplicate(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, h.requestLogger(c, "HandleDuplicate"), err)
		return
	}
	c.JSON(http.StatusCreated, FlowResponse{Flow: flow.Describe(dup)})
}

// HandleBackup handles POST /v1/flowstate/flows/:id/backup.
func (h *Handlers) HandleBackup(c *gin.Context) {
	f, ok := h.lookup(c, "HandleBackup")
	if !ok {
		return
	}
	h.state.Backup(c.Request.Context(), f)
	c.JSON(http.StatusOK, FlowResponse{Flow: flow.Describe(f)})
}

// HandleRevert handles POST /v1/flowstate/flows/:id/revert.
func (h *Handlers) HandleRevert(c *gin.Context) {
	f, ok := h.lookup(c, "HandleRevert")
	if !ok {
		return
	}
	h.state.Revert(c.Request.Context(), f)
	c.JSON(http.StatusOK, FlowResponse{Flow: flow.Describe(f)})
}

// HandleDeleteFlow handles DELETE /v1/flowstate/flows/:id.
func (h *Handlers) HandleDeleteFlow(c *gin.Context) {
	f, ok := h.lookup(c, "HandleDeleteFlow")
	if !ok {
		return
	}
	if err := h.state.DeleteFlow(c.Request.Context(), f); err != nil {
		h.writeError(c, h.requestLogger(c, "HandleDeleteFlow"), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleClear handles DELETE /v1/flowstate/flows.
func (h *Handlers) HandleClear(c *gin.Context) {
	logger := h.requestLogger(c, "HandleClear")
	n := h.state.FlowCount()
	h.state.Clear(c.Request.Context())
	logger.Info("Cleared flows", "count", n)
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

// HandleLoadFlows handles POST /v1/flowstate/flows/load.
//
// Description:
//
//	Appends a batch of flows. The whole batch is rejected with 409 when any
//	id is already tracked or repeated.
func (h *Handlers) HandleLoadFlows(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLoadFlows")

	var req LoadFlowsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid load request", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	flows := SnapshotsToFlows(req.Flows)
	if err := h.state.LoadFlows(c.Request.Context(), flows); err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, CountResponse{Count: len(flows), IDs: flow.IDs(flows)})
}

// HandleIngestEvent handles POST /v1/flowstate/events.
//
// Description:
//
//	Accepts a lifecycle event from the proxy engine and publishes it on the
//	emitter, where the subscribed State applies it. Events other than
//	request must name a tracked flow.
//
// Request Body:
//
//	{"type": "response", "flow": {"id": "...", "status_code": 200}}
func (h *Handlers) HandleIngestEvent(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleIngestEvent")

	if h.emitter == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "event ingestion is not configured",
			Code:  "NO_EMITTER",
		})
		return
	}

	var req IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid event", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	if req.Type == events.TypeRequest {
		if req.Flow.ID == "" {
			req.Flow.ID = uuid.NewString()
		}
	} else if _, ok := h.state.Get(req.Flow.ID); !ok {
		h.writeError(c, logger, ErrFlowNotFound)
		return
	}

	h.emitter.EmitWithMetadata(req.Type, events.FlowData{Flow: req.Flow}, &events.EventMetadata{
		TraceID:   telemetry.TraceID(c.Request.Context()),
		Source:    eventSource,
		RequestID: requestID,
	})
	c.JSON(http.StatusAccepted, FlowResponse{Flow: req.Flow})
}

// HandleListEvents handles GET /v1/flowstate/events.
//
// Description:
//
//	Returns the emitter's buffer of recent events, oldest first.
//
// Query Parameters:
//
//	type: Only events of this type (optional)
//	since: RFC 3339 time; only events emitted after it (optional)
func (h *Handlers) HandleListEvents(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListEvents")

	if h.emitter == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "event history is not configured",
			Code:  "NO_EMITTER",
		})
		return
	}

	var q EventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		logger.Warn("Invalid events query", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid query parameters",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	var history []events.Event
	switch {
	case !q.Since.IsZero():
		history = h.emitter.GetBufferSince(q.Since)
		if q.Type != "" {
			history = slices.DeleteFunc(history, func(e events.Event) bool { return e.Type != q.Type })
		}
	case q.Type != "":
		history = h.emitter.GetBufferByType(q.Type)
	default:
		history = h.emitter.GetBuffer()
	}
	if history == nil {
		history = []events.Event{}
	}
	c.JSON(http.StatusOK, EventListResponse{Events: history, Count: len(history)})
}

// HandleClearEvents handles DELETE /v1/flowstate/events, dropping the
// event history. Flows are untouched.
func (h *Handlers) HandleClearEvents(c *gin.Context) {
	if h.emitter == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "event history is not configured",
			Code:  "NO_EMITTER",
		})
		return
	}
	n := len(h.emitter.GetBuffer())
	h.emitter.ClearBuffer()
	h.requestLogger(c, "HandleClearEvents").Info("Cleared event history", "count", n)
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

// lookup resolves :id to a tracked flow, answering 404 itself on a miss.
func (h *Handlers) lookup(c *gin.Context, handler string) (flow.Flow, bool) {
	id := c.Param("id")
	f, ok := h.state.Get(id)
	if !ok {
		logger := h.requestLogger(c, handler)
		logger.Debug("Flow not found", "flow_id", id)
		h.writeError(c, logger, ErrFlowNotFound)
		return nil, false
	}
	return f, true
}

// writeError maps service errors to HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrInvalidFilter):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   InvalidFilterMessage,
			Code:    "INVALID_FILTER",
			Details: err.Error(),
		})
	case errors.Is(err, ErrFlowNotFound), errors.Is(err, ErrIndexOutOfRange):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_FOUND",
		})
	case errors.Is(err, store.ErrPrecondition):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "PRECONDITION_FAILED",
		})
	default:
		logger.Error("Unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Code:  "INTERNAL",
		})
	}
}

// SnapshotsToFlows builds records from serialized flows.
func SnapshotsToFlows(snaps []flow.Snapshot) []flow.Flow {
	flows := make([]flow.Flow, len(snaps))
	for i, s := range snaps {
		flows[i] = flow.FromSnapshot(s)
	}
	return flows
}

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
	"time"

	"github.com/AleutianAI/flowstate/services/flowstate/events"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
)

// =============================================================================
// Requests
// =============================================================================

// ListFlowsQuery is the query string of GET /flows and GET /flows/all.
type ListFlowsQuery struct {
	// Offset is the number of flows to skip.
	Offset int `form:"offset" binding:"min=0"`

	// Limit is the maximum number of flows to return (0 = all).
	Limit int `form:"limit" binding:"omitempty,min=1,max=10000"`
}

// SetFilterRequest is the body of PUT /filter. An empty filter shows every
// flow.
type SetFilterRequest struct {
	Filter string `json:"filter" binding:"max=4096"`
}

// LoadFlowsRequest is the body of POST /flows/load.
type LoadFlowsRequest struct {
	Flows []flow.Snapshot `json:"flows" yaml:"flows" binding:"required,min=1,max=10000"`
}

// IngestEventRequest is the body of POST /events. Every type but request
// needs flow.id.
type IngestEventRequest struct {
	Type events.Type   `json:"type" binding:"required,oneof=request response error intercept resume"`
	Flow flow.Snapshot `json:"flow"`
}

// EventsQuery is the query string of GET /events.
type EventsQuery struct {
	// Type keeps only events of this type.
	Type events.Type `form:"type"`

	// Since keeps only events emitted after this time.
	Since time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
}

// StreamQuery is the query string of GET /stream.
type StreamQuery struct {
	// Since replays buffered events emitted after this time before live
	// frames start.
	Since time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`

	// FlowID keeps only events about this flow. Filter changes concern no
	// flow and are dropped.
	FlowID string `form:"flow_id"`
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	// Total is the number of flows in the store.
	Total int `json:"total"`

	// View is the number of flows matching the filter.
	View int `json:"view"`

	// Active is the number of in-flight flows in the store.
	Active int `json:"active"`

	// Filter is the active filter text, "" for none.
	Filter string `json:"filter"`

	// OpenViews is the number of views registered on the store.
	OpenViews int `json:"open_views"`

	// Subscribers is the number of event subscribers, the state itself
	// and every connected stream client included.
	Subscribers int `json:"subscribers"`
}

// FlowResponse wraps a single flow.
type FlowResponse struct {
	Flow flow.Snapshot `json:"flow"`
}

// ViewFlowResponse is returned by GET /view/:index.
type ViewFlowResponse struct {
	Index int           `json:"index"`
	Flow  flow.Snapshot `json:"flow"`
}

// FlowListResponse is a page of flows.
type FlowListResponse struct {
	Flows  []flow.Snapshot `json:"flows"`
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Filter string          `json:"filter,omitempty"`
}

// FailedFlow is one failure inside a batch operation.
type FailedFlow struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResponse is returned by accept_all and kill_all.
type BatchResponse struct {
	Op        string       `json:"op"`
	Attempted int          `json:"attempted"`
	Failed    []FailedFlow `json:"failed,omitempty"`
}

// CountResponse reports how many flows an operation touched.
type CountResponse struct {
	Count int `json:"count"`

	// IDs lists the flows a load created, in store order.
	IDs []string `json:"ids,omitempty"`
}

// EventListResponse is returned by GET /events.
type EventListResponse struct {
	Events []events.Event `json:"events"`
	Count  int            `json:"count"`
}

// StreamFrame is one websocket message on GET /stream.
type StreamFrame struct {
	// Kind is "snapshot" for the greeting, "replay" for buffered events
	// requested with since, and "event" for live events.
	Kind string `json:"kind"`

	// Stats is set on snapshot frames.
	Stats *StatsResponse `json:"stats,omitempty"`

	// Event is set on event frames.
	Event *events.Event `json:"event,omitempty"`
}

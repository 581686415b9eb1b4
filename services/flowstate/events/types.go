// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries flow lifecycle and state-change notifications.
//
// Inbound lifecycle events (request, response, error, intercept, resume)
// arrive from the proxy engine. Outbound events (state changes, resume and
// kill commands) are broadcast to subscribers such as the websocket stream
// and the engine itself.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"time"

	"github.com/AleutianAI/flowstate/services/flowstate/flow"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeRequest is emitted when a new flow's request has been read.
	TypeRequest Type = "request"

	// TypeResponse is emitted when a flow received its response.
	TypeResponse Type = "response"

	// TypeError is emitted when a flow failed.
	TypeError Type = "error"

	// TypeIntercept is emitted when a flow was paused for the operator.
	TypeIntercept Type = "intercept"

	// TypeResume is emitted when a paused flow should continue.
	TypeResume Type = "resume"

	// TypeKill is emitted when a paused flow should be torn down.
	TypeKill Type = "kill"

	// TypeStateChanged is emitted after every mutation of the flow state.
	TypeStateChanged Type = "state_changed"

	// TypeFilterChanged is emitted when the active filter was replaced.
	TypeFilterChanged Type = "filter_changed"
)

// LifecycleTypes are the event types an engine may report for a flow.
var LifecycleTypes = []Type{TypeRequest, TypeResponse, TypeError, TypeIntercept, TypeResume}

// IsLifecycle reports whether t is one of LifecycleTypes.
func IsLifecycle(t Type) bool {
	for _, lt := range LifecycleTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// EventMetadata contains typed additional context for events.
type EventMetadata struct {
	// TraceID links the event to a distributed trace.
	TraceID string `json:"trace_id,omitempty"`

	// Source identifies where the event originated.
	Source string `json:"source,omitempty"`

	// RequestID is the HTTP request that caused the event, if any.
	RequestID string `json:"request_id,omitempty"`
}

// Event is one notification.
//
// Thread Safety:
//
//	Event structs should be treated as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Data is one of FlowData, StateChangedData or FilterChangedData.
	Data any `json:"data,omitempty"`

	// Metadata contains typed additional context for the event.
	Metadata *EventMetadata `json:"metadata,omitempty"`
}

// FlowData is the data for lifecycle, resume and kill events.
type FlowData struct {
	// Flow is a point-in-time description of the flow.
	Flow flow.Snapshot `json:"flow"`

	// Ref is the live flow when the publisher runs in-process. It is never
	// serialized.
	Ref flow.Flow `json:"-"`
}

// StateChangedData is the data for state change events.
type StateChangedData struct {
	// Reason names the operation that changed the state.
	Reason string `json:"reason"`

	// FlowID is the flow the operation touched, if exactly one.
	FlowID string `json:"flow_id,omitempty"`

	// FlowCount is the store size after the change.
	FlowCount int `json:"flow_count"`

	// ViewCount is the current view size after the change.
	ViewCount int `json:"view_count"`

	// ActiveCount is the number of in-flight flows after the change.
	ActiveCount int `json:"active_count"`
}

// FilterChangedData is the data for filter change events.
type FilterChangedData struct {
	// From is the previous filter text, "" for none.
	From string `json:"from"`

	// To is the new filter text, "" for none.
	To string `json:"to"`

	// ViewCount is the size of the new view.
	ViewCount int `json:"view_count"`
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher is the sending side of an emitter.
type Publisher interface {
	Emit(eventType Type, data any)
	EmitWithMetadata(eventType Type, data any, metadata *EventMetadata)
}

var (
	_ Publisher = (*Emitter)(nil)
	_ Publisher = (*MockEmitter)(nil)
)

// Handler is a function that processes events.
type Handler func(event *Event)

// Filter is a function that determines if an event should be handled.
type Filter func(event *Event) bool

// Subscription represents a subscription to events.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// Handler processes matching events.
	Handler Handler

	// Filter determines which events to handle (nil = all events).
	Filter Filter

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts events to subscribers and keeps a bounded buffer of
// recent events.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
	source        string
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the event buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// WithSource sets the Source stamped on events emitted without metadata.
func WithSource(source string) EmitterOption {
	return func(e *Emitter) {
		e.source = source
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.buffer = make([]Event, 0, e.bufferSize)

	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each event.
//	types - Event types to subscribe to (nil = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	return e.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers a handler with a custom filter.
//
// Inputs:
//
//	handler - Function to call for matching events.
//	filter - Custom filter function (nil = no filter).
//	types - Event types to subscribe to (nil = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Filter:  filter,
		Types:   types,
	}

	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription. It reports whether the subscription
// existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// Emit broadcasts an event to all matching subscribers.
func (e *Emitter) Emit(eventType Type, data any) {
	e.EmitWithMetadata(eventType, data, nil)
}

// EmitWithMetadata broadcasts an event with additional metadata.
//
// Description:
//
//	Creates an event with the specified type, data, and metadata, buffers
//	it, then delivers it to every matching subscriber on the calling
//	goroutine. Handler panics are recovered and logged.
//
// Inputs:
//
//	eventType - The type of event.
//	data - Event-specific data (use typed data structs from types.go).
//	metadata - Additional context (nil is allowed).
//
// Thread Safety: This method is safe for concurrent use. Handlers run
// without the emitter lock held and may emit or unsubscribe.
func (e *Emitter) EmitWithMetadata(eventType Type, data any, metadata *EventMetadata) {
	e.mu.RLock()
	source := e.source
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.RUnlock()

	if metadata == nil && source != "" {
		metadata = &EventMetadata{Source: source}
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  metadata,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	e.mu.Unlock()

	for _, sub := range subs {
		if shouldHandle(sub, &event) {
			safeInvokeHandler(sub.Handler, &event)
		}
	}
}

// safeInvokeHandler invokes a handler with panic recovery so one bad
// subscriber cannot starve the rest.
func safeInvokeHandler(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

func shouldHandle(sub *Subscription, event *Event) bool {
	if len(sub.Types) > 0 && !slices.Contains(sub.Types, event.Type) {
		return false
	}
	if sub.Filter != nil && !sub.Filter(event) {
		return false
	}
	return true
}

// GetBuffer returns a copy of buffered events.
func (e *Emitter) GetBuffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	events := make([]Event, len(e.buffer))
	copy(events, e.buffer)
	return events
}

// GetBufferSince returns events emitted after since.
func (e *Emitter) GetBufferSince(since time.Time) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []Event
	for _, event := range e.buffer {
		if event.Timestamp.After(since) {
			events = append(events, event)
		}
	}
	return events
}

// GetBufferByType returns buffered events of a specific type.
func (e *Emitter) GetBufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []Event
	for _, event := range e.buffer {
		if event.Type == eventType {
			events = append(events, event)
		}
	}
	return events
}

// ClearBuffer removes all buffered events.
func (e *Emitter) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = make([]Event, 0, e.bufferSize)
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

// MockEmitter records events for tests.
type MockEmitter struct {
	mu     sync.RWMutex
	Events []Event
}

// NewMockEmitter creates a new mock emitter.
func NewMockEmitter() *MockEmitter {
	return &MockEmitter{
		Events: make([]Event, 0),
	}
}

// Emit records an event.
func (m *MockEmitter) Emit(eventType Type, data any) {
	m.EmitWithMetadata(eventType, data, nil)
}

// EmitWithMetadata records an event with metadata.
func (m *MockEmitter) EmitWithMetadata(eventType Type, data any, metadata *EventMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = append(m.Events, Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  metadata,
	})
}

// EventCount returns the number of recorded events.
func (m *MockEmitter) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Events)
}

// GetEvents returns all recorded events.
func (m *MockEmitter) GetEvents() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]Event, len(m.Events))
	copy(events, m.Events)
	return events
}

// GetEventsByType returns events of a specific type.
func (m *MockEmitter) GetEventsByType(eventType Type) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []Event
	for _, e := range m.Events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	return events
}

// Clear removes all recorded events.
func (m *MockEmitter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = make([]Event, 0)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KilledMessage is the error recorded on a flow by Kill.
const KilledMessage = "Connection killed"

// ErrNotKillable is returned by Record.Kill when the flow cannot be killed.
var ErrNotKillable = errors.New("flow is not killable")

// Snapshot is the serializable state of a Record.
type Snapshot struct {
	ID          string    `json:"id" yaml:"id"`
	Method      string    `json:"method" yaml:"method"`
	URL         string    `json:"url" yaml:"url"`
	StatusCode  int       `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	Intercepted bool      `json:"intercepted" yaml:"intercepted"`
	Modified    bool      `json:"modified" yaml:"-"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// recordState holds the fields Backup and Revert operate on.
type recordState struct {
	method      string
	url         string
	statusCode  int
	err         string
	intercepted bool
}

// Record is an in-memory Flow built from engine events.
//
// A status code of zero means no response has been recorded yet.
//
// Thread Safety: Record is safe for concurrent use.
type Record struct {
	mu        sync.RWMutex
	id        string
	createdAt time.Time
	state     recordState
	backup    *recordState
}

// NewRecord creates a request-only record with a fresh UUID identity.
func NewRecord(method, url string) *Record {
	return NewRecordWithID(uuid.NewString(), method, url)
}

// NewRecordWithID creates a request-only record with the given identity.
func NewRecordWithID(id, method, url string) *Record {
	return &Record{
		id:        id,
		createdAt: time.Now(),
		state: recordState{
			method: method,
			url:    url,
		},
	}
}

// FromSnapshot builds a record from its serialized form. A missing id gets a
// fresh UUID.
func FromSnapshot(s Snapshot) *Record {
	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}
	r := NewRecordWithID(id, s.Method, s.URL)
	if !s.CreatedAt.IsZero() {
		r.createdAt = s.CreatedAt
	}
	r.state.statusCode = s.StatusCode
	r.state.err = s.Error
	r.state.intercepted = s.Intercepted
	return r
}

// ID implements Flow.
func (r *Record) ID() string { return r.id }

// CreatedAt returns when the record was created.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// HasResponse implements Flow.
func (r *Record) HasResponse() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.statusCode != 0
}

// HasError implements Flow.
func (r *Record) HasError() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.err != ""
}

// Killable implements Flow. An intercepted flow without an error can be killed.
func (r *Record) Killable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.intercepted && r.state.err == ""
}

// Method implements Describer.
func (r *Record) Method() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.method
}

// URL implements Describer.
func (r *Record) URL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.url
}

// StatusCode implements Describer.
func (r *Record) StatusCode() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.statusCode
}

// Intercepted implements Describer.
func (r *Record) Intercepted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.intercepted
}

// ErrorMessage implements Describer.
func (r *Record) ErrorMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.err
}

// Modified reports whether a backup exists.
func (r *Record) Modified() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backup != nil
}

// SetResponse records a response status code.
func (r *Record) SetResponse(statusCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.statusCode = statusCode
}

// SetError records an error message.
func (r *Record) SetError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.err = msg
}

// SetRequest replaces the request summary.
func (r *Record) SetRequest(method, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.method = method
	r.state.url = url
}

// Intercept marks the flow as held by the proxy.
func (r *Record) Intercept() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.intercepted = true
}

// Apply merges an engine-reported snapshot into the record. Empty request
// fields, a zero status code and an empty error leave the current values;
// the intercepted flag is always taken from s.
func (r *Record) Apply(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Method != "" {
		r.state.method = s.Method
	}
	if s.URL != "" {
		r.state.url = s.URL
	}
	if s.StatusCode != 0 {
		r.state.statusCode = s.StatusCode
	}
	if s.Error != "" {
		r.state.err = s.Error
	}
	r.state.intercepted = s.Intercepted
}

// Resume implements Flow. Flows that are not intercepted are left alone.
func (r *Record) Resume(ctx context.Context, m Master) error {
	r.mu.Lock()
	if !r.state.intercepted {
		r.mu.Unlock()
		return nil
	}
	r.state.intercepted = false
	r.mu.Unlock()

	if m == nil {
		return nil
	}
	return m.ResumeFlow(ctx, r)
}

// Kill implements Flow.
func (r *Record) Kill(ctx context.Context, m Master) error {
	r.mu.Lock()
	if !(r.state.intercepted && r.state.err == "") {
		r.mu.Unlock()
		return ErrNotKillable
	}
	r.state.err = KilledMessage
	r.state.intercepted = false
	r.mu.Unlock()

	if m == nil {
		return nil
	}
	return m.KillFlow(ctx, r)
}

// Backup implements Flow. An existing backup is kept so Revert always returns
// to the state before the first modification.
func (r *Record) Backup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backup != nil {
		return
	}
	saved := r.state
	r.backup = &saved
}

// Revert implements Flow.
func (r *Record) Revert() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backup == nil {
		return
	}
	r.state = *r.backup
	r.backup = nil
}

// Copy implements Flow. The copy has a fresh identity, no backup and is not
// intercepted.
func (r *Record) Copy() Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := &Record{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		state:     r.state,
	}
	cp.state.intercepted = false
	return cp
}

// Snapshot returns the current state for serialization.
func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:          r.id,
		Method:      r.state.method,
		URL:         r.state.url,
		StatusCode:  r.state.statusCode,
		Error:       r.state.err,
		Intercepted: r.state.intercepted,
		Modified:    r.backup != nil,
		CreatedAt:   r.createdAt,
	}
}

// Describe returns a Snapshot for any flow, filling what the flow exposes.
func Describe(f Flow) Snapshot {
	if r, ok := f.(*Record); ok {
		return r.Snapshot()
	}
	s := Snapshot{ID: f.ID()}
	if d, ok := f.(Describer); ok {
		s.Method = d.Method()
		s.URL = d.URL()
		s.StatusCode = d.StatusCode()
		s.Intercepted = d.Intercepted()
		s.Error = d.ErrorMessage()
	}
	return s
}

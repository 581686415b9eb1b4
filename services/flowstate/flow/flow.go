// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flow defines the boundary between the flow-state registry and the
// proxy engine that produces flows.
//
// The registry treats a flow as an opaque, identity-bearing unit of traffic.
// It only ever reads the identity, the response/error markers and the
// killable flag, and only ever invokes the lifecycle operations declared on
// Flow. Protocol fields stay behind the optional Describer interface, which
// is used for display and by the default filter parser, never by the store.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. The proxy engine mutates
//	flows from its processing path while UI readers inspect them.
package flow

import "context"

// Flow is one tracked network transaction.
type Flow interface {
	// ID returns the stable identity of the flow.
	ID() string

	// HasResponse reports whether a response has been recorded.
	HasResponse() bool

	// HasError reports whether an error has been recorded.
	HasError() bool

	// Killable reports whether Kill may be invoked.
	Killable() bool

	// Resume continues an intercepted flow through the given master.
	Resume(ctx context.Context, m Master) error

	// Kill aborts the flow through the given master.
	Kill(ctx context.Context, m Master) error

	// Backup snapshots the mutable state so Revert can restore it.
	Backup()

	// Revert restores the last backup, if any.
	Revert()

	// Copy returns an independent flow with a new identity.
	Copy() Flow
}

// Master is the proxy engine handle a flow reports resume and kill actions to.
//
// The registry never calls Master itself. It passes the handle through to
// Flow.Resume and Flow.Kill during AcceptAll and KillAll.
type Master interface {
	ResumeFlow(ctx context.Context, f Flow) error
	KillFlow(ctx context.Context, f Flow) error
}

// Describer exposes request/response summary fields for presentation and
// filtering. It is optional; flows that do not implement it only match
// filters on their lifecycle markers.
type Describer interface {
	Method() string
	URL() string
	StatusCode() int
	Intercepted() bool
	ErrorMessage() string
}

// IDs returns the identities of the given flows, in order.
func IDs(flows []Flow) []string {
	ids := make([]string, len(flows))
	for i, f := range flows {
		ids[i] = f.ID()
	}
	return ids
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flowstate is the flow registry of an intercepting proxy.
//
// State ties a store of every observed flow to the one filtered view the
// operator is looking at. The proxy engine reports lifecycle events
// (request, response, error, intercept, resume) and the operator issues
// actions (filter, accept all, kill all, duplicate, backup, revert, clear,
// load). The HTTP layer in this package exposes both sides under
// /v1/flowstate and streams state changes over a websocket.
//
// # Packages
//
//	flow      - Flow and Master contracts, the in-memory Record
//	filter    - predicates and the filter expression parser
//	store     - Store and its live filtered Views
//	events    - lifecycle and state-change events
//	config    - YAML configuration and its file watcher
//	telemetry - OpenTelemetry tracing and Prometheus metrics setup
package flowstate

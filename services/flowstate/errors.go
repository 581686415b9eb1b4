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

import "errors"

// InvalidFilterMessage is the operator-facing text for a rejected filter.
const InvalidFilterMessage = "Invalid filter expression."

// Sentinel errors for the flow state service.
var (
	// ErrInvalidFilter indicates SetFilter was given text the parser rejected.
	// The active filter is unchanged when it is returned.
	ErrInvalidFilter = errors.New("invalid filter expression")

	// ErrFlowNotFound indicates no flow with the requested ID exists.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrIndexOutOfRange indicates a view position past the end of the view.
	ErrIndexOutOfRange = errors.New("view index out of range")

	// ErrUnsupportedEvent indicates an ingested event type the state does
	// not handle.
	ErrUnsupportedEvent = errors.New("unsupported event type")
)

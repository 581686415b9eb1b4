// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for store operations.
var (
	// ErrPrecondition is wrapped by every caller-contract violation. The
	// store is left unchanged when it is returned.
	ErrPrecondition = errors.New("store precondition violated")

	// ErrNilFlow indicates a nil flow was passed to a mutation.
	ErrNilFlow = fmt.Errorf("%w: nil flow", ErrPrecondition)

	// ErrDuplicateFlow indicates the flow is already in the store.
	ErrDuplicateFlow = fmt.Errorf("%w: flow already in store", ErrPrecondition)

	// ErrUnknownFlow indicates the flow is not in the store.
	ErrUnknownFlow = fmt.Errorf("%w: flow not in store", ErrPrecondition)
)

// FlowError is a failure of one flow inside a batch operation.
type FlowError struct {
	FlowID string
	Err    error
}

func (e FlowError) Error() string { return fmt.Sprintf("flow %s: %v", e.FlowID, e.Err) }

func (e FlowError) Unwrap() error { return e.Err }

// BatchError is returned by AcceptAll and KillAll when one or more flows
// failed. Every flow in the snapshot was still attempted.
type BatchError struct {
	Op       string
	Attempts int
	Failures []FlowError
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d flows failed", e.Op, len(e.Failures), e.Attempts)
	for _, f := range e.Failures {
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

// Unwrap exposes every per-flow error to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filter defines flow predicates and the parser boundary that turns
// operator-supplied filter text into a predicate.
package filter

import (
	"errors"

	"github.com/AleutianAI/flowstate/services/flowstate/flow"
)

// ErrParse is wrapped by every parser failure.
var ErrParse = errors.New("could not parse filter expression")

// Predicate is a pure boolean test over a flow.
type Predicate interface {
	// Match reports whether the flow satisfies the predicate.
	Match(f flow.Flow) bool

	// Pattern returns the filter text the predicate was built from.
	// The accept-all predicate returns "".
	Pattern() string
}

type acceptAll struct{}

func (acceptAll) Match(flow.Flow) bool { return true }
func (acceptAll) Pattern() string      { return "" }

// AcceptAll matches every flow. It is stateless and shared.
var AcceptAll Predicate = acceptAll{}

// OrAcceptAll returns p, or AcceptAll when p is nil.
func OrAcceptAll(p Predicate) Predicate {
	if p == nil {
		return AcceptAll
	}
	return p
}

type funcPredicate struct {
	pattern string
	fn      func(flow.Flow) bool
}

func (p funcPredicate) Match(f flow.Flow) bool { return p.fn(f) }
func (p funcPredicate) Pattern() string        { return p.pattern }

// New wraps fn as a Predicate reporting pattern as its text.
func New(pattern string, fn func(flow.Flow) bool) Predicate {
	return funcPredicate{pattern: pattern, fn: fn}
}

// Parser turns filter text into a Predicate.
type Parser interface {
	Parse(text string) (Predicate, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(text string) (Predicate, error)

// Parse implements Parser.
func (fn ParserFunc) Parse(text string) (Predicate, error) { return fn(text) }

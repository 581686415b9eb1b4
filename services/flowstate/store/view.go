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
	"iter"
	"log/slog"
	"slices"

	"github.com/AleutianAI/flowstate/services/flowstate/filter"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
	"github.com/google/uuid"
)

// View is a live projection of a Store restricted to flows matching a
// predicate, in store order.
//
// A closed view keeps its last contents but receives no further updates.
//
// Thread Safety: View is safe for concurrent use. It shares its store's lock.
type View struct {
	store  *Store
	id     string
	pred   filter.Predicate
	list   entries
	closed bool
}

func newView(s *Store, pred filter.Predicate) *View {
	return &View{
		store: s,
		id:    uuid.NewString(),
		pred:  filter.OrAcceptAll(pred),
	}
}

// ID returns the view's unique identifier.
func (v *View) ID() string { return v.id }

// Predicate returns the view's current predicate.
func (v *View) Predicate() filter.Predicate {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.pred
}

// Pattern returns the filter text of the view's predicate.
func (v *View) Pattern() string { return v.Predicate().Pattern() }

// Closed reports whether Close has been called.
func (v *View) Closed() bool {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.closed
}

// Close detaches the view from its store. Calling it again does nothing.
func (v *View) Close() {
	s := v.store
	s.mu.Lock()
	if v.closed {
		s.mu.Unlock()
		return
	}
	v.closed = true
	s.detach(v)
	n := len(s.views)
	s.mu.Unlock()

	s.logger.Debug("view closed",
		slog.String("view_id", v.id),
		slog.Int("views", n),
	)
}

// Refilter swaps the view's predicate and recomputes the projection from the
// store in one step. On a closed view it only replaces the predicate.
func (v *View) Refilter(pred filter.Predicate) {
	s := v.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.closed {
		v.pred = filter.OrAcceptAll(pred)
		return
	}
	v.rebuild(s.list, filter.OrAcceptAll(pred))
}

// Len returns the number of flows in the view.
func (v *View) Len() int {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return len(v.list)
}

// IsEmpty reports whether the view holds no flows.
func (v *View) IsEmpty() bool { return v.Len() == 0 }

// At returns the flow at position i of the view.
func (v *View) At(i int) (flow.Flow, bool) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.list.at(i)
}

// Index returns the position of f in the view, or -1.
func (v *View) Index(f flow.Flow) int {
	if f == nil {
		return -1
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.list.indexOf(f.ID())
}

// Contains reports whether f is in the view.
func (v *View) Contains(f flow.Flow) bool { return v.Index(f) >= 0 }

// Flows returns a snapshot of the view in store order.
func (v *View) Flows() []flow.Flow {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.list.flows()
}

// All iterates a snapshot of the view in store order.
func (v *View) All() iter.Seq2[int, flow.Flow] { return iterate(v.Flows()) }

// -----------------------------------------------------------------------------
// mutableCollection primitives. Caller holds the store's write lock.
// -----------------------------------------------------------------------------

// add appends e if it matches. The store only adds entries newer than any it
// holds, so appending keeps seq order.
func (v *View) add(e entry) {
	if v.pred.Match(e.flow) {
		v.list = append(v.list, e)
	}
}

// update reconciles membership of e with the predicate. A flow that starts
// matching is inserted at its store position; one that stops matching is
// dropped.
func (v *View) update(e entry) {
	i, found := v.list.search(e.seq)
	match := v.pred.Match(e.flow)
	switch {
	case match && !found:
		v.list = slices.Insert(v.list, i, e)
	case !match && found:
		v.list = slices.Delete(v.list, i, i+1)
	}
}

func (v *View) remove(e entry) {
	if i, found := v.list.search(e.seq); found {
		v.list = slices.Delete(v.list, i, i+1)
	}
}

// rebuild recomputes the projection from src, first adopting pred when it
// is non-nil.
func (v *View) rebuild(src entries, pred filter.Predicate) {
	if pred != nil {
		v.pred = pred
	}
	v.list = src.filter(v.pred.Match)
}

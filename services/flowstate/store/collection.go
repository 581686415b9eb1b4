// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store holds the master flow collection and its filtered live views.
//
// # Model
//
// A Store is the single source of truth: an ordered list of every known flow
// plus an identity index. A View is a filtered projection of the store that is
// kept current by fan-out: every Store mutation is pushed synchronously into
// each open view, in the order the views were registered.
//
// Both types satisfy Collection, the read contract consumers use, and the
// unexported mutableCollection contract that carries the add/update/remove
// primitives.
//
// # Ordering
//
// The store stamps each flow with an arrival sequence number. The store list
// and every projection stay sorted by it, so a view always lists its flows in
// store order no matter how they entered the projection.
//
// # Thread Safety
//
// One RWMutex per store guards the store and all of its views. Mutations and
// view open/close take the write lock; every read takes the read lock and
// returns copies, so a projection is never observed mid fan-out.
package store

import (
	"cmp"
	"iter"
	"slices"

	"github.com/AleutianAI/flowstate/services/flowstate/flow"
)

// Collection is the read contract shared by Store and View.
type Collection interface {
	// Len returns the number of flows.
	Len() int

	// IsEmpty reports whether the collection holds no flows.
	IsEmpty() bool

	// At returns the flow at position i.
	At(i int) (flow.Flow, bool)

	// Index returns the position of f, or -1.
	Index(f flow.Flow) int

	// Contains reports membership of f.
	Contains(f flow.Flow) bool

	// Flows returns a snapshot of the collection in order.
	Flows() []flow.Flow

	// All iterates a snapshot of the collection in order.
	All() iter.Seq2[int, flow.Flow]
}

// mutableCollection is implemented by Store and View. The store calls the
// primitives on itself and fans them out to its views while holding the
// write lock.
type mutableCollection interface {
	Collection
	add(e entry)
	update(e entry)
	remove(e entry)
}

var (
	_ mutableCollection = (*Store)(nil)
	_ mutableCollection = (*View)(nil)
)

// entry is a flow stamped with its arrival sequence in the store.
type entry struct {
	flow flow.Flow
	seq  uint64
}

func compareSeq(e entry, seq uint64) int { return cmp.Compare(e.seq, seq) }

// entries is an ordered run of entries sorted by seq.
type entries []entry

// search returns the position of seq, or where it would be inserted.
func (es entries) search(seq uint64) (int, bool) {
	return slices.BinarySearchFunc(es, seq, compareSeq)
}

func (es entries) indexOf(id string) int {
	for i, e := range es {
		if e.flow.ID() == id {
			return i
		}
	}
	return -1
}

func (es entries) at(i int) (flow.Flow, bool) {
	if i < 0 || i >= len(es) {
		return nil, false
	}
	return es[i].flow, true
}

func (es entries) flows() []flow.Flow {
	out := make([]flow.Flow, len(es))
	for i, e := range es {
		out[i] = e.flow
	}
	return out
}

func (es entries) filter(match func(flow.Flow) bool) entries {
	out := make(entries, 0, len(es))
	for _, e := range es {
		if match(e.flow) {
			out = append(out, e)
		}
	}
	return out
}

// iterate yields a snapshot as (position, flow) pairs.
func iterate(snapshot []flow.Flow) iter.Seq2[int, flow.Flow] {
	return func(yield func(int, flow.Flow) bool) {
		for i, f := range snapshot {
			if !yield(i, f) {
				return
			}
		}
	}
}

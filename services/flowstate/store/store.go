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
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/flowstate/services/flowstate/filter"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
	"github.com/AleutianAI/flowstate/services/flowstate/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for view lifecycle and batch failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is the authoritative ordered collection of flows.
//
// Description:
//
//	Holds every known flow in arrival order with an identity index keyed by
//	flow ID. Registered views are notified synchronously of each mutation,
//	in registration order, before the mutating call returns.
//
// Thread Safety: Store is safe for concurrent use. Flow operations invoked
// by AcceptAll and KillAll run without the store lock held.
type Store struct {
	mu     sync.RWMutex
	list   entries
	index  map[string]entry
	views  []*View
	seq    uint64
	logger *slog.Logger
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		index:  make(map[string]entry),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -----------------------------------------------------------------------------
// Read operations
// -----------------------------------------------------------------------------

// Len returns the number of flows in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// IsEmpty reports whether the store holds no flows.
func (s *Store) IsEmpty() bool { return s.Len() == 0 }

// At returns the flow at position i in arrival order.
func (s *Store) At(i int) (flow.Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.at(i)
}

// Index returns the position of f in arrival order, or -1.
func (s *Store) Index(f flow.Flow) int {
	if f == nil {
		return -1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[f.ID()]
	if !ok {
		return -1
	}
	i, found := s.list.search(e.seq)
	if !found {
		return -1
	}
	return i
}

// Contains reports whether a flow with f's identity is in the store.
func (s *Store) Contains(f flow.Flow) bool {
	if f == nil {
		return false
	}
	_, ok := s.Get(f.ID())
	return ok
}

// Get returns the flow with the given ID.
func (s *Store) Get(id string) (flow.Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[id]
	return e.flow, ok
}

// Flows returns a snapshot of the store in arrival order.
func (s *Store) Flows() []flow.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.flows()
}

// All iterates a snapshot of the store in arrival order.
func (s *Store) All() iter.Seq2[int, flow.Flow] { return iterate(s.Flows()) }

// ActiveCount returns the number of flows that have neither a response nor
// an error.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.list {
		if !e.flow.HasResponse() && !e.flow.HasError() {
			n++
		}
	}
	return n
}

// ViewCount returns the number of open views registered on the store.
func (s *Store) ViewCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// Add appends f to the store and notifies every open view.
//
// Description:
//
//	Stamps f with the next arrival sequence, appends it, indexes it, and
//	offers it to each view in registration order. Views whose predicate
//	accepts f append it to their projection.
//
// Inputs:
//
//	ctx - Context for tracing.
//	f - The flow to add. Must not already be in the store.
//
// Outputs:
//
//	error - ErrNilFlow or ErrDuplicateFlow. The store is unchanged on error.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) Add(ctx context.Context, f flow.Flow) error {
	ctx, span := startStoreSpan(ctx, "Add")
	defer span.End()

	if f == nil {
		return ErrNilFlow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[f.ID()]; ok {
		err := fmt.Errorf("%w: %s", ErrDuplicateFlow, f.ID())
		telemetry.RecordError(span, err, attribute.String("flow.id", f.ID()))
		return err
	}

	start := time.Now()
	s.seq++
	s.add(entry{flow: f, seq: s.seq})
	recordMutation(ctx, "add", len(s.views), time.Since(start))
	return nil
}

// NotifyUpdate re-evaluates every view's predicate against f after f's
// state changed. A flow that is not in the store is ignored.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) NotifyUpdate(ctx context.Context, f flow.Flow) {
	if f == nil {
		return
	}
	ctx, span := startStoreSpan(ctx, "NotifyUpdate")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[f.ID()]
	if !ok {
		span.SetAttributes(attribute.Bool("store.member", false))
		return
	}

	start := time.Now()
	s.update(e)
	recordMutation(ctx, "update", len(s.views), time.Since(start))
}

// Remove deletes f from the store and from every view that contains it.
//
// Outputs:
//
//	error - ErrNilFlow or ErrUnknownFlow. The store is unchanged on error.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) Remove(ctx context.Context, f flow.Flow) error {
	ctx, span := startStoreSpan(ctx, "Remove")
	defer span.End()

	if f == nil {
		return ErrNilFlow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[f.ID()]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownFlow, f.ID())
		telemetry.RecordError(span, err, attribute.String("flow.id", f.ID()))
		return err
	}

	start := time.Now()
	s.remove(e)
	recordMutation(ctx, "remove", len(s.views), time.Since(start))
	return nil
}

// Extend appends a batch of flows in order and rebuilds every view.
//
// Description:
//
//	The whole batch is validated before anything changes: no nil flows, no
//	repeated IDs within the batch and no overlap with the store. Views are
//	rebuilt from the store once the batch is in, which leaves them equal to
//	what adding each flow in turn would have produced.
//
// Outputs:
//
//	error - ErrNilFlow or ErrDuplicateFlow. The store is unchanged on error.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) Extend(ctx context.Context, flows []flow.Flow) error {
	ctx, span := startStoreSpan(ctx, "Extend")
	defer span.End()
	span.SetAttributes(attribute.Int("store.batch_size", len(flows)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBatch(flows); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	start := time.Now()
	for _, f := range flows {
		s.seq++
		e := entry{flow: f, seq: s.seq}
		s.list = append(s.list, e)
		s.index[f.ID()] = e
	}
	s.rebuildViews(ctx)
	recordMutation(ctx, "extend", len(s.views), time.Since(start))
	return nil
}

// checkBatch validates a batch for Extend. Caller holds the write lock.
func (s *Store) checkBatch(flows []flow.Flow) error {
	seen := make(map[string]struct{}, len(flows))
	for _, f := range flows {
		if f == nil {
			return ErrNilFlow
		}
		id := f.ID()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s repeated in batch", ErrDuplicateFlow, id)
		}
		if _, ok := s.index[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateFlow, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Clear empties the store and rebuilds every view to empty.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) Clear(ctx context.Context) {
	ctx, span := startStoreSpan(ctx, "Clear")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.list = nil
	clear(s.index)
	s.rebuildViews(ctx)
	recordMutation(ctx, "clear", len(s.views), time.Since(start))
}

// -----------------------------------------------------------------------------
// Batch flow operations
// -----------------------------------------------------------------------------

// AcceptAll resumes every flow in the store through m.
//
// Description:
//
//	Takes a snapshot of the store and calls Resume on each flow in order with
//	the store lock released, so m may call back into the store. A failing or
//	panicking flow does not stop the batch.
//
// Outputs:
//
//	error - *BatchError listing the flows that failed, or nil.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) AcceptAll(ctx context.Context, m flow.Master) error {
	ctx, span := startStoreSpan(ctx, "AcceptAll")
	defer span.End()

	return s.forEach(ctx, "accept_all", s.Flows(), func(f flow.Flow) error {
		return f.Resume(ctx, m)
	})
}

// KillAll kills every flow in the store that is killable when reached.
//
// Description:
//
//	Same snapshot semantics as AcceptAll. Flows that are not killable are
//	skipped and are not failures.
//
// Outputs:
//
//	error - *BatchError listing the flows that failed, or nil.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) KillAll(ctx context.Context, m flow.Master) error {
	ctx, span := startStoreSpan(ctx, "KillAll")
	defer span.End()

	return s.forEach(ctx, "kill_all", s.Flows(), func(f flow.Flow) error {
		if !f.Killable() {
			return nil
		}
		return f.Kill(ctx, m)
	})
}

func (s *Store) forEach(ctx context.Context, op string, snapshot []flow.Flow, fn func(flow.Flow) error) error {
	var failures []FlowError
	for _, f := range snapshot {
		if err := ctx.Err(); err != nil {
			failures = append(failures, FlowError{FlowID: f.ID(), Err: err})
			continue
		}
		if err := s.safeInvoke(op, f, fn); err != nil {
			failures = append(failures, FlowError{FlowID: f.ID(), Err: err})
		}
	}

	recordBatchFailures(ctx, op, len(failures))
	if len(failures) == 0 {
		return nil
	}
	s.logger.Warn("batch flow operation had failures",
		slog.String("op", op),
		slog.Int("attempted", len(snapshot)),
		slog.Int("failed", len(failures)),
	)
	return &BatchError{Op: op, Attempts: len(snapshot), Failures: failures}
}

// safeInvoke runs fn for one flow and turns a panic into an error.
func (s *Store) safeInvoke(op string, f flow.Flow, fn func(flow.Flow) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("flow operation panicked",
				slog.String("op", op),
				slog.String("flow_id", f.ID()),
				slog.Any("panic", r),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(f)
}

// -----------------------------------------------------------------------------
// Views
// -----------------------------------------------------------------------------

// NewView opens a live filtered view over the store.
//
// Description:
//
//	The view starts as the store's flows that satisfy pred, in store order,
//	and is registered after all existing views. A nil pred accepts every
//	flow. The view stays registered until Close.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) NewView(pred filter.Predicate) *View {
	v := newView(s, pred)

	s.mu.Lock()
	v.rebuild(s.list, nil)
	s.views = append(s.views, v)
	n := len(s.views)
	s.mu.Unlock()

	s.logger.Debug("view opened",
		slog.String("view_id", v.id),
		slog.String("filter", v.pred.Pattern()),
		slog.Int("views", n),
	)
	return v
}

// detach unregisters v. Caller holds s.mu.
func (s *Store) detach(v *View) bool {
	i := slices.Index(s.views, v)
	if i < 0 {
		return false
	}
	s.views = slices.Delete(s.views, i, i+1)
	return true
}

// rebuildViews recomputes every view from the store. Caller holds s.mu.
func (s *Store) rebuildViews(ctx context.Context) {
	for _, v := range s.views {
		v.rebuild(s.list, nil)
	}
	recordRebuilds(ctx, len(s.views))
}

// -----------------------------------------------------------------------------
// mutableCollection primitives. Caller holds s.mu.
// -----------------------------------------------------------------------------

func (s *Store) add(e entry) {
	s.list = append(s.list, e)
	s.index[e.flow.ID()] = e
	for _, v := range s.views {
		v.add(e)
	}
}

func (s *Store) update(e entry) {
	for _, v := range s.views {
		v.update(e)
	}
}

func (s *Store) remove(e entry) {
	if i, found := s.list.search(e.seq); found {
		s.list = slices.Delete(s.list, i, i+1)
	}
	delete(s.index, e.flow.ID())
	for _, v := range s.views {
		v.remove(e)
	}
}

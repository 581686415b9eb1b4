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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/flowstate/services/flowstate/events"
	"github.com/AleutianAI/flowstate/services/flowstate/filter"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
	"github.com/AleutianAI/flowstate/services/flowstate/store"
)

// Option configures a State.
type Option func(*State)

// WithParser sets the filter parser. Defaults to filter.Expressions.
func WithParser(p filter.Parser) Option {
	return func(s *State) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEmitter sets where state change events are published.
func WithEmitter(pub events.Publisher) Option {
	return func(s *State) {
		s.emitter = pub
	}
}

// WithStore uses an existing store instead of a fresh one.
func WithStore(st *store.Store) Option {
	return func(s *State) {
		if st != nil {
			s.store = st
		}
	}
}

// State is the single entry point for proxy lifecycle events and operator
// actions.
//
// Description:
//
//	Owns one Store and exactly one current View. The view starts out
//	accepting every flow and is replaced by SetFilter. Every mutation is
//	applied to the store, which keeps the current view in step, and is then
//	announced as an events.TypeStateChanged event when an emitter is set.
//
// Thread Safety: State is safe for concurrent use. Filter swaps are
// serialized by the state's own lock; flow mutations are serialized by the
// store.
type State struct {
	mu      sync.RWMutex
	store   *store.Store
	view    *store.View
	parser  filter.Parser
	logger  *slog.Logger
	emitter events.Publisher
}

// New creates a State with an empty store and an accept-all view.
func New(opts ...Option) *State {
	s := &State{
		parser: filter.Expressions,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.New(store.WithLogger(s.logger))
	}
	s.view = s.store.NewView(nil)
	s.refreshGauges()
	return s
}

// =============================================================================
// Filter
// =============================================================================

// FilterText returns the text of the active filter, "" when none is set.
func (s *State) FilterText() string {
	return s.CurrentView().Pattern()
}

// SetFilter replaces the current view with one filtered by text.
//
// Description:
//
//	Text equal to the active filter text is a no-op and keeps the same view.
//	Empty text installs an accept-all view. Other text is parsed first; on a
//	parse failure nothing changes and ErrInvalidFilter is returned. On
//	success the old view is closed and a new view over the same store
//	becomes current.
//
// Inputs:
//
//	ctx - Context for the operation.
//	text - Filter expression, or "" to clear the filter.
//
// Outputs:
//
//	error - ErrInvalidFilter wrapping the parser error, or nil.
//
// Thread Safety: This method is safe for concurrent use.
func (s *State) SetFilter(ctx context.Context, text string) error {
	s.mu.Lock()
	from := s.view.Pattern()
	if text == from {
		s.mu.Unlock()
		filterChanges.WithLabelValues("unchanged").Inc()
		return nil
	}

	var pred filter.Predicate
	if text != "" {
		p, err := s.parser.Parse(text)
		if err != nil {
			s.mu.Unlock()
			filterChanges.WithLabelValues("invalid").Inc()
			s.logger.Warn("rejected filter expression",
				slog.String("filter", text),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
		pred = p
	}

	s.view.Close()
	s.view = s.store.NewView(pred)
	n := s.view.Len()
	s.mu.Unlock()

	filterChanges.WithLabelValues("applied").Inc()
	s.logger.Info("filter changed",
		slog.String("from", from),
		slog.String("to", text),
		slog.Int("view_flows", n),
	)
	if s.emitter != nil {
		s.emitter.Emit(events.TypeFilterChanged, &events.FilterChangedData{From: from, To: text, ViewCount: n})
	}
	s.changed("filter", "")
	return nil
}

// =============================================================================
// Lifecycle event handlers
// =============================================================================

// OnRequest adds f unless it is already tracked, which happens when a flow
// is replayed.
func (s *State) OnRequest(ctx context.Context, f flow.Flow) error {
	if f == nil {
		return store.ErrNilFlow
	}
	if s.store.Contains(f) {
		return nil
	}
	err := s.store.Add(ctx, f)
	if errors.Is(err, store.ErrDuplicateFlow) {
		// Lost a race with a concurrent request for the same flow.
		return nil
	}
	recordOperation("add", err)
	if err != nil {
		return err
	}
	s.changed("request", f.ID())
	return nil
}

// OnResponse re-evaluates f after its response arrived.
func (s *State) OnResponse(ctx context.Context, f flow.Flow) { s.updateFrom(ctx, "response", f) }

// OnError re-evaluates f after it failed.
func (s *State) OnError(ctx context.Context, f flow.Flow) { s.updateFrom(ctx, "error", f) }

// OnIntercept re-evaluates f after it was paused.
func (s *State) OnIntercept(ctx context.Context, f flow.Flow) { s.updateFrom(ctx, "intercept", f) }

// OnResume re-evaluates f after it was resumed.
func (s *State) OnResume(ctx context.Context, f flow.Flow) { s.updateFrom(ctx, "resume", f) }

// HandleEvent applies a lifecycle event to the state. The flow is taken
// from the event's Ref, else looked up by ID, else (for request events
// only) built from the snapshot. A looked-up *flow.Record first absorbs the
// snapshot's fields.
func (s *State) HandleEvent(ctx context.Context, e *events.Event) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrUnsupportedEvent)
	}
	if !events.IsLifecycle(e.Type) {
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, e.Type)
	}
	var data events.FlowData
	switch d := e.Data.(type) {
	case events.FlowData:
		data = d
	case *events.FlowData:
		if d == nil {
			return fmt.Errorf("%w: %s without flow", ErrUnsupportedEvent, e.Type)
		}
		data = *d
	default:
		return fmt.Errorf("%w: %s without flow", ErrUnsupportedEvent, e.Type)
	}

	f := data.Ref
	if f == nil {
		if existing, ok := s.store.Get(data.Flow.ID); ok {
			if rec, isRecord := existing.(*flow.Record); isRecord && e.Type != events.TypeRequest {
				rec.Apply(data.Flow)
			}
			f = existing
		} else if e.Type == events.TypeRequest {
			f = flow.FromSnapshot(data.Flow)
		} else {
			s.logger.Debug("ignoring event for unknown flow",
				slog.String("event_type", string(e.Type)),
				slog.String("flow_id", data.Flow.ID),
			)
			return nil
		}
	}

	switch e.Type {
	case events.TypeRequest:
		return s.OnRequest(ctx, f)
	case events.TypeResponse:
		s.OnResponse(ctx, f)
	case events.TypeError:
		s.OnError(ctx, f)
	case events.TypeIntercept:
		s.OnIntercept(ctx, f)
	case events.TypeResume:
		s.OnResume(ctx, f)
	}
	return nil
}

// Subscribe feeds the emitter's lifecycle events into the state. The
// returned func unsubscribes.
func (s *State) Subscribe(em *events.Emitter) func() {
	id := em.Subscribe(func(e *events.Event) {
		if err := s.HandleEvent(context.Background(), e); err != nil {
			s.logger.Error("failed to apply lifecycle event",
				slog.String("event_type", string(e.Type)),
				slog.String("event_id", e.ID),
				slog.String("error", err.Error()),
			)
		}
	}, events.LifecycleTypes...)
	return func() { em.Unsubscribe(id) }
}

// =============================================================================
// Flow operations
// =============================================================================

// AddFlow adds f to the state. Adding a tracked flow is a caller bug and
// returns store.ErrDuplicateFlow.
func (s *State) AddFlow(ctx context.Context, f flow.Flow) error {
	err := s.store.Add(ctx, f)
	recordOperation("add", err)
	if err != nil {
		s.violation("add", f, err)
		return err
	}
	s.changed("add", f.ID())
	return nil
}

// UpdateFlow re-evaluates f against the current filter.
func (s *State) UpdateFlow(ctx context.Context, f flow.Flow) { s.updateFrom(ctx, "update", f) }

// DeleteFlow removes f from the state.
func (s *State) DeleteFlow(ctx context.Context, f flow.Flow) error {
	err := s.store.Remove(ctx, f)
	recordOperation("remove", err)
	if err != nil {
		s.violation("remove", f, err)
		return err
	}
	s.changed("remove", f.ID())
	return nil
}

// LoadFlows appends a batch of flows none of which may already be tracked.
func (s *State) LoadFlows(ctx context.Context, flows []flow.Flow) error {
	err := s.store.Extend(ctx, flows)
	recordOperation("load", err)
	if err != nil {
		s.logger.Error("flow state precondition violated",
			slog.String("op", "load"),
			slog.Int("batch_size", len(flows)),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.changed("load", "")
	return nil
}

// Clear drops every flow.
func (s *State) Clear(ctx context.Context) {
	s.store.Clear(ctx)
	recordOperation("clear", nil)
	s.changed("clear", "")
}

// AcceptAll resumes every flow in the store, regardless of the filter. The
// touched flows are re-evaluated afterwards.
func (s *State) AcceptAll(ctx context.Context, m flow.Master) error {
	return s.batch(ctx, "accept_all", m, s.store.AcceptAll)
}

// KillAll kills every killable flow in the store, regardless of the filter.
func (s *State) KillAll(ctx context.Context, m flow.Master) error {
	return s.batch(ctx, "kill_all", m, s.store.KillAll)
}

func (s *State) batch(ctx context.Context, op string, m flow.Master, run func(context.Context, flow.Master) error) error {
	touched := s.store.Flows()
	err := run(ctx, m)
	recordOperation(op, err)
	for _, f := range touched {
		s.store.NotifyUpdate(ctx, f)
	}
	s.changed(op, "")
	return err
}

// Duplicate copies f and adds the copy as a new flow without raising any
// lifecycle event.
func (s *State) Duplicate(ctx context.Context, f flow.Flow) (flow.Flow, error) {
	if f == nil {
		return nil, store.ErrNilFlow
	}
	dup := f.Copy()
	err := s.store.Add(ctx, dup)
	recordOperation("duplicate", err)
	if err != nil {
		s.violation("duplicate", dup, err)
		return nil, err
	}
	s.changed("duplicate", dup.ID())
	return dup, nil
}

// Backup snapshots f so it can be reverted, then re-evaluates it.
func (s *State) Backup(ctx context.Context, f flow.Flow) {
	if f == nil {
		return
	}
	f.Backup()
	s.updateFrom(ctx, "backup", f)
}

// Revert restores f from its backup, then re-evaluates it since the
// restored fields may change what the filter sees.
func (s *State) Revert(ctx context.Context, f flow.Flow) {
	if f == nil {
		return
	}
	f.Revert()
	s.updateFrom(ctx, "revert", f)
}

// =============================================================================
// Accessors
// =============================================================================

// FlowCount returns the number of flows in the store.
func (s *State) FlowCount() int { return s.store.Len() }

// ViewCount returns the number of flows in the current view.
func (s *State) ViewCount() int { return s.CurrentView().Len() }

// ViewFlows returns the current view's flows in store order.
func (s *State) ViewFlows() []flow.Flow { return s.CurrentView().Flows() }

// ViewAt returns the flow at position i of the current view.
func (s *State) ViewAt(i int) (flow.Flow, bool) { return s.CurrentView().At(i) }

// Index returns the position of f in the store, or -1.
func (s *State) Index(f flow.Flow) int { return s.store.Index(f) }

// ActiveFlowCount returns the number of in-flight flows in the whole store,
// regardless of the filter.
func (s *State) ActiveFlowCount() int { return s.store.ActiveCount() }

// Get returns the tracked flow with the given ID.
func (s *State) Get(id string) (flow.Flow, bool) { return s.store.Get(id) }

// CurrentView returns the view bound to the active filter.
func (s *State) CurrentView() *store.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Store returns the underlying store.
func (s *State) Store() *store.Store { return s.store }

// =============================================================================
// Internal
// =============================================================================

func (s *State) updateFrom(ctx context.Context, reason string, f flow.Flow) {
	if f == nil {
		return
	}
	s.store.NotifyUpdate(ctx, f)
	recordOperation("update", nil)
	s.changed(reason, f.ID())
}

func (s *State) violation(op string, f flow.Flow, err error) {
	id := ""
	if f != nil {
		id = f.ID()
	}
	s.logger.Error("flow state precondition violated",
		slog.String("op", op),
		slog.String("flow_id", id),
		slog.String("error", err.Error()),
	)
}

// changed refreshes gauges and announces the new totals.
func (s *State) changed(reason, flowID string) {
	total, view, active := s.refreshGauges()
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(events.TypeStateChanged, &events.StateChangedData{
		Reason:      reason,
		FlowID:      flowID,
		FlowCount:   total,
		ViewCount:   view,
		ActiveCount: active,
	})
}

func (s *State) refreshGauges() (total, view, active int) {
	total, view, active = s.FlowCount(), s.ViewCount(), s.ActiveFlowCount()
	setGauges(total, view, active)
	return total, view, active
}

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
	"sync"
	"testing"

	"github.com/AleutianAI/flowstate/services/flowstate/events"
	"github.com/AleutianAI/flowstate/services/flowstate/filter"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
	"github.com/AleutianAI/flowstate/services/flowstate/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test doubles
// =============================================================================

// fakeFlow is a minimal flow with explicit lifecycle markers.
type fakeFlow struct {
	mu       sync.Mutex
	id       string
	response bool
	err      bool
	killable bool
	kills    int
	resumes  int
}

func (f *fakeFlow) ID() string { return f.id }

func (f *fakeFlow) HasResponse() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response
}

func (f *fakeFlow) HasError() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeFlow) Killable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killable
}

func (f *fakeFlow) Resume(context.Context, flow.Master) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return nil
}

func (f *fakeFlow) Kill(context.Context, flow.Master) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
	return nil
}

func (f *fakeFlow) Backup()         {}
func (f *fakeFlow) Revert()         {}
func (f *fakeFlow) Copy() flow.Flow { return &fakeFlow{id: f.id + "-copy"} }

func newState(t *testing.T, opts ...Option) *State {
	t.Helper()
	return New(opts...)
}

func ids(flows []flow.Flow) []string { return flow.IDs(flows) }

// =============================================================================
// Filter binding
// =============================================================================

func TestState_Initial(t *testing.T) {
	s := newState(t)
	assert.Equal(t, "", s.FilterText())
	assert.Equal(t, 0, s.FlowCount())
	assert.Equal(t, 0, s.ViewCount())
	assert.Equal(t, 0, s.ActiveFlowCount())
	assert.Equal(t, 1, s.Store().ViewCount())
}

func TestState_SetFilter(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	a := flow.NewRecordWithID("a", "GET", "http://example.com/a")
	b := flow.NewRecordWithID("b", "POST", "http://example.com/b")
	b.SetResponse(200)
	require.NoError(t, s.LoadFlows(ctx, []flow.Flow{a, b}))

	old := s.CurrentView()
	require.NoError(t, s.SetFilter(ctx, "~s"))
	assert.Equal(t, "~s", s.FilterText())
	assert.Equal(t, []string{"b"}, ids(s.ViewFlows()))
	assert.True(t, old.Closed(), "previous view is closed")
	assert.Equal(t, 1, s.Store().ViewCount())

	t.Run("same text is a no-op", func(t *testing.T) {
		v := s.CurrentView()
		require.NoError(t, s.SetFilter(ctx, "~s"))
		assert.Same(t, v, s.CurrentView())
		assert.Equal(t, []string{"b"}, ids(s.ViewFlows()))
	})

	t.Run("invalid text leaves view untouched", func(t *testing.T) {
		v := s.CurrentView()
		err := s.SetFilter(ctx, "~nope")
		assert.ErrorIs(t, err, ErrInvalidFilter)
		assert.ErrorIs(t, err, filter.ErrParse)
		assert.Same(t, v, s.CurrentView())
		assert.Equal(t, "~s", s.FilterText())
		assert.Equal(t, []string{"b"}, ids(s.ViewFlows()))
	})

	t.Run("empty text shows everything", func(t *testing.T) {
		require.NoError(t, s.SetFilter(ctx, ""))
		assert.Equal(t, "", s.FilterText())
		assert.Equal(t, ids(s.Store().Flows()), ids(s.ViewFlows()))
	})
}

func TestState_SetFilterCustomParser(t *testing.T) {
	ctx := context.Background()
	calls := 0
	parser := filter.ParserFunc(func(text string) (filter.Predicate, error) {
		calls++
		return filter.New(text, func(flow.Flow) bool { return false }), nil
	})
	s := newState(t, WithParser(parser))
	require.NoError(t, s.AddFlow(ctx, flow.NewRecord("GET", "http://x/")))

	require.NoError(t, s.SetFilter(ctx, "anything"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, s.ViewCount())
	assert.Equal(t, 1, s.FlowCount())
}

// =============================================================================
// Scenarios
// =============================================================================

// The view follows add, update and remove, including a flow that stops
// matching.
func TestState_ViewFollowsStore(t *testing.T) {
	ctx := context.Background()
	hidden := map[string]bool{}
	parser := filter.ParserFunc(func(text string) (filter.Predicate, error) {
		return filter.New(text, func(f flow.Flow) bool { return !hidden[f.ID()] }), nil
	})
	s := newState(t, WithParser(parser))
	require.NoError(t, s.SetFilter(ctx, "visible"))

	a, b := &fakeFlow{id: "A"}, &fakeFlow{id: "B"}

	require.NoError(t, s.AddFlow(ctx, a))
	assert.Equal(t, []string{"A"}, ids(s.ViewFlows()))

	require.NoError(t, s.AddFlow(ctx, b))
	assert.Equal(t, []string{"A", "B"}, ids(s.ViewFlows()))

	hidden["A"] = true
	s.UpdateFlow(ctx, a)
	assert.Equal(t, []string{"B"}, ids(s.ViewFlows()))

	require.NoError(t, s.DeleteFlow(ctx, b))
	assert.Equal(t, 0, s.ViewCount())
	assert.Equal(t, 1, s.FlowCount())
}

func TestState_ActiveFlowCount(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	require.NoError(t, s.LoadFlows(ctx, []flow.Flow{
		&fakeFlow{id: "flow1", response: true},
		&fakeFlow{id: "flow2"},
		&fakeFlow{id: "flow3", err: true},
	}))
	require.NoError(t, s.SetFilter(ctx, "~e"))

	assert.Equal(t, 1, s.ActiveFlowCount(), "counts the whole store regardless of filter")
}

func TestState_KillAllOnlyKillable(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	k1 := &fakeFlow{id: "k1", killable: true}
	k2 := &fakeFlow{id: "k2"}
	require.NoError(t, s.LoadFlows(ctx, []flow.Flow{k1, k2}))

	require.NoError(t, s.KillAll(ctx, nil))
	assert.Equal(t, 1, k1.kills)
	assert.Equal(t, 0, k2.kills)
}

func TestState_AcceptAllIgnoresFilter(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	a, b := &fakeFlow{id: "a"}, &fakeFlow{id: "b", response: true}
	require.NoError(t, s.LoadFlows(ctx, []flow.Flow{a, b}))
	require.NoError(t, s.SetFilter(ctx, "~s"))

	require.NoError(t, s.AcceptAll(ctx, nil))
	assert.Equal(t, 1, a.resumes)
	assert.Equal(t, 1, b.resumes)
}

func TestState_KillAllReevaluatesView(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	held := flow.NewRecordWithID("held", "GET", "http://x/")
	held.Intercept()
	require.NoError(t, s.AddFlow(ctx, held))
	require.NoError(t, s.SetFilter(ctx, "~e"))
	require.Equal(t, 0, s.ViewCount())

	require.NoError(t, s.KillAll(ctx, nil))
	assert.Equal(t, []string{"held"}, ids(s.ViewFlows()))
}

// =============================================================================
// Lifecycle handlers
// =============================================================================

func TestState_OnRequestIgnoresReplay(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	f := flow.NewRecordWithID("f", "GET", "http://x/")

	require.NoError(t, s.OnRequest(ctx, f))
	require.NoError(t, s.OnRequest(ctx, f))
	assert.Equal(t, 1, s.FlowCount())
	assert.ErrorIs(t, s.OnRequest(ctx, nil), store.ErrNilFlow)
}

func TestState_LifecycleUpdatesView(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	require.NoError(t, s.SetFilter(ctx, "~i"))

	f := flow.NewRecordWithID("f", "GET", "http://x/")
	require.NoError(t, s.OnRequest(ctx, f))
	assert.Equal(t, 0, s.ViewCount())

	f.Intercept()
	s.OnIntercept(ctx, f)
	assert.Equal(t, 1, s.ViewCount())

	require.NoError(t, f.Resume(ctx, nil))
	s.OnResume(ctx, f)
	assert.Equal(t, 0, s.ViewCount())

	require.NoError(t, s.SetFilter(ctx, "~s | ~e"))
	f.SetResponse(200)
	s.OnResponse(ctx, f)
	assert.Equal(t, 1, s.ViewCount())

	g := flow.NewRecordWithID("g", "GET", "http://y/")
	require.NoError(t, s.OnRequest(ctx, g))
	g.SetError("reset")
	s.OnError(ctx, g)
	assert.Equal(t, []string{"f", "g"}, ids(s.ViewFlows()))

	// Updates for unknown flows are tolerated.
	s.OnResponse(ctx, flow.NewRecord("GET", "http://z/"))
	assert.Equal(t, 2, s.FlowCount())
}

// =============================================================================
// Operator actions
// =============================================================================

func TestState_Duplicate(t *testing.T) {
	ctx := context.Background()
	mock := events.NewMockEmitter()
	s := newState(t, WithEmitter(mock))

	orig := flow.NewRecordWithID("orig", "GET", "http://x/")
	require.NoError(t, s.AddFlow(ctx, orig))
	mock.Clear()

	dup, err := s.Duplicate(ctx, orig)
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID(), dup.ID())
	assert.Equal(t, 2, s.FlowCount())
	assert.Equal(t, 1, s.Index(dup))

	require.Len(t, mock.GetEvents(), 1, "no lifecycle events, just the state change")
	data := mock.GetEvents()[0].Data.(*events.StateChangedData)
	assert.Equal(t, "duplicate", data.Reason)
	assert.Equal(t, dup.ID(), data.FlowID)

	_, err = s.Duplicate(ctx, nil)
	assert.ErrorIs(t, err, store.ErrNilFlow)
}

func TestState_BackupRevertReevaluates(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	f := flow.NewRecordWithID("f", "GET", "http://x/")
	require.NoError(t, s.AddFlow(ctx, f))
	require.NoError(t, s.SetFilter(ctx, "~s"))

	s.Backup(ctx, f)
	assert.True(t, f.Modified())

	f.SetResponse(200)
	s.UpdateFlow(ctx, f)
	require.Equal(t, 1, s.ViewCount())

	s.Revert(ctx, f)
	assert.Equal(t, 0, s.ViewCount(), "reverted flow no longer has a response")

	s.Backup(ctx, nil)
	s.Revert(ctx, nil)
}

func TestState_PreconditionErrors(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	f := flow.NewRecordWithID("f", "GET", "http://x/")
	require.NoError(t, s.AddFlow(ctx, f))

	assert.ErrorIs(t, s.AddFlow(ctx, f), store.ErrDuplicateFlow)
	assert.ErrorIs(t, s.DeleteFlow(ctx, flow.NewRecord("GET", "http://y/")), store.ErrUnknownFlow)
	assert.ErrorIs(t, s.LoadFlows(ctx, []flow.Flow{f}), store.ErrPrecondition)
	assert.Equal(t, 1, s.FlowCount())
}

func TestState_ClearAndAccessors(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	a := flow.NewRecordWithID("a", "GET", "http://x/")
	require.NoError(t, s.AddFlow(ctx, a))

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = s.ViewAt(0)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, 0, s.Index(a))

	s.Clear(ctx)
	assert.Equal(t, 0, s.FlowCount())
	assert.Equal(t, 0, s.ViewCount())
	_, ok = s.ViewAt(0)
	assert.False(t, ok)
}

// =============================================================================
// Events
// =============================================================================

func TestState_EmitsStateChanged(t *testing.T) {
	ctx := context.Background()
	mock := events.NewMockEmitter()
	s := newState(t, WithEmitter(mock))

	f := flow.NewRecordWithID("f", "GET", "http://x/")
	require.NoError(t, s.AddFlow(ctx, f))
	s.UpdateFlow(ctx, f)
	require.NoError(t, s.SetFilter(ctx, "~s"))
	require.NoError(t, s.DeleteFlow(ctx, f))

	changes := mock.GetEventsByType(events.TypeStateChanged)
	require.Len(t, changes, 4)

	var reasons []string
	for _, e := range changes {
		reasons = append(reasons, e.Data.(*events.StateChangedData).Reason)
	}
	assert.Equal(t, []string{"add", "update", "filter", "remove"}, reasons)

	last := changes[3].Data.(*events.StateChangedData)
	assert.Equal(t, 0, last.FlowCount)

	filterEvents := mock.GetEventsByType(events.TypeFilterChanged)
	require.Len(t, filterEvents, 1)
	assert.Equal(t, "~s", filterEvents[0].Data.(*events.FilterChangedData).To)
}

func TestState_SubscribeAppliesEngineEvents(t *testing.T) {
	em := events.NewEmitter()
	s := newState(t, WithEmitter(em))
	unsubscribe := s.Subscribe(em)

	em.Emit(events.TypeRequest, events.FlowData{Flow: flow.Snapshot{ID: "e1", Method: "GET", URL: "http://x/"}})
	require.Equal(t, 1, s.FlowCount())
	assert.Equal(t, 1, s.ActiveFlowCount())

	em.Emit(events.TypeResponse, &events.FlowData{Flow: flow.Snapshot{ID: "e1", StatusCode: 204}})
	assert.Equal(t, 0, s.ActiveFlowCount())

	got, _ := s.Get("e1")
	assert.Equal(t, 204, got.(*flow.Record).StatusCode())

	// Unknown flows and non-flow payloads are ignored.
	em.Emit(events.TypeError, events.FlowData{Flow: flow.Snapshot{ID: "ghost", Error: "x"}})
	em.Emit(events.TypeError, "garbage")
	assert.Equal(t, 1, s.FlowCount())

	unsubscribe()
	em.Emit(events.TypeRequest, events.FlowData{Flow: flow.Snapshot{ID: "e2"}})
	assert.Equal(t, 1, s.FlowCount())
}

func TestState_HandleEventErrors(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	assert.ErrorIs(t, s.HandleEvent(ctx, nil), ErrUnsupportedEvent)
	assert.ErrorIs(t, s.HandleEvent(ctx, &events.Event{Type: events.TypeRequest}), ErrUnsupportedEvent)

	f := flow.NewRecordWithID("k", "GET", "http://x/")
	err := s.HandleEvent(ctx, &events.Event{Type: events.TypeKill, Data: events.FlowData{Ref: f}})
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}

func TestState_HandleEventIgnoresNonLifecycleSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	known := flow.NewRecordWithID("k", "GET", "http://x/")
	require.NoError(t, s.AddFlow(ctx, known))

	for _, typ := range []events.Type{events.TypeKill, events.TypeStateChanged, events.TypeFilterChanged} {
		err := s.HandleEvent(ctx, &events.Event{
			Type: typ,
			Data: events.FlowData{Flow: flow.Snapshot{ID: "k", Method: "DELETE", StatusCode: 500}},
		})
		assert.ErrorIs(t, err, ErrUnsupportedEvent, typ)
	}
	assert.Equal(t, "GET", known.Method(), "a rejected event must not touch the flow")
	assert.Equal(t, 0, known.StatusCode())
}

// A master that publishes resume events back into the state must not
// deadlock AcceptAll.
func TestState_AcceptAllWithEventMaster(t *testing.T) {
	ctx := context.Background()
	em := events.NewEmitter()
	s := newState(t, WithEmitter(em))
	defer s.Subscribe(em)()

	var resumed []string
	em.Subscribe(func(e *events.Event) {
		resumed = append(resumed, e.Data.(events.FlowData).Flow.ID)
	}, events.TypeResume)

	held := flow.NewRecordWithID("held", "GET", "http://x/")
	held.Intercept()
	require.NoError(t, s.AddFlow(ctx, held))
	require.NoError(t, s.SetFilter(ctx, "~i"))
	require.Equal(t, 1, s.ViewCount())

	require.NoError(t, s.AcceptAll(ctx, events.NewMaster(em, "test")))
	assert.Equal(t, []string{"held"}, resumed)
	assert.Equal(t, 0, s.ViewCount())
}

func TestState_ConcurrentFilterAndMutations(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.AddFlow(ctx, flow.NewRecord("GET", "http://x/"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			text := "~q"
			if i%2 == 0 {
				text = ""
			}
			_ = s.SetFilter(ctx, text)
			_ = s.ViewFlows()
		}
	}()
	wg.Wait()

	require.NoError(t, s.SetFilter(ctx, ""))
	assert.Equal(t, 100, s.FlowCount())
	assert.Equal(t, 100, s.ViewCount())
	assert.Equal(t, 1, s.Store().ViewCount())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"errors"

	"github.com/AleutianAI/flowstate/services/flowstate/flow"
	"github.com/AleutianAI/flowstate/services/flowstate/telemetry"
)

// ErrNoPublisher is returned by a Master with no publisher.
var ErrNoPublisher = errors.New("master has no event publisher")

// Master forwards resume and kill commands as events so a proxy engine
// subscribed to TypeResume and TypeKill can act on them.
type Master struct {
	pub    Publisher
	source string
}

var _ flow.Master = (*Master)(nil)

// NewMaster returns a Master publishing on pub. Source is stamped into
// event metadata.
func NewMaster(pub Publisher, source string) *Master {
	return &Master{pub: pub, source: source}
}

// ResumeFlow emits TypeResume for f.
func (m *Master) ResumeFlow(ctx context.Context, f flow.Flow) error {
	return m.send(ctx, TypeResume, f)
}

// KillFlow emits TypeKill for f.
func (m *Master) KillFlow(ctx context.Context, f flow.Flow) error {
	return m.send(ctx, TypeKill, f)
}

func (m *Master) send(ctx context.Context, t Type, f flow.Flow) error {
	if m == nil || m.pub == nil {
		return ErrNoPublisher
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.pub.EmitWithMetadata(t, FlowData{Flow: flow.Describe(f), Ref: f}, &EventMetadata{
		TraceID: telemetry.TraceID(ctx),
		Source:  m.source,
	})
	return nil
}

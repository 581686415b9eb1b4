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
	"sync"
	"time"

	"github.com/AleutianAI/flowstate/services/flowstate/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "flowstate.store"

// Package-level meter for store operations.
var meter = otel.Meter(instrumentationName)

// Metrics for store operations.
var (
	storeMutations     metric.Int64Counter
	storeFanoutLatency metric.Float64Histogram
	storeRebuilds      metric.Int64Counter
	storeBatchFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		storeMutations, err = meter.Int64Counter(
			"flowstate_store_mutations_total",
			metric.WithDescription("Total number of store mutations by operation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storeFanoutLatency, err = meter.Float64Histogram(
			"flowstate_store_fanout_duration_seconds",
			metric.WithDescription("Time spent applying a mutation to the store and its views"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storeRebuilds, err = meter.Int64Counter(
			"flowstate_store_view_rebuilds_total",
			metric.WithDescription("Total number of full view rebuilds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storeBatchFailures, err = meter.Int64Counter(
			"flowstate_store_batch_failures_total",
			metric.WithDescription("Flows that failed during accept-all or kill-all"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordMutation records one store mutation and its fan-out duration.
func recordMutation(ctx context.Context, op string, views int, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("op", op))
	storeMutations.Add(ctx, 1, attrs)
	storeFanoutLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.Int("views", views),
		),
	)
}

// recordRebuilds records that n views were rebuilt from scratch.
func recordRebuilds(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	storeRebuilds.Add(ctx, int64(n))
}

// recordBatchFailures records per-flow failures of a batch operation.
func recordBatchFailures(ctx context.Context, op string, n int) {
	if n == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	storeBatchFailures.Add(ctx, int64(n), metric.WithAttributes(attribute.String("op", op)))
}

// startStoreSpan creates a span for a store operation.
func startStoreSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, instrumentationName, "Store."+operation,
		trace.WithAttributes(
			attribute.String("store.operation", operation),
		),
	)
}

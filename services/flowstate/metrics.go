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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Flow State
// =============================================================================

var (
	// flowsTotal is the number of flows in the store.
	flowsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstate",
		Name:      "flows",
		Help:      "Number of flows in the store",
	})

	// viewFlows is the number of flows in the current view.
	viewFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstate",
		Name:      "view_flows",
		Help:      "Number of flows matching the active filter",
	})

	// activeFlows is the number of flows with neither response nor error.
	activeFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstate",
		Name:      "active_flows",
		Help:      "Number of in-flight flows",
	})

	// stateOperations counts state mutations.
	// Labels: op (add, update, remove, load, clear, duplicate, ...), status (ok, error)
	stateOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Name:      "operations_total",
		Help:      "State operations by kind and outcome",
	}, []string{"op", "status"})

	// filterChanges counts SetFilter calls by outcome.
	// Labels: status (applied, unchanged, invalid)
	filterChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Name:      "filter_changes_total",
		Help:      "Filter change requests by outcome",
	}, []string{"status"})
)

func recordOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	stateOperations.WithLabelValues(op, status).Inc()
}

func setGauges(total, view, active int) {
	flowsTotal.Set(float64(total))
	viewFlows.Set(float64(view))
	activeFlows.Set(float64(active))
}

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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all flow state routes with the router.
//
// Description:
//
//	Registers all /v1/flowstate/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//	Bulk operator actions share limiter; nil disables rate limiting.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//	limiter - Rate limiter for bulk actions (may be nil or disabled)
//
// Read Endpoints:
//
//	GET  /v1/flowstate/health - Health check
//	GET  /v1/flowstate/stats - Flow counts and active filter
//	GET  /v1/flowstate/flows - Current view (offset, limit)
//	GET  /v1/flowstate/flows/all - Whole store (offset, limit)
//	GET  /v1/flowstate/flows/:id - Flow by id
//	GET  /v1/flowstate/view/:index - Flow by position in the current view
//	GET  /v1/flowstate/stream - Websocket of state changes (since, flow_id)
//
// Operator Endpoints:
//
//	PUT    /v1/flowstate/filter - Replace the active filter
//	POST   /v1/flowstate/flows/accept_all - Resume every flow (rate limited)
//	POST   /v1/flowstate/flows/kill_all - Kill every killable flow (rate limited)
//	POST   /v1/flowstate/flows/load - Append a batch of flows
//	POST   /v1/flowstate/flows/:id/duplicate - Copy a flow
//	POST   /v1/flowstate/flows/:id/backup - Snapshot a flow
//	POST   /v1/flowstate/flows/:id/revert - Restore a flow's snapshot
//	DELETE /v1/flowstate/flows/:id - Delete a flow
//	DELETE /v1/flowstate/flows - Clear all flows (rate limited)
//
// Engine Endpoints:
//
//	POST   /v1/flowstate/events - Report a flow lifecycle event
//	GET    /v1/flowstate/events - Recent events (type, since)
//	DELETE /v1/flowstate/events - Drop the event history
//
// Example:
//
//	state := flowstate.New()
//	emitter := events.NewEmitter()
//	defer state.Subscribe(emitter)()
//	handlers := flowstate.NewHandlers(state, emitter)
//
//	v1 := router.Group("/v1")
//	flowstate.RegisterRoutes(v1, handlers, nil)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limiter *ActionLimiter) {
	fs := rg.Group("/flowstate")
	{
		fs.GET("/health", handlers.HandleHealth)
		fs.GET("/stats", handlers.HandleStats)
		fs.GET("/stream", handlers.HandleStream)

		// Filter
		fs.PUT("/filter", handlers.HandleSetFilter)

		// Flows
		fs.GET("/flows", handlers.HandleListFlows)
		fs.GET("/flows/all", handlers.HandleListAllFlows)
		fs.GET("/flows/:id", handlers.HandleGetFlow)
		fs.GET("/view/:index", handlers.HandleGetViewFlow)
		fs.POST("/flows/load", handlers.HandleLoadFlows)
		fs.POST("/flows/:id/duplicate", handlers.HandleDuplicate)
		fs.POST("/flows/:id/backup", handlers.HandleBackup)
		fs.POST("/flows/:id/revert", handlers.HandleRevert)
		fs.DELETE("/flows/:id", handlers.HandleDeleteFlow)

		// Bulk actions
		bulk := fs.Group("", RateLimit(limiter))
		{
			bulk.POST("/flows/accept_all", handlers.HandleAcceptAll)
			bulk.POST("/flows/kill_all", handlers.HandleKillAll)
			bulk.DELETE("/flows", handlers.HandleClear)
		}

		// Engine ingestion and event history
		fs.POST("/events", handlers.HandleIngestEvent)
		fs.GET("/events", handlers.HandleListEvents)
		fs.DELETE("/events", handlers.HandleClearEvents)
	}
}

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
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ActionLimiter throttles operator bulk actions. Its rate can be changed
// at runtime, including from disabled to enabled and back.
//
// Thread Safety: ActionLimiter is safe for concurrent use.
type ActionLimiter struct {
	mu  sync.RWMutex
	lim *rate.Limiter // nil while disabled
}

// NewActionLimiter returns a limiter allowing perSecond bulk actions with
// the given burst. A non-positive perSecond starts it disabled.
func NewActionLimiter(perSecond float64, burst int) *ActionLimiter {
	a := &ActionLimiter{}
	a.Set(perSecond, burst)
	return a
}

// Set replaces the rate. The bucket starts full again. A non-positive
// perSecond disables limiting; a burst below 1 is raised to 1.
func (a *ActionLimiter) Set(perSecond float64, burst int) {
	var lim *rate.Limiter
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), max(1, burst))
	}
	a.mu.Lock()
	a.lim = lim
	a.mu.Unlock()
}

// Enabled reports whether actions are being limited.
func (a *ActionLimiter) Enabled() bool {
	return a.limiter() != nil
}

// Limit returns the current rate and burst, zero while disabled.
func (a *ActionLimiter) Limit() (perSecond float64, burst int) {
	lim := a.limiter()
	if lim == nil {
		return 0, 0
	}
	return float64(lim.Limit()), lim.Burst()
}

// Allow reports whether an action may run now. When it may not, retry is
// the suggested wait in whole seconds.
func (a *ActionLimiter) Allow() (ok bool, retry int) {
	lim := a.limiter()
	if lim == nil || lim.Allow() {
		return true, 0
	}
	return false, max(1, int(1/float64(lim.Limit())))
}

func (a *ActionLimiter) limiter() *rate.Limiter {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lim
}

// RateLimit rejects requests with 429 while limiter has no tokens. A nil
// or disabled limiter lets everything through.
func RateLimit(limiter *ActionLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retry := limiter.Allow()
		if ok {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "too many bulk actions, slow down",
			Code:  "RATE_LIMITED",
		})
	}
}

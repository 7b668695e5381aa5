// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package handlers

import (
	"context"
	"time"

	"github.com/dgfacade/dgfacade/internal/models"
)

// SleepHandler waits for the payload's duration_seconds before returning.
// It exists to exercise TTL expiry, cancellation, and the stop hook.
type SleepHandler struct {
	stop chan struct{}

	started time.Time
	target  time.Duration
}

// NewSleepHandler returns a sleep handler.
func NewSleepHandler() *SleepHandler {
	return &SleepHandler{stop: make(chan struct{})}
}

// Execute sleeps for duration_seconds (default 1), returning early on stop
// or context cancellation.
func (h *SleepHandler) Execute(ctx context.Context, req *models.Request) (map[string]interface{}, error) {
	seconds := 1.0
	if v, ok := toFloat(req.Payload["duration_seconds"]); ok && v >= 0 {
		seconds = v
	}
	h.target = time.Duration(seconds * float64(time.Second))
	h.started = time.Now()

	timer := time.NewTimer(h.target)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-h.stop:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]interface{}{
		"requested_seconds": seconds,
		"slept_seconds":     time.Since(h.started).Seconds(),
	}, nil
}

// Stop wakes the sleeper early.
func (h *SleepHandler) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// CaptureState reports sleep progress.
func (h *SleepHandler) CaptureState() map[string]interface{} {
	if h.started.IsZero() {
		return map[string]interface{}{"state": "pending"}
	}
	return map[string]interface{}{
		"state":           "sleeping",
		"elapsed_seconds": time.Since(h.started).Seconds(),
		"target_seconds":  h.target.Seconds(),
	}
}

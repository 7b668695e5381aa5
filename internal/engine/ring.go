// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package engine

import (
	"sync"

	"github.com/dgfacade/dgfacade/internal/models"
)

// stateRing keeps the last N terminal execution states, newest first.
type stateRing struct {
	mu    sync.Mutex
	buf   []models.HandlerState
	next  int
	count int
}

func newStateRing(capacity int) *stateRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &stateRing{buf: make([]models.HandlerState, capacity)}
}

// Push appends a terminal state, evicting the oldest when full.
func (r *stateRing) Push(s models.HandlerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns the retained states, newest first.
func (r *stateRing) Snapshot() []models.HandlerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.HandlerState, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Find returns the retained state for a request id.
func (r *stateRing) Find(requestID string) (models.HandlerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.count; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		if r.buf[idx].RequestID == requestID {
			return r.buf[idx], true
		}
	}
	return models.HandlerState{}, false
}

// Len returns the number of retained states.
func (r *stateRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

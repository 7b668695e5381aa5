// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package engine

import (
	"context"
	"sync"

	"github.com/dgfacade/dgfacade/internal/models"
)

// Future is the pending result of one submitted execution. It resolves
// exactly once, with the terminal Response.
type Future struct {
	requestID string
	done      chan struct{}
	once      sync.Once
	resp      *models.Response
}

func newFuture(requestID string) *Future {
	return &Future{requestID: requestID, done: make(chan struct{})}
}

// RequestID returns the owning request id.
func (f *Future) RequestID() string { return f.requestID }

// resolve installs the terminal response. Later calls are ignored.
func (f *Future) resolve(resp *models.Response) {
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
	})
}

// Done returns a channel closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks for the terminal response or the caller's context.
func (f *Future) Wait(ctx context.Context) (*models.Response, error) {
	select {
	case <-f.done:
		return f.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll returns the response when already resolved.
func (f *Future) Poll() (*models.Response, bool) {
	select {
	case <-f.done:
		return f.resp, true
	default:
		return nil, false
	}
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// Options configures the engine.
type Options struct {
	// RecentStates bounds the terminal-state ring.
	// Default: 1000
	RecentStates int

	// ShutdownGrace is how long an interrupted handler may keep running
	// after its stop hook fired and its context was cancelled.
	// Default: 5s
	ShutdownGrace time.Duration
}

// Engine runs every accepted request as its own supervised execution unit:
// per-request construction, TTL enforcement, cancellation, panic
// containment, cleanup-exactly-once, and terminal state retention.
type Engine struct {
	reg    Registry
	grace  time.Duration
	recent *stateRing

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	units  map[string]*unit
	closed bool

	wg sync.WaitGroup
}

// New creates an engine over a handler registry.
func New(reg Registry, opts Options) *Engine {
	if opts.RecentStates <= 0 {
		opts.RecentStates = 1000
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		reg:     reg,
		grace:   opts.ShutdownGrace,
		recent:  newStateRing(opts.RecentStates),
		baseCtx: ctx,
		stop:    cancel,
		units:   map[string]*unit{},
	}
}

// Submit starts one execution unit for the request. The emitter may be nil
// for non-streaming requests. The returned Future resolves with the terminal
// response.
func (e *Engine) Submit(req *models.Request, cfg *models.HandlerConfig, emit Emitter) (*Future, error) {
	instance, err := e.reg.Create(cfg.HandlerClass)
	if err != nil {
		err = fmt.Errorf("%w: %q", ErrUnknownHandlerClass, cfg.HandlerClass)
		e.recordRejected(req, err)
		return nil, err
	}
	handler, err := Adapt(instance)
	if err != nil {
		err = fmt.Errorf("engine: adapt %q: %w", cfg.HandlerClass, err)
		e.recordRejected(req, err)
		return nil, err
	}
	if req.Streaming && !SupportsStreaming(handler) {
		return nil, ErrNotStreaming
	}

	future := newFuture(req.RequestID)
	u := newUnit(e, req, cfg, handler, emit, future)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, dup := e.units[req.RequestID]; dup {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.RequestID)
	}
	e.units[req.RequestID] = u
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		u.run(e.baseCtx)
	}()

	logging.Debug().
		Str("request_id", req.RequestID).
		Str("request_type", req.RequestType).
		Str("handler_class", cfg.HandlerClass).
		Bool("streaming", req.Streaming).
		Msg("execution submitted")
	return future, nil
}

// SupportsStreaming reports whether an adapted handler can run the
// streaming path.
func SupportsStreaming(handler interface{}) bool {
	if a, ok := handler.(*adapted); ok {
		return a.supportsStreaming()
	}
	_, ok := handler.(StreamingHandler)
	return ok
}

// recordRejected retains a FAILED terminal state for a request the engine
// never ran, so the executions API can explain the rejection.
func (e *Engine) recordRejected(req *models.Request, err error) {
	now := time.Now().UTC()
	e.recent.Push(models.HandlerState{
		RequestID:   req.RequestID,
		RequestType: req.RequestType,
		Phase:       models.PhaseFailed,
		StartedAt:   now,
		CompletedAt: now,
		ErrorMsg:    err.Error(),
	})
}

// retire records a terminal state and forgets the live unit.
func (e *Engine) retire(u *unit, final models.HandlerState) {
	e.recent.Push(final)
	e.mu.Lock()
	delete(e.units, u.req.RequestID)
	e.mu.Unlock()
}

// Cancel requests a stop for a live execution. Returns false when the
// request id is not executing.
func (e *Engine) Cancel(requestID string) bool {
	e.mu.Lock()
	u, ok := e.units[requestID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	u.requestStop()
	return true
}

// State returns the execution state for a request id, live or retained.
func (e *Engine) State(requestID string) (models.HandlerState, bool) {
	e.mu.Lock()
	u, ok := e.units[requestID]
	e.mu.Unlock()
	if ok {
		return u.Snapshot(), true
	}
	return e.recent.Find(requestID)
}

// Progress returns the live progress map of an executing handler, when the
// handler reports one.
func (e *Engine) Progress(requestID string) (map[string]interface{}, bool) {
	e.mu.Lock()
	u, ok := e.units[requestID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return u.Progress(), true
}

// Active returns snapshots of every live execution, oldest first.
func (e *Engine) Active() []models.HandlerState {
	e.mu.Lock()
	out := make([]models.HandlerState, 0, len(e.units))
	for _, u := range e.units {
		out = append(out, u.Snapshot())
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ActiveCount returns the number of live executions.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.units)
}

// Recent returns the retained terminal states, newest first.
func (e *Engine) Recent() []models.HandlerState {
	return e.recent.Snapshot()
}

// Shutdown stops accepting submissions, interrupts every live execution,
// and waits for them to finish or the context to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	live := make([]*unit, 0, len(e.units))
	for _, u := range e.units {
		live = append(live, u)
	}
	e.mu.Unlock()

	logging.Info().Int("live_executions", len(live)).Msg("engine shutting down")
	for _, u := range live {
		u.requestStop()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.stop()
		return ctx.Err()
	}
	e.stop()
	return nil
}

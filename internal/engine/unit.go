// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
	"github.com/dgfacade/dgfacade/internal/models"
)

// unit is one supervised handler execution. It owns its HandlerState and is
// the only writer; readers get copies through Snapshot.
type unit struct {
	eng     *Engine
	id      string
	req     *models.Request
	cfg     *models.HandlerConfig
	handler interface{}
	emit    Emitter
	future  *Future

	mu    sync.Mutex
	state models.HandlerState
	ttl   time.Duration

	cancel    context.CancelFunc
	stopCh    chan struct{}
	stopOnce  sync.Once
	cleanOnce sync.Once
}

// execResult carries the handler's outcome out of its goroutine.
type execResult struct {
	result map[string]interface{}
	err    error
	stack  string
}

func newUnit(eng *Engine, req *models.Request, cfg *models.HandlerConfig, handler interface{}, emit Emitter, future *Future) *unit {
	return &unit{
		eng:     eng,
		id:      uuid.NewString(),
		req:     req,
		cfg:     cfg,
		handler: handler,
		emit:    emit,
		future:  future,
		stopCh:  make(chan struct{}),
		state: models.HandlerState{
			RequestID:   req.RequestID,
			RequestType: req.RequestType,
			Phase:       models.PhaseCreated,
			StartedAt:   time.Now().UTC(),
		},
	}
}

// setPhase transitions the lifecycle phase.
func (u *unit) setPhase(p models.ExecutionPhase) {
	u.mu.Lock()
	u.state.Phase = p
	u.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (u *unit) Snapshot() models.HandlerState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state.Snapshot()
}

// Progress returns the handler's live progress map, when it reports one.
func (u *unit) Progress() map[string]interface{} {
	r, ok := u.handler.(StateReporter)
	if !ok {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			logging.Warn().Str("request_id", u.req.RequestID).Interface("panic", rec).Msg("state capture panicked")
		}
	}()
	return r.CaptureState()
}

// requestStop asks the unit to stop. Idempotent.
func (u *unit) requestStop() {
	u.stopOnce.Do(func() { close(u.stopCh) })
}

// effectiveTTL resolves the TTL: request override, then the handler's own
// TTL, then the catalogue config (30 minute default).
func (u *unit) effectiveTTL() time.Duration {
	if u.req.TTLMinutes > 0 {
		return time.Duration(u.req.TTLMinutes) * time.Minute
	}
	if p, ok := u.handler.(TTLProvider); ok {
		if d := p.TTL(); d > 0 {
			return d
		}
	}
	return time.Duration(u.cfg.EffectiveTTLMinutes()) * time.Minute
}

// run drives the full lifecycle. It is the unit's goroutine body. The TTL
// clock starts before construction, so a hung construction hook is bounded
// the same way a hung execution is.
func (u *unit) run(baseCtx context.Context) {
	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()

	ctx, cancel := context.WithCancel(baseCtx)
	u.cancel = cancel
	defer cancel()

	u.ttl = u.effectiveTTL()
	ttlTimer := time.NewTimer(u.ttl)
	defer ttlTimer.Stop()

	constructCh := make(chan error, 1)
	go func() { constructCh <- u.construct() }()

	select {
	case err := <-constructCh:
		if err != nil {
			u.finish(models.PhaseFailed,
				models.NewErrorResponse(u.req.RequestID, models.ErrHandlerFailure,
					fmt.Sprintf("handler construction failed: %v", err)), "")
			return
		}
	case <-ttlTimer.C:
		u.abandonConstruct(constructCh, models.PhaseTimedOut,
			models.NewTimeoutResponse(u.req.RequestID, int(u.ttl.Minutes())))
		return
	case <-u.stopCh:
		resp := models.NewErrorResponse(u.req.RequestID, models.ErrHandlerFailure, "execution cancelled")
		resp.Result["cancelled"] = true
		u.abandonConstruct(constructCh, models.PhaseStopped, resp)
		return
	case <-baseCtx.Done():
		u.abandonConstruct(constructCh, models.PhaseStopped,
			models.NewErrorResponse(u.req.RequestID, models.ErrHandlerFailure, "engine shutting down"))
		return
	}

	u.setPhase(models.PhaseStarted)
	u.req.ExecutionStartedAt = time.Now().UTC()
	if u.req.Streaming {
		u.setPhase(models.PhaseStreaming)
	} else {
		u.setPhase(models.PhaseExecuting)
	}

	resultCh := make(chan execResult, 1)
	go u.invoke(ctx, resultCh)

	select {
	case res := <-resultCh:
		u.complete(res)
	case <-ttlTimer.C:
		u.interrupt(resultCh, models.PhaseTimedOut,
			models.NewTimeoutResponse(u.req.RequestID, int(u.ttl.Minutes())))
	case <-u.stopCh:
		resp := models.NewErrorResponse(u.req.RequestID, models.ErrHandlerFailure, "execution cancelled")
		resp.Result["cancelled"] = true
		u.interrupt(resultCh, models.PhaseStopped, resp)
	case <-baseCtx.Done():
		u.interrupt(resultCh, models.PhaseStopped,
			models.NewErrorResponse(u.req.RequestID, models.ErrHandlerFailure, "engine shutting down"))
	}
}

// construct runs the optional construction hook with panic containment.
func (u *unit) construct() (err error) {
	u.setPhase(models.PhaseConstructing)
	c, ok := u.handler.(Constructor)
	if !ok {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("construction panicked: %v", rec)
		}
	}()
	return c.Construct(u.cfg.Config, u.req)
}

// invoke runs the handler's execution method and reports the outcome.
// Panics are contained here, with the stack preserved for the state record.
func (u *unit) invoke(ctx context.Context, out chan<- execResult) {
	defer func() {
		if rec := recover(); rec != nil {
			out <- execResult{
				err:   fmt.Errorf("handler panicked: %v", rec),
				stack: string(debug.Stack()),
			}
		}
	}()

	var (
		result map[string]interface{}
		err    error
	)
	if u.req.Streaming {
		result, err = u.invokeStreaming(ctx)
	} else {
		result, err = u.invokeOneShot(ctx)
	}
	out <- execResult{result: result, err: err}
}

func (u *unit) invokeOneShot(ctx context.Context) (map[string]interface{}, error) {
	if a, ok := u.handler.(*adapted); ok && !a.supportsOneShot() {
		return nil, ErrNotStreaming
	}
	h, ok := u.handler.(Handler)
	if !ok {
		return nil, fmt.Errorf("handler %T has no one-shot execution method", u.handler)
	}
	return h.Execute(ctx, u.req)
}

func (u *unit) invokeStreaming(ctx context.Context) (map[string]interface{}, error) {
	h, ok := u.handler.(StreamingHandler)
	if !ok {
		return nil, ErrNotStreaming
	}
	if a, ok := u.handler.(*adapted); ok && !a.supportsStreaming() {
		return nil, ErrNotStreaming
	}
	return h.ExecuteStreaming(ctx, u.req, u.emit)
}

// complete handles a handler that returned on its own.
func (u *unit) complete(res execResult) {
	if res.err != nil {
		u.finish(models.PhaseFailed,
			models.NewErrorResponse(u.req.RequestID, models.ErrHandlerFailure, res.err.Error()),
			res.stack)
		return
	}
	u.finish(models.PhaseStopped, models.NewSuccessResponse(u.req.RequestID, res.result), "")
}

// fireStop runs the handler's stop hook with panic containment.
func (u *unit) fireStop() {
	s, ok := u.handler.(Stopper)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logging.Warn().Str("request_id", u.req.RequestID).Interface("panic", rec).Msg("stop hook panicked")
		}
	}()
	s.Stop()
}

// interrupt stops a still-running handler: the stop hook fires, the context
// is cancelled, and the handler gets the engine grace period to return
// before the unit finishes without it.
func (u *unit) interrupt(resultCh <-chan execResult, terminal models.ExecutionPhase, resp *models.Response) {
	u.setPhase(models.PhaseStopping)
	u.fireStop()
	u.cancel()

	select {
	case <-resultCh:
	case <-time.After(u.eng.grace):
		logging.Warn().
			Str("request_id", u.req.RequestID).
			Str("request_type", u.req.RequestType).
			Dur("grace", u.eng.grace).
			Msg("handler did not return within grace period, abandoning")
	}
	u.finish(terminal, resp, "")
}

// abandonConstruct stops a unit whose construction hook is still running.
// The hook gets the engine grace period to return before the unit finishes
// without it.
func (u *unit) abandonConstruct(constructCh <-chan error, terminal models.ExecutionPhase, resp *models.Response) {
	u.setPhase(models.PhaseStopping)
	u.fireStop()
	u.cancel()

	select {
	case <-constructCh:
	case <-time.After(u.eng.grace):
		logging.Warn().
			Str("request_id", u.req.RequestID).
			Str("request_type", u.req.RequestType).
			Dur("grace", u.eng.grace).
			Msg("construction did not return within grace period, abandoning")
	}
	u.finish(terminal, resp, "")
}

// finish stamps the response, records the terminal state, runs cleanup
// exactly once, and resolves the future. Safe against double invocation
// through the future's resolve-once.
func (u *unit) finish(terminal models.ExecutionPhase, resp *models.Response, stack string) {
	now := time.Now().UTC()
	resp.RequestID = u.req.RequestID
	resp.HandlerID = u.id
	resp.HandlerType = u.cfg.HandlerClass
	resp.ExecutionTimeMs = now.Sub(u.state.StartedAt).Milliseconds()

	u.cleanOnce.Do(func() {
		if c, ok := u.handler.(Cleaner); ok {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Warn().Str("request_id", u.req.RequestID).Interface("panic", rec).Msg("cleanup panicked")
				}
			}()
			c.Cleanup()
		}
	})

	u.mu.Lock()
	u.state.Phase = terminal
	u.state.CompletedAt = now
	u.state.Success = terminal == models.PhaseStopped && resp.Status == models.StatusSuccess
	u.state.ErrorMsg = resp.Message
	u.state.Stack = stack
	if raw, err := json.Marshal(resp); err == nil {
		u.state.ResponseSnapshot = string(raw)
	}
	final := u.state.Snapshot()
	u.mu.Unlock()

	metrics.ExecutionsTotal.WithLabelValues(u.req.RequestType, string(terminal)).Inc()
	metrics.ExecutionDuration.WithLabelValues(u.req.RequestType).Observe(now.Sub(u.state.StartedAt).Seconds())

	u.eng.retire(u, final)
	u.future.resolve(resp)

	logging.Debug().
		Str("request_id", u.req.RequestID).
		Str("request_type", u.req.RequestType).
		Str("phase", string(terminal)).
		Int64("execution_time_ms", resp.ExecutionTimeMs).
		Msg("execution finished")
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package dispatch is the request pipeline between every ingress surface and
// the execution engine: normalization, validation, authentication, handler
// catalogue resolution, cluster routing, and submission. All ingress paths
// (REST, WebSocket, ingesters, cluster forwards) converge on Dispatch, so
// every request sees identical rules regardless of where it arrived.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dgfacade/dgfacade/internal/auth"
	"github.com/dgfacade/dgfacade/internal/cluster"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/engine"
	"github.com/dgfacade/dgfacade/internal/handlers"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
	"github.com/dgfacade/dgfacade/internal/models"
	"github.com/dgfacade/dgfacade/internal/streaming"
	"github.com/dgfacade/dgfacade/internal/validation"
)

// Forwarder abstracts the cluster forwarding decision. Satisfied by
// *cluster.Service; nil disables forwarding entirely.
type Forwarder interface {
	ShouldForward() bool
	Forward(ctx context.Context, req *models.Request) (*models.Response, error)
}

// Dispatcher runs the dispatch pipeline.
type Dispatcher struct {
	authsvc  *auth.Service
	catalog  *config.HandlerStore
	registry *handlers.Registry
	eng      *engine.Engine
	sessions *streaming.Manager
	fwd      Forwarder

	total atomic.Int64
}

// New creates a dispatcher. fwd may be nil when clustering is off.
func New(authsvc *auth.Service, catalog *config.HandlerStore, registry *handlers.Registry,
	eng *engine.Engine, sessions *streaming.Manager, fwd Forwarder) *Dispatcher {
	return &Dispatcher{
		authsvc:  authsvc,
		catalog:  catalog,
		registry: registry,
		eng:      eng,
		sessions: sessions,
		fwd:      fwd,
	}
}

// TotalRequests returns the number of requests dispatched since start.
func (d *Dispatcher) TotalRequests() int64 { return d.total.Load() }

// Dispatch runs one request through the pipeline and returns its response:
// the terminal response for one-shot requests, the STREAMING_STARTED
// acknowledgement for streaming ones. It never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, req *models.Request) *models.Response {
	started := time.Now()
	d.total.Add(1)
	req.EnsureID()
	req.Normalize(started)
	if req.Source == "" {
		req.Source = models.SourceManual
	}

	resp := d.dispatch(ctx, req, started)

	outcome := "ok"
	if kind, failed := resp.Kind(); failed {
		outcome = string(kind)
	} else if resp.Status == models.StatusError {
		outcome = "error"
	}
	metrics.DispatchTotal.WithLabelValues(string(req.Source), outcome).Inc()
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *models.Request, started time.Time) *models.Response {
	if err := validation.ValidateRequest(req); err != nil {
		return models.NewErrorResponse(req.RequestID, models.ErrInvalidRequest, err.Error())
	}
	if err := d.authsvc.Authenticate(req); err != nil {
		return models.NewErrorResponse(req.RequestID, models.ErrAuthFailed, err.Error())
	}

	if d.fwd != nil && d.fwd.ShouldForward() {
		resp, err := d.fwd.Forward(ctx, req)
		if err != nil {
			return models.NewErrorResponse(req.RequestID, models.ErrClusterForwardFailed, err.Error())
		}
		return resp
	}

	cfg, ok := d.catalog.Resolve(req.UserID, req.RequestType)
	if !ok {
		return models.NewErrorResponse(req.RequestID, models.ErrHandlerNotFound,
			"no enabled handler for request type "+req.RequestType)
	}
	if cfg.IsPython && !d.registry.ForeignEnabled() {
		return models.NewErrorResponse(req.RequestID, models.ErrConfigError,
			"handler "+cfg.HandlerClass+" requires the foreign worker, which is not configured")
	}

	metrics.DispatchDuration.Observe(time.Since(started).Seconds())
	if req.Streaming {
		return d.submitStreaming(req, cfg)
	}
	return d.submitOneShot(ctx, req, cfg)
}

func (d *Dispatcher) submitOneShot(ctx context.Context, req *models.Request, cfg *models.HandlerConfig) *models.Response {
	future, err := d.eng.Submit(req, cfg, nil)
	if err != nil {
		return d.submitError(req, err)
	}
	resp, err := future.Wait(ctx)
	if err != nil {
		// The execution keeps running under its own TTL; the caller can
		// poll the executions API for the terminal state.
		return &models.Response{
			RequestID: req.RequestID,
			Status:    models.StatusError,
			Timestamp: time.Now().UTC(),
			Message:   "execution still running; poll the executions API for the result",
		}
	}
	return resp
}

func (d *Dispatcher) submitStreaming(req *models.Request, cfg *models.HandlerConfig) *models.Response {
	info, emit, err := d.sessions.Start(req, cfg)
	if err != nil {
		if errors.Is(err, streaming.ErrTopicRequired) {
			return models.NewErrorResponse(req.RequestID, models.ErrInvalidRequest, err.Error())
		}
		return models.NewErrorResponse(req.RequestID, models.ErrConfigError, err.Error())
	}

	future, err := d.eng.Submit(req, cfg, emit)
	if err != nil {
		d.sessions.Complete(info.SessionID, models.NewErrorResponse(req.RequestID, models.ErrHandlerFailure, err.Error()))
		return d.submitError(req, err)
	}

	// The session outlives this call; its teardown follows the execution.
	go func() {
		resp, _ := future.Wait(context.Background())
		d.sessions.Complete(info.SessionID, resp)
	}()

	logging.Info().
		Str("request_id", req.RequestID).
		Str("session_id", info.SessionID).
		Str("request_type", req.RequestType).
		Msg("streaming request dispatched")
	return d.sessions.StartedAck(info)
}

// submitError maps engine submission failures onto the response taxonomy.
func (d *Dispatcher) submitError(req *models.Request, err error) *models.Response {
	switch {
	case errors.Is(err, engine.ErrUnknownHandlerClass):
		return models.NewErrorResponse(req.RequestID, models.ErrConfigError, err.Error())
	case errors.Is(err, engine.ErrNotStreaming):
		return models.NewErrorResponse(req.RequestID, models.ErrInvalidRequest,
			"handler for "+req.RequestType+" does not support streaming")
	case errors.Is(err, engine.ErrDuplicateRequest):
		return models.NewErrorResponse(req.RequestID, models.ErrInvalidRequest, err.Error())
	case errors.Is(err, engine.ErrShuttingDown):
		return &models.Response{
			RequestID: req.RequestID,
			Status:    models.StatusError,
			Timestamp: time.Now().UTC(),
			Message:   "gateway is shutting down",
		}
	default:
		return models.NewErrorResponse(req.RequestID, models.ErrHandlerFailure, err.Error())
	}
}

// Compile-time check that the cluster service satisfies the forwarder seam.
var _ Forwarder = (*cluster.Service)(nil)

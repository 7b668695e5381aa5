// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dgfacade/dgfacade/internal/models"
)

// Handler executes one request and returns its result map. The engine wraps
// the result into the canonical Response and stamps the execution metadata.
type Handler interface {
	Execute(ctx context.Context, req *models.Request) (map[string]interface{}, error)
}

// Emitter delivers one incremental streaming payload. A streaming handler
// calls it for every data message; delivery failures come back as the error.
type Emitter func(payload map[string]interface{}) error

// StreamingHandler produces incremental results through an Emitter instead
// of one final result map. The returned map becomes the final summary.
type StreamingHandler interface {
	ExecuteStreaming(ctx context.Context, req *models.Request, emit Emitter) (map[string]interface{}, error)
}

// Constructor is an optional capability: handlers implementing it receive
// their catalogue config and the request before execution starts.
type Constructor interface {
	Construct(cfg map[string]interface{}, req *models.Request) error
}

// Stopper is an optional capability: called when the execution is cancelled
// or its TTL expires, before the context is torn down.
type Stopper interface {
	Stop()
}

// Cleaner is an optional capability: called exactly once after the execution
// reaches a terminal phase, whatever that phase is.
type Cleaner interface {
	Cleanup()
}

// StateReporter is an optional capability: handlers implementing it expose a
// live progress map through the execution state API.
type StateReporter interface {
	CaptureState() map[string]interface{}
}

// TTLProvider is an optional capability: a constructed handler may announce
// its own TTL. A request-level ttl_minutes still wins.
type TTLProvider interface {
	TTL() time.Duration
}

// Registry creates handler instances by catalogue class name.
type Registry interface {
	// Create returns a fresh handler instance for one execution.
	Create(handlerClass string) (interface{}, error)
}

// Engine-level sentinel errors.
var (
	// ErrUnknownHandlerClass is returned by Submit when the registry does not
	// know the catalogue's handler class.
	ErrUnknownHandlerClass = errors.New("engine: unknown handler class")

	// ErrNotStreaming is returned when a streaming request reaches a handler
	// without streaming support.
	ErrNotStreaming = errors.New("engine: handler does not support streaming")

	// ErrShuttingDown is returned by Submit during shutdown.
	ErrShuttingDown = errors.New("engine: shutting down")

	// ErrDuplicateRequest is returned when the request id is already live.
	ErrDuplicateRequest = errors.New("engine: request id already executing")
)

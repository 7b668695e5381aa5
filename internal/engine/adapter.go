// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package engine

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dgfacade/dgfacade/internal/models"
)

// Dynamic adaptation lets catalogue entries point at handler types that were
// written without this package's interfaces. The adapter inspects the
// instance's method set once, binds the lifecycle methods by conventional
// names, and exposes the result through the standard capability interfaces.
//
// Method name candidates, first match wins (case-insensitive):
//
//	execution:    Execute, Handle, Process, Run
//	construction: Construct, Init, Initialize, Setup
//	stop:         Stop, Cancel, Abort, Shutdown
//	cleanup:      Cleanup, Close, Destroy, Dispose
//	state:        CaptureState, State, Snapshot
//	ttl:          TTL, Timeout

var (
	executeNames   = []string{"execute", "handle", "process", "run"}
	constructNames = []string{"construct", "init", "initialize", "setup"}
	stopNames      = []string{"stop", "cancel", "abort", "shutdown"}
	cleanupNames   = []string{"cleanup", "close", "destroy", "dispose"}
	stateNames     = []string{"capturestate", "state", "snapshot"}
	ttlNames       = []string{"ttl", "timeout"}
)

// adapted is a dynamically bound handler. Only the execute slot is
// mandatory; every other slot is nil when the instance has no matching
// method.
type adapted struct {
	execute   func(ctx context.Context, req *models.Request) (map[string]interface{}, error)
	streaming func(ctx context.Context, req *models.Request, emit Emitter) (map[string]interface{}, error)
	construct func(cfg map[string]interface{}, req *models.Request) error
	stop      func()
	cleanup   func()
	state     func() map[string]interface{}
	ttl       func() time.Duration
}

// Adapt returns the instance itself when it already satisfies Handler or
// StreamingHandler, and a reflective adapter otherwise. An instance with no
// recognizable execution method is an error.
func Adapt(instance interface{}) (interface{}, error) {
	switch instance.(type) {
	case Handler, StreamingHandler:
		return instance, nil
	}

	a := &adapted{}
	v := reflect.ValueOf(instance)
	t := v.Type()

	findMethod := func(names []string) (reflect.Value, bool) {
		for i := 0; i < t.NumMethod(); i++ {
			name := strings.ToLower(t.Method(i).Name)
			for _, cand := range names {
				if name == cand {
					return v.Method(i), true
				}
			}
		}
		return reflect.Value{}, false
	}

	if m, ok := findMethod(executeNames); ok {
		if err := a.bindExecute(m); err != nil {
			return nil, err
		}
	}
	if a.execute == nil && a.streaming == nil {
		return nil, fmt.Errorf("%T has no execution method (Execute/Handle/Process/Run)", instance)
	}

	if m, ok := findMethod(constructNames); ok {
		if err := a.bindConstruct(m); err != nil {
			return nil, err
		}
	}
	if m, ok := findMethod(stopNames); ok {
		if fn, ok := m.Interface().(func()); ok {
			a.stop = fn
		}
	}
	if m, ok := findMethod(cleanupNames); ok {
		switch fn := m.Interface().(type) {
		case func():
			a.cleanup = fn
		case func() error:
			a.cleanup = func() { _ = fn() }
		}
	}
	if m, ok := findMethod(stateNames); ok {
		if fn, ok := m.Interface().(func() map[string]interface{}); ok {
			a.state = fn
		}
	}
	if m, ok := findMethod(ttlNames); ok {
		if fn, ok := m.Interface().(func() time.Duration); ok {
			a.ttl = fn
		}
	}
	return a, nil
}

// bindExecute accepts the supported execution signatures.
func (a *adapted) bindExecute(m reflect.Value) error {
	switch fn := m.Interface().(type) {
	case func(context.Context, *models.Request) (map[string]interface{}, error):
		a.execute = fn
	case func(*models.Request) (map[string]interface{}, error):
		a.execute = func(_ context.Context, req *models.Request) (map[string]interface{}, error) {
			return fn(req)
		}
	case func(context.Context, *models.Request, Emitter) (map[string]interface{}, error):
		a.streaming = fn
	case func(context.Context, *models.Request, func(map[string]interface{}) error) (map[string]interface{}, error):
		a.streaming = func(ctx context.Context, req *models.Request, emit Emitter) (map[string]interface{}, error) {
			return fn(ctx, req, emit)
		}
	default:
		return fmt.Errorf("unsupported execution method signature %s", m.Type())
	}
	return nil
}

// bindConstruct accepts the supported construction signatures.
func (a *adapted) bindConstruct(m reflect.Value) error {
	switch fn := m.Interface().(type) {
	case func(map[string]interface{}, *models.Request) error:
		a.construct = fn
	case func(map[string]interface{}) error:
		a.construct = func(cfg map[string]interface{}, _ *models.Request) error {
			return fn(cfg)
		}
	case func() error:
		a.construct = func(map[string]interface{}, *models.Request) error {
			return fn()
		}
	default:
		return fmt.Errorf("unsupported construction method signature %s", m.Type())
	}
	return nil
}

// Execute satisfies Handler. Streaming-only instances reject the one-shot
// path.
func (a *adapted) Execute(ctx context.Context, req *models.Request) (map[string]interface{}, error) {
	if a.execute == nil {
		return nil, ErrNotStreaming
	}
	return a.execute(ctx, req)
}

// ExecuteStreaming satisfies StreamingHandler when the bound method takes an
// emitter; a one-shot execute runs with its single result emitted once.
func (a *adapted) ExecuteStreaming(ctx context.Context, req *models.Request, emit Emitter) (map[string]interface{}, error) {
	if a.streaming != nil {
		return a.streaming(ctx, req, emit)
	}
	return nil, ErrNotStreaming
}

// supportsStreaming reports whether a streaming execution method was bound.
func (a *adapted) supportsStreaming() bool {
	return a.streaming != nil
}

// supportsOneShot reports whether a one-shot execution method was bound.
func (a *adapted) supportsOneShot() bool {
	return a.execute != nil
}

func (a *adapted) Construct(cfg map[string]interface{}, req *models.Request) error {
	if a.construct == nil {
		return nil
	}
	return a.construct(cfg, req)
}

func (a *adapted) Stop() {
	if a.stop != nil {
		a.stop()
	}
}

func (a *adapted) Cleanup() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

func (a *adapted) CaptureState() map[string]interface{} {
	if a.state == nil {
		return nil
	}
	return a.state()
}

func (a *adapted) TTL() time.Duration {
	if a.ttl == nil {
		return 0
	}
	return a.ttl()
}

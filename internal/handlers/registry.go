// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package handlers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dgfacade/dgfacade/internal/channel"
	"github.com/dgfacade/dgfacade/internal/logging"
)

// Factory creates one handler instance per execution.
type Factory func() interface{}

// ChannelAware handlers get the channel accessor injected before execution,
// so they can publish to side channels from inside Execute.
type ChannelAware interface {
	SetChannelAccessor(acc *channel.Accessor)
}

// Registry maps catalogue handler classes to factories. It satisfies
// engine.Registry. Classes without a native factory fall through to the
// foreign-worker invoker when one is installed.
type Registry struct {
	accessor *channel.Accessor

	mu        sync.RWMutex
	factories map[string]Factory
	foreign   ForeignInvoker
}

// NewRegistry creates a registry with the built-in catalogue registered.
// The accessor may be nil when no channel layer exists (tests).
func NewRegistry(acc *channel.Accessor) *Registry {
	r := &Registry{
		accessor:  acc,
		factories: map[string]Factory{},
	}
	r.Register(ClassArithmetic, func() interface{} { return NewArithmeticHandler() })
	r.Register(ClassEcho, func() interface{} { return NewEchoHandler() })
	r.Register(ClassSleep, func() interface{} { return NewSleepHandler() })
	r.Register(ClassMarketData, func() interface{} { return NewMarketDataHandler() })
	return r
}

// Register installs a factory for a handler class, replacing any previous
// registration.
func (r *Registry) Register(handlerClass string, f Factory) {
	r.mu.Lock()
	r.factories[handlerClass] = f
	r.mu.Unlock()
	logging.Debug().Str("handler_class", handlerClass).Msg("handler class registered")
}

// SetForeignInvoker installs the foreign-worker seam. Classes without a
// native factory are routed through it.
func (r *Registry) SetForeignInvoker(inv ForeignInvoker) {
	r.mu.Lock()
	r.foreign = inv
	r.mu.Unlock()
}

// ForeignEnabled reports whether a foreign invoker is installed.
func (r *Registry) ForeignEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.foreign != nil
}

// Classes returns the registered native classes, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for c := range r.factories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Create returns a fresh handler instance for one execution, injecting the
// channel accessor where the handler wants it.
func (r *Registry) Create(handlerClass string) (interface{}, error) {
	r.mu.RLock()
	f, ok := r.factories[handlerClass]
	foreign := r.foreign
	r.mu.RUnlock()

	if !ok {
		if foreign != nil {
			return newForeignHandler(foreign, handlerClass), nil
		}
		return nil, fmt.Errorf("handler class %q is not registered", handlerClass)
	}

	instance := f()
	if aware, ok := instance.(ChannelAware); ok && r.accessor != nil {
		aware.SetChannelAccessor(r.accessor)
	}
	return instance, nil
}

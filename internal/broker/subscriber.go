// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
	"github.com/dgfacade/dgfacade/internal/models"
)

// capacityPollInterval is how often a saturated pull loop re-checks the
// queue. Coarse on purpose: saturation means the system is already behind.
const capacityPollInterval = 100 * time.Millisecond

// queued is one envelope waiting for dispatch.
type queued struct {
	destination string
	env         *models.MessageEnvelope
}

// subscriberBase is the shared half of every subscriber adapter: the
// listener table, the bounded internal queue, the dispatch loop, and the
// pause/backpressure gates. Adapters embed it and run their pull loops
// against waitCapacity + enqueue.
type subscriberBase struct {
	conn

	maxDepth int
	queue    chan queued

	mu        sync.RWMutex
	listeners map[string]Listener

	paused atomic.Bool
	closed atomic.Bool

	received   atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
}

func (b *subscriberBase) initSubscriber(brokerType string, cfg map[string]interface{}) {
	b.initConn(brokerType, cfg)
	b.maxDepth = cfgInt(cfg, "backpressure_max_depth", DefaultBackpressureDepth)
	if b.maxDepth <= 0 {
		b.maxDepth = DefaultBackpressureDepth
	}
	b.queue = make(chan queued, b.maxDepth)
	b.listeners = map[string]Listener{}
}

// addListener registers a destination listener.
func (b *subscriberBase) addListener(destination string, l Listener) {
	b.mu.Lock()
	b.listeners[destination] = l
	b.mu.Unlock()
}

// removeListener drops a destination listener.
func (b *subscriberBase) removeListener(destination string) {
	b.mu.Lock()
	delete(b.listeners, destination)
	b.mu.Unlock()
}

// listener looks up the listener for a destination.
func (b *subscriberBase) listener(destination string) (Listener, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.listeners[destination]
	return l, ok
}

// Subscriptions returns the registered destinations, sorted.
func (b *subscriberBase) Subscriptions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.listeners))
	for d := range b.listeners {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// QueueDepth returns the current internal queue depth.
func (b *subscriberBase) QueueDepth() int {
	return len(b.queue)
}

// Pause stops pulling without touching subscriptions.
func (b *subscriberBase) Pause() {
	b.paused.Store(true)
	b.setState(StatePaused)
	metrics.SubscriberPaused.WithLabelValues(b.brokerType).Set(1)
}

// Resume restarts pulling.
func (b *subscriberBase) Resume() {
	b.paused.Store(false)
	if b.State() == StatePaused {
		b.setState(StateConnected)
	}
	metrics.SubscriberPaused.WithLabelValues(b.brokerType).Set(0)
}

// saturated reports whether the queue has reached the backpressure limit.
func (b *subscriberBase) saturated() bool {
	return len(b.queue) >= b.maxDepth
}

// waitCapacity blocks while the subscriber is paused or the queue is
// saturated. Returns false when the context ends or the subscriber closes;
// pull loops must stop pulling then.
func (b *subscriberBase) waitCapacity(ctx context.Context) bool {
	for {
		if b.closed.Load() {
			return false
		}
		if !b.paused.Load() && !b.saturated() {
			return true
		}
		metrics.SubscriberPaused.WithLabelValues(b.brokerType).Set(1)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(capacityPollInterval):
		}
	}
}

// enqueue appends one envelope for dispatch. Pull loops call waitCapacity
// first, so the send cannot exceed the queue bound; a full queue here blocks
// rather than drops.
func (b *subscriberBase) enqueue(ctx context.Context, destination string, env *models.MessageEnvelope) bool {
	b.received.Add(1)
	metrics.BrokerConsumeTotal.WithLabelValues(b.brokerType).Inc()
	select {
	case b.queue <- queued{destination: destination, env: env}:
		metrics.SubscriberQueueDepth.WithLabelValues(b.brokerType).Set(float64(len(b.queue)))
		return true
	case <-ctx.Done():
		return false
	}
}

// dispatchLoop drains the queue and invokes destination listeners until the
// context ends. Listener panics are contained here so a bad listener cannot
// take the subscriber down.
func (b *subscriberBase) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-b.queue:
			metrics.SubscriberQueueDepth.WithLabelValues(b.brokerType).Set(float64(len(b.queue)))
			b.dispatchOne(q)
		}
	}
}

func (b *subscriberBase) dispatchOne(q queued) {
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			logging.Error().
				Str("broker_type", b.brokerType).
				Str("destination", q.destination).
				Interface("panic", r).
				Msg("listener panicked")
		}
	}()

	l, ok := b.listener(q.destination)
	if !ok {
		logging.Warn().
			Str("broker_type", b.brokerType).
			Str("destination", q.destination).
			Msg("no listener for destination, message skipped")
		b.failed.Add(1)
		return
	}
	if err := l(q.env); err != nil {
		b.failed.Add(1)
		logging.Error().Err(err).
			Str("broker_type", b.brokerType).
			Str("destination", q.destination).
			Str("message_id", q.env.MessageID).
			Msg("listener failed")
		return
	}
	b.dispatched.Add(1)
}

// markClosed flips the closed gate and the terminal state.
func (b *subscriberBase) markClosed() {
	b.closed.Store(true)
	b.setState(StateClosing)
	b.state.Store(int32(StateClosed))
}

// Stats returns a counters snapshot.
func (b *subscriberBase) Stats() SubscriberStats {
	return SubscriberStats{
		State:      b.State().String(),
		Received:   b.received.Load(),
		Dispatched: b.dispatched.Load(),
		Failed:     b.failed.Load(),
		QueueDepth: len(b.queue),
		Paused:     b.paused.Load(),
		Reconnects: b.reconnects.Load(),
	}
}

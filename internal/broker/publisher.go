// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"sync/atomic"

	"github.com/dgfacade/dgfacade/internal/metrics"
)

// publisherBase is the shared half of every publisher adapter: the
// connection state machine plus publish counters.
type publisherBase struct {
	conn

	published atomic.Uint64
	failed    atomic.Uint64
	batches   atomic.Uint64
	closed    atomic.Bool
}

func (b *publisherBase) initPublisher(brokerType string, cfg map[string]interface{}) {
	b.initConn(brokerType, cfg)
}

// countPublish records one publish outcome.
func (b *publisherBase) countPublish(err error) {
	if err != nil {
		b.failed.Add(1)
		metrics.BrokerPublishTotal.WithLabelValues(b.brokerType, "error").Inc()
		return
	}
	b.published.Add(1)
	metrics.BrokerPublishTotal.WithLabelValues(b.brokerType, "ok").Inc()
}

// markClosed flips the closed gate and the terminal state.
func (b *publisherBase) markClosed() {
	b.closed.Store(true)
	b.setState(StateClosing)
	b.state.Store(int32(StateClosed))
}

// Stats returns a counters snapshot.
func (b *publisherBase) Stats() PublisherStats {
	return PublisherStats{
		State:      b.State().String(),
		Published:  b.published.Load(),
		Failed:     b.failed.Load(),
		Batches:    b.batches.Load(),
		Reconnects: b.reconnects.Load(),
	}
}

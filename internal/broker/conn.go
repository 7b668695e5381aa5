// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
)

// ConnState is the adapter connection state.
type ConnState int32

// Connection states. CLOSED is terminal.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StatePaused
	StateClosing
	StateClosed
)

// String renders the state for stats and logs.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StatePaused:
		return "PAUSED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// reconnectMaxInterval caps the exponential reconnect backoff.
const reconnectMaxInterval = 60 * time.Second

// conn is the shared connection state machine. Adapters embed it and drive
// transitions through the helpers; reconnection runs the adapter's connect
// func under exponential backoff capped at reconnectMaxInterval.
type conn struct {
	brokerType string
	state      atomic.Int32
	reconnects atomic.Uint64

	// reconnectInterval seeds the backoff; from reconnect_interval_seconds.
	reconnectInterval time.Duration
}

func (c *conn) initConn(brokerType string, cfg map[string]interface{}) {
	c.brokerType = brokerType
	c.reconnectInterval = cfgSeconds(cfg, "reconnect_interval_seconds", 5*time.Second)
	c.state.Store(int32(StateDisconnected))
}

// State returns the current connection state.
func (c *conn) State() ConnState {
	return ConnState(c.state.Load())
}

// setState transitions unconditionally. CLOSED is sticky.
func (c *conn) setState(s ConnState) {
	if c.State() == StateClosed {
		return
	}
	c.state.Store(int32(s))
}

// IsConnected reports the CONNECTED state.
func (c *conn) IsConnected() bool {
	return c.State() == StateConnected
}

// connectOnce runs the adapter's connect under the CONNECTING state.
func (c *conn) connectOnce(connect func() error) error {
	c.setState(StateConnecting)
	if err := connect(); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateConnected)
	return nil
}

// reconnectLoop transitions to RECONNECTING and retries the adapter's
// connect with exponential backoff until it succeeds, the context ends, or
// the adapter closes. onConnected runs after a successful reconnect (adapters
// use it to re-establish subscriptions).
func (c *conn) reconnectLoop(ctx context.Context, connect func() error, onConnected func()) {
	c.setState(StateReconnecting)
	metrics.BrokerReconnects.WithLabelValues(c.brokerType).Inc()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectInterval
	bo.MaxInterval = reconnectMaxInterval
	bo.MaxElapsedTime = 0 // retry until closed

	for {
		if c.State() == StateClosed || c.State() == StateClosing {
			return
		}
		wait := bo.NextBackOff()
		logging.Warn().
			Str("broker_type", c.brokerType).
			Dur("retry_in", wait).
			Msg("broker connection lost, scheduling reconnect")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		c.reconnects.Add(1)
		if err := connect(); err != nil {
			logging.Error().Err(err).Str("broker_type", c.brokerType).Msg("reconnect attempt failed")
			continue
		}
		c.setState(StateConnected)
		logging.Info().Str("broker_type", c.brokerType).Msg("broker reconnected")
		if onConnected != nil {
			onConnected()
		}
		return
	}
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package cluster implements gateway clustering: periodic heartbeats between
// peers, liveness classification from heartbeat age, and forwarding of
// requests from gateway-role nodes to executor-role nodes with a circuit
// breaker per peer.
package cluster

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package streaming owns the lifecycle of streaming sessions: the
// STREAMING_STARTED acknowledgement, per-session monotonic sequencing,
// multi-channel fan-out (WebSocket, REST pull buffer, broker channels),
// session TTL enforcement, and the STREAMING_ENDED terminal notice.
//
// Fan-out channels are isolated: a delivery failure on one channel is
// logged and counted, never propagated to the handler or to the other
// channels of the same session.
package streaming

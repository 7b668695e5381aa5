// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package engine executes requests as isolated, supervised units. Each
// submission gets its own goroutine, its own handler instance, a TTL timer,
// and a lifecycle record; panics, timeouts, and cancellations all converge
// on the same terminal bookkeeping (cleanup once, state retained, future
// resolved).
//
// Handlers are plain values created by a Registry. They either implement the
// Handler / StreamingHandler interfaces directly or get bound dynamically by
// method name through Adapt.
package engine

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package models defines the shared data model of the gateway: requests,
// responses, message envelopes, handler execution state, streaming sessions,
// cluster membership, and the JSON shapes of the configuration registries.
//
// Types in this package are plain data carriers. Mutation rules are owned by
// the packages that create them (the engine owns HandlerState, the streaming
// session manager owns StreamingSession); everything handed across package
// boundaries is either immutable after construction or an explicit snapshot.
package models

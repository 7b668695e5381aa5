// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package websocket is the WebSocket egress gateway for streaming sessions.
// Connected clients subscribe to session identifiers and receive every
// streaming response published to those sessions as a JSON frame. Slow
// clients are disconnected rather than allowed to stall the hub.
package websocket

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package handlers holds the built-in handler catalogue, the class factory
// registry the engine creates instances through, and the foreign-worker
// boundary for catalogue entries implemented outside the process.
package handlers

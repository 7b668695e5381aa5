// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package channel caches broker adapters per channel id, resolving each
// channel through the registry chain (channel file, broker file, caller
// overrides) before the first connection is made.
package channel

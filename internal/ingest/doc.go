// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package ingest runs the configured ingesters: each one subscribes to the
// destinations of its input channel, decodes arriving envelopes into
// requests, and hands them to the dispatcher. Ingesters are supervised
// services; a broken input channel keeps restarting under backoff without
// touching the others.
package ingest

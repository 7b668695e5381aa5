// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package handlers

import (
	"context"
	"time"

	"github.com/dgfacade/dgfacade/internal/models"
)

// EchoHandler reflects the request back, for connectivity checks and
// end-to-end smoke tests.
type EchoHandler struct{}

// NewEchoHandler returns an echo handler.
func NewEchoHandler() *EchoHandler {
	return &EchoHandler{}
}

// Execute returns the request payload under echo plus the request identity,
// so callers can read back e.g. result.echo.message.
func (h *EchoHandler) Execute(_ context.Context, req *models.Request) (map[string]interface{}, error) {
	echo := req.Payload
	if echo == nil {
		echo = map[string]interface{}{}
	}
	return map[string]interface{}{
		"echo":            echo,
		"echo_request_id": req.RequestID,
		"echoed_at":       time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

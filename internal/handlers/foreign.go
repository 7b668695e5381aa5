// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package handlers

import (
	"context"

	"github.com/dgfacade/dgfacade/internal/models"
)

// ForeignInvoker is the seam for handler classes implemented outside this
// process (catalogue entries flagged is_python). The gateway defines the
// boundary only; wiring an actual worker runtime is the deployment's
// business.
type ForeignInvoker interface {
	// Invoke runs one request against a foreign handler class and returns
	// its result map.
	Invoke(ctx context.Context, handlerClass string, cfg map[string]interface{}, req *models.Request) (map[string]interface{}, error)
}

// foreignHandler bridges one execution to the installed invoker.
type foreignHandler struct {
	invoker ForeignInvoker
	class   string
	cfg     map[string]interface{}
}

func newForeignHandler(inv ForeignInvoker, handlerClass string) *foreignHandler {
	return &foreignHandler{invoker: inv, class: handlerClass}
}

// Construct keeps the catalogue config for the invocation.
func (h *foreignHandler) Construct(cfg map[string]interface{}, _ *models.Request) error {
	h.cfg = cfg
	return nil
}

// Execute delegates to the invoker.
func (h *foreignHandler) Execute(ctx context.Context, req *models.Request) (map[string]interface{}, error) {
	return h.invoker.Invoke(ctx, h.class, h.cfg, req)
}

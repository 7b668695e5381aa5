// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package handlers

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/dgfacade/dgfacade/internal/engine"
	"github.com/dgfacade/dgfacade/internal/models"
)

// MarketDataHandler is the streaming reference handler: it emits a random
// walk of quotes for the requested symbols until the tick budget is spent,
// the stop hook fires, or the execution is cancelled.
//
// Payload keys:
//
//	symbols      []string  default ["DGF"]
//	interval_ms  number    default 1000
//	count        number    ticks per symbol, 0 = until stopped
//
// Catalogue config may set "base_price" (default 100).
type MarketDataHandler struct {
	stop      chan struct{}
	basePrice float64
	emitted   atomic.Int64
}

// NewMarketDataHandler returns a market data handler.
func NewMarketDataHandler() *MarketDataHandler {
	return &MarketDataHandler{stop: make(chan struct{}), basePrice: 100}
}

// Construct reads the catalogue config.
func (h *MarketDataHandler) Construct(cfg map[string]interface{}, _ *models.Request) error {
	if v, ok := toFloat(cfg["base_price"]); ok && v > 0 {
		h.basePrice = v
	}
	return nil
}

// ExecuteStreaming emits quote payloads through the session emitter.
func (h *MarketDataHandler) ExecuteStreaming(ctx context.Context, req *models.Request, emit engine.Emitter) (map[string]interface{}, error) {
	symbols := []string{"DGF"}
	if raw, ok := req.Payload["symbols"].([]interface{}); ok && len(raw) > 0 {
		symbols = symbols[:0]
		for _, s := range raw {
			if name, ok := s.(string); ok && name != "" {
				symbols = append(symbols, name)
			}
		}
	}
	interval := time.Second
	if v, ok := toFloat(req.Payload["interval_ms"]); ok && v > 0 {
		interval = time.Duration(v) * time.Millisecond
	}
	count := 0
	if v, ok := toFloat(req.Payload["count"]); ok && v > 0 {
		count = int(v)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = h.basePrice
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return h.summary(symbols), nil
		case <-h.stop:
			return h.summary(symbols), nil
		case <-ticker.C:
		}

		tick++
		for _, s := range symbols {
			prices[s] *= 1 + (rng.Float64()-0.5)/100
			if err := emit(map[string]interface{}{
				"symbol":    s,
				"price":     prices[s],
				"tick":      tick,
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			}); err != nil {
				return h.summary(symbols), err
			}
			h.emitted.Add(1)
		}
		if count > 0 && tick >= count {
			return h.summary(symbols), nil
		}
	}
}

func (h *MarketDataHandler) summary(symbols []string) map[string]interface{} {
	return map[string]interface{}{
		"symbols":       symbols,
		"quotes_emitted": h.emitted.Load(),
	}
}

// Stop ends the quote stream.
func (h *MarketDataHandler) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// CaptureState reports streaming progress.
func (h *MarketDataHandler) CaptureState() map[string]interface{} {
	return map[string]interface{}{"quotes_emitted": h.emitted.Load()}
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
	"github.com/dgfacade/dgfacade/internal/models"
)

// publishBuffer bounds the hub's pending-frame queue. Publishing beyond it
// drops the frame instead of blocking the session controller.
const publishBuffer = 256

// Frame is the JSON message sent to subscribed clients.
type Frame struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Response  *models.Response `json:"response,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Frame types.
const (
	FrameResponse     = "response"
	FrameSessionEnded = "session_ended"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

type sessionFrame struct {
	sessionID string
	data      []byte
	ended     bool
}

// Hub routes session frames to subscribed WebSocket clients. All client
// membership changes flow through the register/unregister channels and are
// applied by the run loop, so fan-out never races a connect or disconnect.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]*Client

	register   chan *Client
	unregister chan *Client
	publish    chan sessionFrame

	closed chan struct{}
	once   sync.Once
}

// NewHub creates a hub. Run must be started before clients are served.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint64]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan sessionFrame, publishBuffer),
		closed:     make(chan struct{}),
	}
}

// Run processes registrations and fan-out until the context ends, then
// closes every connected client. It is a suture-compatible service body.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		// Membership changes take priority over pending frames so a
		// disconnecting client is never fanned out to.
		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case f := <-h.publish:
			h.fanout(f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PublishToSession encodes the response as a frame and queues it for every
// client subscribed to the session. It reports false when the hub queue is
// full or the hub has shut down.
func (h *Hub) PublishToSession(sessionID string, resp *models.Response) bool {
	data, err := json.Marshal(Frame{Type: FrameResponse, SessionID: sessionID, Response: resp})
	if err != nil {
		logging.Err(err).Str("session_id", sessionID).Msg("websocket frame encode failed")
		return false
	}
	return h.enqueue(sessionFrame{sessionID: sessionID, data: data})
}

// EndSession notifies subscribers that the session terminated and clears
// their subscriptions to it. The final response, if any, rides the frame.
func (h *Hub) EndSession(sessionID string, final *models.Response) bool {
	data, err := json.Marshal(Frame{Type: FrameSessionEnded, SessionID: sessionID, Response: final})
	if err != nil {
		logging.Err(err).Str("session_id", sessionID).Msg("websocket frame encode failed")
		return false
	}
	return h.enqueue(sessionFrame{sessionID: sessionID, data: data, ended: true})
}

func (h *Hub) enqueue(f sessionFrame) bool {
	select {
	case <-h.closed:
		return false
	default:
	}
	select {
	case h.publish <- f:
		return true
	default:
		logging.Warn().Str("session_id", f.sessionID).Msg("websocket hub queue full, frame dropped")
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionSubscribers returns how many clients are subscribed to a session.
func (h *Hub) SessionSubscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.subscribed(sessionID) {
			n++
		}
	}
	return n
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Debug().Uint64("client_id", c.id).Int("clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	if present {
		delete(h.clients, c.id)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}
	c.closeSend()
	metrics.WebSocketClients.Set(float64(total))
	logging.Debug().Uint64("client_id", c.id).Int("clients", total).Msg("websocket client disconnected")
}

// fanout delivers a frame to every subscriber in ascending client-id order.
// A client whose send buffer is full is disconnected on the spot.
func (h *Hub) fanout(f sessionFrame) {
	h.mu.RLock()
	ids := make([]uint64, 0, len(h.clients))
	for id, c := range h.clients {
		if c.subscribed(f.sessionID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	targets := make([]*Client, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, h.clients[id])
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- f.data:
		default:
			logging.Warn().Uint64("client_id", c.id).Str("session_id", f.sessionID).
				Msg("websocket client send buffer full, dropping client")
			h.removeClient(c)
		}
		if f.ended {
			c.unsubscribe(f.sessionID)
		}
	}
}

func (h *Hub) shutdown() {
	h.once.Do(func() { close(h.closed) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[uint64]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
	metrics.WebSocketClients.Set(0)
	logging.Info().Int("clients", len(clients)).Msg("websocket hub stopped")
}

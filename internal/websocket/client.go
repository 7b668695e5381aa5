// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package websocket

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/dgfacade/dgfacade/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	sendBuffer = 256
)

var clientIDCounter atomic.Uint64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// controlMessage is the inbound frame clients send to manage subscriptions.
type controlMessage struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id"`
}

// Client is one WebSocket connection. Subscription state lives on the client
// so the hub's fan-out only needs a read lock per frame.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	sessions map[string]struct{}

	closeOnce sync.Once
}

// ServeWS upgrades the request and registers the connection with the hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		id:       clientIDCounter.Add(1),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		sessions: make(map[string]struct{}),
	}

	// Pre-subscription via query keeps single-session consumers trivial.
	if sid := r.URL.Query().Get("session_id"); sid != "" {
		c.subscribe(sid)
	}

	hub.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) subscribed(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[sessionID]
	return ok
}

func (c *Client) subscribe(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unsubscribe(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ack queues a control acknowledgement without going through the hub.
func (c *Client) ack(frameType, sessionID, errMsg string) {
	data, err := json.Marshal(Frame{Type: frameType, SessionID: sessionID, Error: errMsg})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump consumes subscribe/unsubscribe control frames until the
// connection drops, then unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Uint64("client_id", c.id).Err(err).Msg("websocket read error")
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.ack(FrameError, "", "malformed control message")
			continue
		}
		switch msg.Action {
		case "subscribe":
			if msg.SessionID == "" {
				c.ack(FrameError, "", "session_id required")
				continue
			}
			c.subscribe(msg.SessionID)
			c.ack(FrameSubscribed, msg.SessionID, "")
		case "unsubscribe":
			c.unsubscribe(msg.SessionID)
			c.ack(FrameUnsubscribed, msg.SessionID, "")
		default:
			c.ack(FrameError, msg.SessionID, "unknown action")
		}
	}
}

// writePump drains the send buffer to the socket and keeps the connection
// alive with pings. Closing the send channel ends the pump.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

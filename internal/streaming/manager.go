// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package streaming

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dgfacade/dgfacade/internal/broker"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/engine"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
	"github.com/dgfacade/dgfacade/internal/models"
)

// Sentinel errors.
var (
	ErrSessionEnded    = errors.New("streaming: session ended")
	ErrSessionNotFound = errors.New("streaming: session not found")
	ErrTopicRequired   = errors.New("streaming: broker response channels require a response_topic")
)

const publishTimeout = 5 * time.Second

// fanoutQueueDepth bounds each channel's fan-out queue. A channel that falls
// further behind loses frames rather than delaying the emitter or its
// sibling channels.
const fanoutQueueDepth = 64

// SocketGateway is the WebSocket egress sessions fan out to.
type SocketGateway interface {
	PublishToSession(sessionID string, resp *models.Response) bool
	EndSession(sessionID string, final *models.Response) bool
}

// Canceller stops the execution owning a session.
type Canceller interface {
	Cancel(requestID string) bool
}

// Publishers hands out broker publishers by output channel id. Satisfied by
// *channel.Accessor.
type Publishers interface {
	Publisher(channelID string) (broker.Publisher, *config.ResolvedChannel, error)
}

// Options configures the session manager.
type Options struct {
	// StreamPrefix is the WebSocket destination prefix. Default: /stream
	StreamPrefix string

	// RestBuffer is the per-session REST pull buffer capacity. Default: 256
	RestBuffer int

	// DefaultTTLMinutes bounds sessions whose request and handler config
	// carry no TTL. Default: 30
	DefaultTTLMinutes int
}

// Manager owns every live streaming session: creation with the
// STREAMING_STARTED acknowledgement, sequenced fan-out across the session's
// response channels, TTL expiry, and teardown with STREAMING_ENDED.
type Manager struct {
	opts     Options
	sockets  SocketGateway
	pubs     Publishers
	channels *config.ChannelStore

	mu        sync.Mutex
	sessions  map[string]*session
	canceller Canceller
}

// NewManager creates a session manager. The canceller is attached separately
// because the engine and the manager reference each other at wiring time.
func NewManager(opts Options, sockets SocketGateway, pubs Publishers, channels *config.ChannelStore) *Manager {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = "/stream"
	}
	opts.StreamPrefix = strings.TrimRight(opts.StreamPrefix, "/")
	if opts.RestBuffer <= 0 {
		opts.RestBuffer = 256
	}
	if opts.DefaultTTLMinutes <= 0 {
		opts.DefaultTTLMinutes = 30
	}
	return &Manager{
		opts:     opts,
		sockets:  sockets,
		pubs:     pubs,
		channels: channels,
		sessions: map[string]*session{},
	}
}

// SetCanceller installs the execution canceller used on stop and TTL expiry.
func (m *Manager) SetCanceller(c Canceller) {
	m.mu.Lock()
	m.canceller = c
	m.mu.Unlock()
}

// Destination returns the WebSocket destination of a session.
func (m *Manager) Destination(sessionID string) string {
	return m.opts.StreamPrefix + "/" + sessionID
}

// Start creates a session for a streaming request and returns its emitter.
// The request's channel list defaults to WEBSOCKET; broker channels require
// a response topic.
func (m *Manager) Start(req *models.Request, cfg *models.HandlerConfig) (models.StreamingSession, engine.Emitter, error) {
	channels := req.ResponseChannels
	if len(channels) == 0 {
		channels = []models.ChannelType{models.ChannelWebSocket}
	}
	if req.NeedsResponseTopic() && req.ResponseTopic == "" {
		return models.StreamingSession{}, nil, ErrTopicRequired
	}

	ttl := cfg.EffectiveTTLMinutes()
	if req.TTLMinutes > 0 {
		ttl = req.TTLMinutes
	}
	if ttl <= 0 {
		ttl = m.opts.DefaultTTLMinutes
	}

	now := time.Now().UTC()
	s := &session{
		info: models.StreamingSession{
			SessionID:        uuid.NewString(),
			RequestID:        req.RequestID,
			RequestType:      req.RequestType,
			ResponseChannels: append([]models.ChannelType(nil), channels...),
			ResponseTopic:    req.ResponseTopic,
			TTLMinutes:       ttl,
			Status:           models.SessionActive,
			StartedAt:        now,
			ExpiresAt:        now.Add(time.Duration(ttl) * time.Minute),
			UserID:           req.UserID,
		},
		bufferCap: m.opts.RestBuffer,
		routes:    map[models.ChannelType]string{},
		queues:    map[models.ChannelType]chan outbound{},
	}
	for _, ch := range s.info.ResponseChannels {
		if ch == models.ChannelRest {
			continue
		}
		q := make(chan outbound, fanoutQueueDepth)
		s.queues[ch] = q
		go m.drain(s, ch, q)
	}
	s.timer = time.AfterFunc(time.Duration(ttl)*time.Minute, func() { m.expire(s.info.SessionID) })

	m.mu.Lock()
	m.sessions[s.info.SessionID] = s
	m.mu.Unlock()

	metrics.SessionsActive.Inc()
	logging.Info().
		Str("session_id", s.info.SessionID).
		Str("request_id", req.RequestID).
		Str("request_type", req.RequestType).
		Int("ttl_minutes", ttl).
		Msg("streaming session started")
	return s.info.Snapshot(), m.emitterFor(s), nil
}

// StartedAck builds the STREAMING_STARTED acknowledgement for a session.
func (m *Manager) StartedAck(info models.StreamingSession) *models.Response {
	return &models.Response{
		RequestID: info.RequestID,
		Status:    models.StatusStreamingStarted,
		Timestamp: time.Now().UTC(),
		Message:   "streaming session started",
		SessionID: info.SessionID,
		Result: map[string]interface{}{
			"session_id":         info.SessionID,
			"stream_destination": m.Destination(info.SessionID),
			"ttl_minutes":        info.TTLMinutes,
			"response_channels":  info.ResponseChannels,
		},
	}
}

// emitterFor binds a session to the engine emitter contract. An emit only
// enqueues the response; the channel drains do the delivery. Once the
// session ends, emits fail with ErrSessionEnded so the handler unwinds.
func (m *Manager) emitterFor(s *session) engine.Emitter {
	return func(payload map[string]interface{}) error {
		seq := s.nextSequence()
		if seq == 0 {
			return ErrSessionEnded
		}
		resp := &models.Response{
			RequestID: s.info.RequestID,
			Status:    models.StatusStreamingData,
			Timestamp: time.Now().UTC(),
			Result:    payload,
			SessionID: s.info.SessionID,
			Sequence:  seq,
		}
		m.deliver(s, resp, false)
		return nil
	}
}

// deliver fans one response out across the session's channels. The REST pull
// buffer is fed directly; every other channel gets the response on its own
// bounded queue, so a slow channel never delays its siblings or the handler
// goroutine behind the emitter.
func (m *Manager) deliver(s *session, resp *models.Response, terminal bool) {
	for _, ch := range s.info.ResponseChannels {
		if ch == models.ChannelRest {
			s.push(resp)
			m.countDelivery(ch, true)
			continue
		}
		if !s.enqueue(ch, outbound{resp: resp, terminal: terminal}) {
			metrics.SessionMessages.WithLabelValues(string(ch), "dropped").Inc()
			logging.Warn().
				Str("session_id", s.info.SessionID).
				Str("channel", string(ch)).
				Msg("fan-out queue full, dropping response")
		}
	}
}

// drain delivers one channel's queued responses in order. Channel failures
// are isolated: logged, counted, and skipped. The goroutine exits once the
// terminal notice has been delivered.
func (m *Manager) drain(s *session, ch models.ChannelType, q chan outbound) {
	for item := range q {
		var ok bool
		switch ch {
		case models.ChannelWebSocket:
			if item.terminal {
				ok = m.sockets.EndSession(s.info.SessionID, item.resp)
			} else {
				ok = m.sockets.PublishToSession(s.info.SessionID, item.resp)
			}
		default:
			ok = m.publishBroker(s, ch, item.resp) == nil
		}
		m.countDelivery(ch, ok)
		if item.terminal {
			return
		}
	}
}

func (m *Manager) countDelivery(ch models.ChannelType, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	metrics.SessionMessages.WithLabelValues(string(ch), result).Inc()
}

// routeFor resolves the output channel id for a broker channel type, cached
// per session.
func (m *Manager) routeFor(s *session, ch models.ChannelType) (string, error) {
	s.mu.Lock()
	id, ok := s.routes[ch]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	types := []string{strings.ToLower(string(ch))}
	if ch == models.ChannelKafka {
		types = append(types, broker.TypeConfluentKafka)
	}
	cfg, found := m.channels.FindByType(types...)
	if !found {
		return "", fmt.Errorf("streaming: no enabled output channel of type %s", ch)
	}

	s.mu.Lock()
	s.routes[ch] = cfg.ID
	s.mu.Unlock()
	return cfg.ID, nil
}

func (m *Manager) publishBroker(s *session, ch models.ChannelType, resp *models.Response) error {
	channelID, err := m.routeFor(s, ch)
	if err == nil {
		err = m.publishTo(channelID, s.info.ResponseTopic, resp)
	}
	if err != nil {
		logging.Warn().Err(err).
			Str("session_id", s.info.SessionID).
			Str("channel", string(ch)).
			Str("topic", s.info.ResponseTopic).
			Msg("streaming fan-out delivery failed")
	}
	return err
}

func (m *Manager) publishTo(channelID, topic string, resp *models.Response) error {
	pub, _, err := m.pubs.Publisher(channelID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	env := models.NewEnvelope(topic, string(data)).
		WithHeader("session_id", resp.SessionID).
		WithHeader("request_id", resp.RequestID).
		WithHeader("status", string(resp.Status))

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return pub.Publish(ctx, topic, env)
}

// Complete ends a session whose execution finished on its own. The terminal
// reason follows the final response status.
func (m *Manager) Complete(sessionID string, final *models.Response) {
	reason := models.EndReasonCompleted
	if final != nil {
		switch final.Status {
		case models.StatusError:
			reason = models.EndReasonFailed
		case models.StatusTimeout:
			reason = models.EndReasonExpired
		}
	}
	m.end(sessionID, reason, final)
}

// Stop cancels a session's execution and tears the session down. Returns
// false when the session id is unknown.
func (m *Manager) Stop(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	canceller := m.canceller
	m.mu.Unlock()
	if !ok {
		return false
	}
	if canceller != nil {
		canceller.Cancel(s.info.RequestID)
	}
	m.end(sessionID, models.EndReasonStopped, nil)
	return true
}

// expire fires on the session TTL timer.
func (m *Manager) expire(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	canceller := m.canceller
	m.mu.Unlock()
	if !ok || s.isEnded() {
		return
	}
	logging.Warn().Str("session_id", sessionID).Msg("streaming session TTL expired")
	if canceller != nil {
		canceller.Cancel(s.info.RequestID)
	}
	m.end(sessionID, models.EndReasonExpired, nil)
}

// endedRetention keeps an ended session visible so REST pollers can drain
// the terminal notice before the registry forgets it.
const endedRetention = time.Minute

// end performs session teardown exactly once: channel notification, metrics,
// and delayed registry removal.
func (m *Manager) end(sessionID string, reason models.SessionEndReason, final *models.Response) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok || !s.markEnded() {
		return
	}
	time.AfterFunc(endedRetention, func() {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
	})

	notice := &models.Response{
		RequestID: s.info.RequestID,
		Status:    models.StatusStreamingEnded,
		Timestamp: time.Now().UTC(),
		Message:   "streaming session ended",
		SessionID: sessionID,
		Result: map[string]interface{}{
			"end_reason":         string(reason),
			"messages_published": s.info.MessagesPublished,
		},
	}
	if final != nil {
		notice.Result["final_status"] = string(final.Status)
		if final.Result != nil {
			notice.Result["summary"] = final.Result
		}
	}
	m.deliver(s, notice, true)

	metrics.SessionsActive.Dec()
	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	logging.Info().
		Str("session_id", sessionID).
		Str("reason", string(reason)).
		Uint64("messages_published", s.info.MessagesPublished).
		Msg("streaming session ended")
}

// Get returns a session snapshot.
func (m *Manager) Get(sessionID string) (models.StreamingSession, bool) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return models.StreamingSession{}, false
	}
	return s.snapshot(), true
}

// Sessions returns snapshots of every live session, oldest first.
func (m *Manager) Sessions() []models.StreamingSession {
	m.mu.Lock()
	out := make([]models.StreamingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Pull drains up to max responses from a session's REST buffer.
func (m *Manager) Pull(sessionID string, max int) ([]*models.Response, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.pull(max), nil
}

// Shutdown cancels every live session's execution and ends the sessions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	requests := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		ids = append(ids, id)
		requests = append(requests, s.info.RequestID)
	}
	canceller := m.canceller
	m.mu.Unlock()

	for i, id := range ids {
		if canceller != nil {
			canceller.Cancel(requests[i])
		}
		m.end(id, models.EndReasonShutdown, nil)
	}
}

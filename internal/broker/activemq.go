// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// ActiveMQ adapters speak STOMP. Channel type "jms" is normalized to
// "activemq" upstream, so both registry spellings land here.

// stompAddr builds the broker address.
func stompAddr(cfg map[string]interface{}) string {
	host := cfgString(cfg, "host", "localhost")
	port := cfgInt(cfg, "port", 61613)
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}

// stompDestination applies the destination prefix ("/queue/" by default).
func stompDestination(cfg map[string]interface{}, topic string) string {
	prefix := cfgString(cfg, "destination_prefix", "/queue/")
	if strings.HasPrefix(topic, "/") {
		return topic
	}
	return prefix + topic
}

// stompDial connects, optionally over TLS, with login and heartbeats.
func stompDial(cfg map[string]interface{}) (*stomp.Conn, error) {
	addr := stompAddr(cfg)
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(30*time.Second, 30*time.Second),
	}
	if user := cfgString(cfg, "username", ""); user != "" {
		opts = append(opts, stomp.ConnOpt.Login(user, cfgString(cfg, "password", "")))
	}

	tlsCfg, err := TLSFromConfig(cfgMap(cfg, "ssl"))
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		netConn, err := tls.Dial("tcp", addr, tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("activemq: tls dial %s: %w", addr, err)
		}
		conn, err := stomp.Connect(netConn, opts...)
		if err != nil {
			_ = netConn.Close()
			return nil, fmt.Errorf("activemq: stomp connect: %w", err)
		}
		return conn, nil
	}

	conn, err := stomp.Dial("tcp", addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("activemq: dial %s: %w", addr, err)
	}
	return conn, nil
}

// stompEnvelope converts a STOMP message into the canonical envelope.
func stompEnvelope(destination string, m *stomp.Message) *models.MessageEnvelope {
	env := &models.MessageEnvelope{
		Topic:     destination,
		Payload:   string(m.Body),
		Headers:   map[string]string{},
		Timestamp: time.Now().UTC(),
	}
	if m.Header != nil {
		for i := 0; i < m.Header.Len(); i++ {
			k, v := m.Header.GetAt(i)
			switch k {
			case "message_id":
				env.MessageID = v
			case "destination", "subscription", "content-length", "content-type", "ack":
				// transport headers, not payload metadata
			default:
				env.Headers[k] = v
			}
		}
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	return env
}

// ActiveMQPublisher publishes envelopes over STOMP SEND frames.
type ActiveMQPublisher struct {
	publisherBase

	cfg map[string]interface{}

	mu   sync.Mutex
	conn *stomp.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

// NewActiveMQPublisher returns an uninitialized ActiveMQ publisher.
func NewActiveMQPublisher() *ActiveMQPublisher {
	return &ActiveMQPublisher{}
}

// Initialize connects to the broker.
func (p *ActiveMQPublisher) Initialize(cfg map[string]interface{}) error {
	p.initPublisher(TypeActiveMQ, cfg)
	p.cfg = cfg
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p.connectOnce(p.dial)
}

func (p *ActiveMQPublisher) dial() error {
	conn, err := stompDial(p.cfg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

// Publish sends one envelope to the prefixed destination.
func (p *ActiveMQPublisher) Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	opts := []func(*frame.Frame) error{
		stomp.SendOpt.Header("message_id", env.MessageID),
		stomp.SendOpt.Header("persistent", "true"),
	}
	for k, v := range env.Headers {
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}

	err := conn.Send(stompDestination(p.cfg, topic), "application/json", []byte(env.Payload), opts...)
	p.countPublish(err)
	if err != nil {
		if p.State() == StateConnected {
			go p.reconnectLoop(p.ctx, p.dial, nil)
		}
		return fmt.Errorf("activemq: publish to %s: %w", topic, err)
	}
	return nil
}

// PublishBatch sends the batch sequentially; STOMP has no batch frame.
func (p *ActiveMQPublisher) PublishBatch(ctx context.Context, topic string, envs []*models.MessageEnvelope) error {
	for _, env := range envs {
		if err := p.Publish(ctx, topic, env); err != nil {
			return err
		}
	}
	p.batches.Add(1)
	return nil
}

// AddTopic is a no-op: ActiveMQ creates destinations on first use.
func (p *ActiveMQPublisher) AddTopic(string) error { return nil }

// Flush is a no-op: sends are synchronous.
func (p *ActiveMQPublisher) Flush(context.Context) error { return nil }

// Close disconnects from the broker.
func (p *ActiveMQPublisher) Close() error {
	if p.closed.Load() {
		return nil
	}
	p.markClosed()
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn.Disconnect()
	}
	return nil
}

// ActiveMQSubscriber consumes via STOMP subscriptions with client-individual
// acks, acknowledging only after the envelope is queued internally.
type ActiveMQSubscriber struct {
	subscriberBase

	cfg map[string]interface{}

	mu       sync.Mutex
	conn     *stomp.Conn
	epoch    context.Context
	endEpoch context.CancelFunc
	lost     chan struct{}
	lostOnce *sync.Once
}

// NewActiveMQSubscriber returns an uninitialized ActiveMQ subscriber.
func NewActiveMQSubscriber() *ActiveMQSubscriber {
	return &ActiveMQSubscriber{}
}

// Initialize connects to the broker.
func (s *ActiveMQSubscriber) Initialize(cfg map[string]interface{}) error {
	s.initSubscriber(TypeActiveMQ, cfg)
	s.cfg = cfg
	return s.connectOnce(s.dial)
}

func (s *ActiveMQSubscriber) dial() error {
	conn, err := stompDial(s.cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Subscribe registers a listener; when Serve is live the STOMP subscription
// starts on the current connection immediately.
func (s *ActiveMQSubscriber) Subscribe(destination string, l Listener) error {
	s.addListener(destination, l)
	s.mu.Lock()
	live := s.epoch != nil && s.conn != nil
	s.mu.Unlock()
	if live {
		return s.startSubscription(destination)
	}
	return nil
}

// Unsubscribe removes a destination's listener; the STOMP subscription ends
// on the next reconnect.
func (s *ActiveMQSubscriber) Unsubscribe(destination string) error {
	s.removeListener(destination)
	return nil
}

// startSubscription opens the STOMP subscription and runs its receive loop
// for the current connection epoch.
func (s *ActiveMQSubscriber) startSubscription(destination string) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.epoch
	lost := s.lost
	lostOnce := s.lostOnce
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	sub, err := conn.Subscribe(stompDestination(s.cfg, destination), stomp.AckClientIndividual)
	if err != nil {
		return fmt.Errorf("activemq: subscribe %s: %w", destination, err)
	}

	go func() {
		defer func() { _ = sub.Unsubscribe() }()
		for {
			if !s.waitCapacity(ctx) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case m, ok := <-sub.C:
				if !ok || m == nil || m.Err != nil {
					if m != nil && m.Err != nil {
						logging.Warn().Err(m.Err).Str("destination", destination).Msg("activemq subscription error")
					}
					lostOnce.Do(func() { close(lost) })
					return
				}
				if !s.enqueue(ctx, destination, stompEnvelope(destination, m)) {
					return
				}
				if err := conn.Ack(m); err != nil {
					logging.Warn().Err(err).Str("destination", destination).Msg("activemq ack failed")
				}
			}
		}
	}()
	return nil
}

// Serve runs the dispatch loop and supervises the connection, reconnecting
// and re-subscribing after any receive-loop failure.
func (s *ActiveMQSubscriber) Serve(ctx context.Context) error {
	go s.dispatchLoop(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		epoch, cancel := context.WithCancel(ctx)
		lost := make(chan struct{})
		s.mu.Lock()
		s.epoch = epoch
		s.endEpoch = cancel
		s.lost = lost
		s.lostOnce = &sync.Once{}
		connected := s.conn != nil
		s.mu.Unlock()

		if !connected {
			s.reconnectLoop(ctx, s.dial, nil)
			cancel()
			continue
		}

		for _, dest := range s.Subscriptions() {
			if err := s.startSubscription(dest); err != nil {
				logging.Error().Err(err).Str("destination", dest).Msg("activemq subscribe failed")
			}
		}

		select {
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		case <-lost:
			cancel()
			s.mu.Lock()
			if s.conn != nil {
				_ = s.conn.Disconnect()
				s.conn = nil
			}
			s.mu.Unlock()
			s.reconnectLoop(ctx, s.dial, nil)
		}
	}
}

// Close disconnects from the broker.
func (s *ActiveMQSubscriber) Close() error {
	if s.closed.Load() {
		return nil
	}
	s.markClosed()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endEpoch != nil {
		s.endEpoch()
	}
	if s.conn != nil {
		return s.conn.Disconnect()
	}
	return nil
}

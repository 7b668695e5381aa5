// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// IBM MQ adapters attach over AMQP 1.0, which MQ serves natively since 9.1.
// This keeps the adapter pure Go; the cgo MQI client is deliberately avoided.

// ibmmqAddr builds the AMQP endpoint address.
func ibmmqAddr(cfg map[string]interface{}) string {
	if u := cfgString(cfg, "url", ""); u != "" {
		return u
	}
	scheme := "amqp"
	if ssl := cfgMap(cfg, "ssl"); ssl != nil && cfgBool(ssl, "enabled", false) {
		scheme = "amqps"
	}
	host := cfgString(cfg, "host", "localhost")
	port := cfgInt(cfg, "port", 5672)
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// ibmmqConnOptions builds dial options: SASL plain when credentials are set,
// TLS when the ssl block enables it.
func ibmmqConnOptions(cfg map[string]interface{}) (*amqp.ConnOptions, error) {
	opts := &amqp.ConnOptions{}
	if user := cfgString(cfg, "username", ""); user != "" {
		opts.SASLType = amqp.SASLTypePlain(user, cfgString(cfg, "password", ""))
	}
	tlsCfg, err := TLSFromConfig(cfgMap(cfg, "ssl"))
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = tlsCfg
	return opts, nil
}

// ibmmqEnvelope converts an AMQP 1.0 message into the canonical envelope.
func ibmmqEnvelope(destination string, m *amqp.Message) *models.MessageEnvelope {
	env := &models.MessageEnvelope{
		Topic:     destination,
		Payload:   string(m.GetData()),
		Headers:   map[string]string{},
		Timestamp: time.Now().UTC(),
	}
	if m.Properties != nil && m.Properties.MessageID != nil {
		env.MessageID = fmt.Sprintf("%v", m.Properties.MessageID)
	}
	for k, v := range m.ApplicationProperties {
		if s, ok := v.(string); ok {
			env.Headers[k] = s
		}
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	return env
}

// ibmmqMessage converts an envelope into an AMQP 1.0 message.
func ibmmqMessage(env *models.MessageEnvelope) *amqp.Message {
	m := amqp.NewMessage([]byte(env.Payload))
	m.Properties = &amqp.MessageProperties{MessageID: env.MessageID}
	if len(env.Headers) > 0 {
		m.ApplicationProperties = map[string]interface{}{}
		for k, v := range env.Headers {
			m.ApplicationProperties[k] = v
		}
	}
	return m
}

// IBMMQPublisher publishes envelopes through per-destination AMQP senders.
type IBMMQPublisher struct {
	publisherBase

	cfg map[string]interface{}

	mu      sync.Mutex
	conn    *amqp.Conn
	session *amqp.Session
	senders map[string]*amqp.Sender

	ctx    context.Context
	cancel context.CancelFunc
}

// NewIBMMQPublisher returns an uninitialized IBM MQ publisher.
func NewIBMMQPublisher() *IBMMQPublisher {
	return &IBMMQPublisher{senders: map[string]*amqp.Sender{}}
}

// Initialize dials the queue manager and opens a session.
func (p *IBMMQPublisher) Initialize(cfg map[string]interface{}) error {
	p.initPublisher(TypeIBMMQ, cfg)
	p.cfg = cfg
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p.connectOnce(p.dial)
}

func (p *IBMMQPublisher) dial() error {
	opts, err := ibmmqConnOptions(p.cfg)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(p.ctx, 15*time.Second)
	defer cancel()

	conn, err := amqp.Dial(dialCtx, ibmmqAddr(p.cfg), opts)
	if err != nil {
		return fmt.Errorf("ibmmq: dial: %w", err)
	}
	session, err := conn.NewSession(dialCtx, nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ibmmq: open session: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.session = session
	p.senders = map[string]*amqp.Sender{}
	p.mu.Unlock()
	return nil
}

// sender returns the cached sender for a destination, creating it on demand.
func (p *IBMMQPublisher) sender(ctx context.Context, destination string) (*amqp.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.senders[destination]; ok {
		return s, nil
	}
	if p.session == nil {
		return nil, ErrNotConnected
	}
	s, err := p.session.NewSender(ctx, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("ibmmq: open sender %s: %w", destination, err)
	}
	p.senders[destination] = s
	return s, nil
}

// AddTopic pre-opens the sender link for a destination.
func (p *IBMMQPublisher) AddTopic(topic string) error {
	ctx, cancel := context.WithTimeout(p.ctx, 15*time.Second)
	defer cancel()
	_, err := p.sender(ctx, topic)
	return err
}

// Publish delivers one envelope to the destination queue.
func (p *IBMMQPublisher) Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}

	s, err := p.sender(ctx, topic)
	if err != nil {
		p.countPublish(err)
		return err
	}
	err = s.Send(ctx, ibmmqMessage(env), nil)
	p.countPublish(err)
	if err != nil {
		if p.State() == StateConnected {
			go p.reconnectLoop(p.ctx, p.dial, nil)
		}
		return fmt.Errorf("ibmmq: publish to %s: %w", topic, err)
	}
	return nil
}

// PublishBatch delivers the batch sequentially over the destination link.
func (p *IBMMQPublisher) PublishBatch(ctx context.Context, topic string, envs []*models.MessageEnvelope) error {
	for _, env := range envs {
		if err := p.Publish(ctx, topic, env); err != nil {
			return err
		}
	}
	p.batches.Add(1)
	return nil
}

// Flush is a no-op: sends settle synchronously.
func (p *IBMMQPublisher) Flush(context.Context) error { return nil }

// Close releases links, session, and connection.
func (p *IBMMQPublisher) Close() error {
	if p.closed.Load() {
		return nil
	}
	p.markClosed()
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// IBMMQSubscriber consumes destinations through AMQP receiver links. Link
// credit equals the backpressure depth, so unaccepted messages hold the
// broker back once the internal queue saturates.
type IBMMQSubscriber struct {
	subscriberBase

	cfg map[string]interface{}

	mu       sync.Mutex
	conn     *amqp.Conn
	session  *amqp.Session
	epoch    context.Context
	endEpoch context.CancelFunc
	lost     chan struct{}
	lostOnce *sync.Once
}

// NewIBMMQSubscriber returns an uninitialized IBM MQ subscriber.
func NewIBMMQSubscriber() *IBMMQSubscriber {
	return &IBMMQSubscriber{}
}

// Initialize dials the queue manager and opens a session.
func (s *IBMMQSubscriber) Initialize(cfg map[string]interface{}) error {
	s.initSubscriber(TypeIBMMQ, cfg)
	s.cfg = cfg
	return s.connectOnce(s.dial)
}

func (s *IBMMQSubscriber) dial() error {
	opts, err := ibmmqConnOptions(s.cfg)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := amqp.Dial(dialCtx, ibmmqAddr(s.cfg), opts)
	if err != nil {
		return fmt.Errorf("ibmmq: dial: %w", err)
	}
	session, err := conn.NewSession(dialCtx, nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ibmmq: open session: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.session = session
	s.mu.Unlock()
	return nil
}

// Subscribe registers a listener; when Serve is live the receiver link opens
// on the current connection immediately.
func (s *IBMMQSubscriber) Subscribe(destination string, l Listener) error {
	s.addListener(destination, l)
	s.mu.Lock()
	live := s.epoch != nil && s.session != nil
	s.mu.Unlock()
	if live {
		return s.startReceiver(destination)
	}
	return nil
}

// Unsubscribe removes a destination's listener; the receiver link closes on
// the next reconnect.
func (s *IBMMQSubscriber) Unsubscribe(destination string) error {
	s.removeListener(destination)
	return nil
}

// startReceiver opens the link and runs its receive loop for the current
// connection epoch.
func (s *IBMMQSubscriber) startReceiver(destination string) error {
	s.mu.Lock()
	session := s.session
	ctx := s.epoch
	lost := s.lost
	lostOnce := s.lostOnce
	s.mu.Unlock()
	if session == nil {
		return ErrNotConnected
	}

	credit := int32(s.maxDepth)
	if credit > 1000 {
		credit = 1000
	}
	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	receiver, err := session.NewReceiver(openCtx, destination, &amqp.ReceiverOptions{Credit: credit})
	cancel()
	if err != nil {
		return fmt.Errorf("ibmmq: open receiver %s: %w", destination, err)
	}

	go func() {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = receiver.Close(closeCtx)
			cancel()
		}()
		for {
			if !s.waitCapacity(ctx) {
				return
			}
			m, err := receiver.Receive(ctx, nil)
			if err != nil {
				if ctx.Err() == nil {
					logging.Warn().Err(err).Str("destination", destination).Msg("ibmmq receive failed")
					lostOnce.Do(func() { close(lost) })
				}
				return
			}
			if !s.enqueue(ctx, destination, ibmmqEnvelope(destination, m)) {
				return
			}
			if err := receiver.AcceptMessage(ctx, m); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Str("destination", destination).Msg("ibmmq accept failed")
			}
		}
	}()
	return nil
}

// Serve runs the dispatch loop and supervises the connection, reconnecting
// and re-opening every registered receiver link after a failure.
func (s *IBMMQSubscriber) Serve(ctx context.Context) error {
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
		connected := s.session != nil
		s.mu.Unlock()

		if !connected {
			s.reconnectLoop(ctx, s.dial, nil)
			cancel()
			continue
		}

		for _, dest := range s.Subscriptions() {
			if err := s.startReceiver(dest); err != nil {
				logging.Error().Err(err).Str("destination", dest).Msg("ibmmq receiver failed")
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
				_ = s.conn.Close()
				s.conn = nil
				s.session = nil
			}
			s.mu.Unlock()
			s.reconnectLoop(ctx, s.dial, nil)
		}
	}
}

// Close releases the session and connection.
func (s *IBMMQSubscriber) Close() error {
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
		return s.conn.Close()
	}
	return nil
}

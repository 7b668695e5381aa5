// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/google/uuid"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// rabbitURL builds the dial URL. An explicit "url" wins; otherwise the URL is
// assembled from host/port/username/password/vhost.
func rabbitURL(cfg map[string]interface{}) string {
	if u := cfgString(cfg, "url", ""); u != "" {
		return u
	}
	host := cfgString(cfg, "host", "localhost")
	port := cfgInt(cfg, "port", 5672)
	user := cfgString(cfg, "username", "guest")
	pass := cfgString(cfg, "password", "guest")
	vhost := cfgString(cfg, "vhost", "/")
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", user, pass, host, port, vhost)
}

// rabbitPublishing converts an envelope into an AMQP publishing.
func rabbitPublishing(env *models.MessageEnvelope) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range env.Headers {
		headers[k] = v
	}
	return amqp.Publishing{
		MessageId:    env.MessageID,
		Timestamp:    env.Timestamp,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         []byte(env.Payload),
	}
}

// rabbitEnvelope converts a delivery into the canonical envelope.
func rabbitEnvelope(destination string, d *amqp.Delivery) *models.MessageEnvelope {
	env := &models.MessageEnvelope{
		MessageID: d.MessageId,
		Topic:     destination,
		Payload:   string(d.Body),
		Headers:   map[string]string{},
		Timestamp: d.Timestamp,
	}
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			env.Headers[k] = s
		}
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	return env
}

// RabbitMQPublisher publishes to durable queues via the default exchange.
type RabbitMQPublisher struct {
	publisherBase

	url      string
	exchange string

	mu       sync.Mutex
	amqpConn *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRabbitMQPublisher returns an uninitialized RabbitMQ publisher.
func NewRabbitMQPublisher() *RabbitMQPublisher {
	return &RabbitMQPublisher{declared: map[string]bool{}}
}

// Initialize dials the broker and opens the publish channel.
func (p *RabbitMQPublisher) Initialize(cfg map[string]interface{}) error {
	p.initPublisher(TypeRabbitMQ, cfg)
	p.url = rabbitURL(cfg)
	p.exchange = cfgString(cfg, "exchange", "")
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p.connectOnce(p.dial)
}

func (p *RabbitMQPublisher) dial() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	p.mu.Lock()
	p.amqpConn = conn
	p.ch = ch
	p.declared = map[string]bool{}
	p.mu.Unlock()
	return nil
}

// AddTopic declares the durable queue backing a destination.
func (p *RabbitMQPublisher) AddTopic(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrNotConnected
	}
	return p.declare(topic)
}

// declare is called with p.mu held.
func (p *RabbitMQPublisher) declare(topic string) error {
	if p.declared[topic] {
		return nil
	}
	if _, err := p.ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", topic, err)
	}
	p.declared[topic] = true
	return nil
}

// Publish delivers one envelope to the queue named by topic.
func (p *RabbitMQPublisher) Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}

	p.mu.Lock()
	ch := p.ch
	err := p.declare(topic)
	p.mu.Unlock()
	if err != nil {
		p.countPublish(err)
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, topic, false, false, rabbitPublishing(env))
	p.countPublish(err)
	if err != nil {
		p.recoverIfDown()
		return fmt.Errorf("rabbitmq: publish to %s: %w", topic, err)
	}
	return nil
}

// PublishBatch delivers a batch sequentially; AMQP has no batch primitive.
func (p *RabbitMQPublisher) PublishBatch(ctx context.Context, topic string, envs []*models.MessageEnvelope) error {
	for _, env := range envs {
		if err := p.Publish(ctx, topic, env); err != nil {
			return err
		}
	}
	p.batches.Add(1)
	return nil
}

// recoverIfDown starts a background reconnect when the connection dropped.
func (p *RabbitMQPublisher) recoverIfDown() {
	p.mu.Lock()
	down := p.amqpConn == nil || p.amqpConn.IsClosed()
	p.mu.Unlock()
	if down && p.State() == StateConnected {
		go p.reconnectLoop(p.ctx, p.dial, nil)
	}
}

// Flush is a no-op: publishes are synchronous.
func (p *RabbitMQPublisher) Flush(context.Context) error { return nil }

// Close releases the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	if p.closed.Load() {
		return nil
	}
	p.markClosed()
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.amqpConn != nil {
		return p.amqpConn.Close()
	}
	return nil
}

// RabbitMQSubscriber consumes durable queues with manual acks. The channel
// prefetch equals the backpressure depth, so a saturated internal queue stops
// the broker from sending more.
type RabbitMQSubscriber struct {
	subscriberBase

	url string

	mu               sync.Mutex
	amqpConn         *amqp.Connection
	ch               *amqp.Channel
	consume          context.CancelFunc
	consumeCtxLocked context.Context
}

// NewRabbitMQSubscriber returns an uninitialized RabbitMQ subscriber.
func NewRabbitMQSubscriber() *RabbitMQSubscriber {
	return &RabbitMQSubscriber{}
}

// Initialize dials the broker and opens the consume channel.
func (s *RabbitMQSubscriber) Initialize(cfg map[string]interface{}) error {
	s.initSubscriber(TypeRabbitMQ, cfg)
	s.url = rabbitURL(cfg)
	return s.connectOnce(s.dial)
}

func (s *RabbitMQSubscriber) dial() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	prefetch := s.maxDepth
	if prefetch > 1000 {
		prefetch = 1000
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: set qos: %w", err)
	}

	s.mu.Lock()
	s.amqpConn = conn
	s.ch = ch
	s.mu.Unlock()
	return nil
}

// Subscribe registers a listener; the consume starts when Serve wires the
// connection (or immediately after the next reconnect).
func (s *RabbitMQSubscriber) Subscribe(destination string, l Listener) error {
	s.addListener(destination, l)
	s.mu.Lock()
	ch := s.ch
	running := s.consume != nil
	s.mu.Unlock()
	if ch != nil && running {
		// Serve is live: attach the new destination to the current connection.
		return s.startConsume(destination)
	}
	return nil
}

// Unsubscribe removes a destination's listener. The server-side consumer is
// torn down on the next reconnect; deliveries in between are skipped by the
// dispatch loop.
func (s *RabbitMQSubscriber) Unsubscribe(destination string) error {
	s.removeListener(destination)
	return nil
}

// startConsume declares the queue and runs a delivery loop for destination
// until the current connection's consume context ends.
func (s *RabbitMQSubscriber) startConsume(destination string) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	if _, err := ch.QueueDeclare(destination, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", destination, err)
	}
	deliveries, err := ch.Consume(destination, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", destination, err)
	}

	ctx := s.consumeCtx()
	go func() {
		for {
			if !s.waitCapacity(ctx) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if !s.enqueue(ctx, destination, rabbitEnvelope(destination, &d)) {
					return
				}
				if err := d.Ack(false); err != nil {
					logging.Warn().Err(err).Str("destination", destination).Msg("rabbitmq ack failed")
				}
			}
		}
	}()
	return nil
}

// consumeCtx returns the context bound to the current connection.
func (s *RabbitMQSubscriber) consumeCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeCtxLocked
}

// Serve runs the dispatch loop and supervises the connection: on a broker
// close notification it tears down the consumes, reconnects with backoff, and
// re-establishes every registered subscription.
func (s *RabbitMQSubscriber) Serve(ctx context.Context) error {
	go s.dispatchLoop(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.mu.Lock()
		conn := s.amqpConn
		consumeCtx, cancel := context.WithCancel(ctx)
		s.consumeCtxLocked = consumeCtx
		s.consume = cancel
		s.mu.Unlock()

		if conn == nil {
			s.reconnectLoop(ctx, s.dial, nil)
			cancel()
			continue
		}

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
		for _, dest := range s.Subscriptions() {
			if err := s.startConsume(dest); err != nil {
				logging.Error().Err(err).Str("destination", dest).Msg("rabbitmq consume failed")
			}
		}

		select {
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		case amqpErr := <-closeCh:
			cancel()
			if amqpErr != nil {
				logging.Warn().Str("reason", amqpErr.Reason).Msg("rabbitmq connection closed")
			}
			s.mu.Lock()
			s.amqpConn = nil
			s.ch = nil
			s.mu.Unlock()
			s.reconnectLoop(ctx, s.dial, nil)
		}
	}
}

// Close releases the channel and connection.
func (s *RabbitMQSubscriber) Close() error {
	if s.closed.Load() {
		return nil
	}
	s.markClosed()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consume != nil {
		s.consume()
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.amqpConn != nil {
		return s.amqpConn.Close()
	}
	return nil
}

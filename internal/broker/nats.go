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

	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	nc "github.com/nats-io/nats.go"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// NATS adapters ride on watermill's NATS transport. Reconnection is the NATS
// client's own business (infinite retries with wait), so the shared
// reconnectLoop is not involved here.

// natsURL builds the server URL.
func natsURL(cfg map[string]interface{}) string {
	if u := cfgString(cfg, "url", ""); u != "" {
		return u
	}
	host := cfgString(cfg, "host", "localhost")
	port := cfgInt(cfg, "port", 4222)
	return fmt.Sprintf("nats://%s:%d", host, port)
}

// natsOptions builds client options: credentials plus persistent reconnects.
func natsOptions(cfg map[string]interface{}) []nc.Option {
	opts := []nc.Option{
		nc.RetryOnFailedConnect(true),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(cfgSeconds(cfg, "reconnect_interval_seconds", 5*time.Second)),
	}
	if user := cfgString(cfg, "username", ""); user != "" {
		opts = append(opts, nc.UserInfo(user, cfgString(cfg, "password", "")))
	}
	if token := cfgString(cfg, "token", ""); token != "" {
		opts = append(opts, nc.Token(token))
	}
	return opts
}

// natsMessage converts an envelope into a watermill message.
func natsMessage(env *models.MessageEnvelope) *message.Message {
	m := message.NewMessage(env.MessageID, []byte(env.Payload))
	for k, v := range env.Headers {
		m.Metadata.Set(k, v)
	}
	return m
}

// natsEnvelope converts a watermill message into the canonical envelope.
func natsEnvelope(destination string, m *message.Message) *models.MessageEnvelope {
	env := &models.MessageEnvelope{
		MessageID: m.UUID,
		Topic:     destination,
		Payload:   string(m.Payload),
		Headers:   map[string]string{},
		Timestamp: time.Now().UTC(),
	}
	for k, v := range m.Metadata {
		env.Headers[k] = v
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	return env
}

// NATSPublisher publishes envelopes through a watermill NATS publisher.
type NATSPublisher struct {
	publisherBase

	mu  sync.Mutex
	pub *wmnats.Publisher
}

// NewNATSPublisher returns an uninitialized NATS publisher.
func NewNATSPublisher() *NATSPublisher {
	return &NATSPublisher{}
}

// Initialize connects the watermill publisher.
func (p *NATSPublisher) Initialize(cfg map[string]interface{}) error {
	p.initPublisher(TypeNATS, cfg)
	return p.connectOnce(func() error {
		pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
			URL:         natsURL(cfg),
			NatsOptions: natsOptions(cfg),
			Marshaler:   &wmnats.NATSMarshaler{},
			JetStream:   wmnats.JetStreamConfig{Disabled: true},
		}, newWMLogger())
		if err != nil {
			return fmt.Errorf("nats: create publisher: %w", err)
		}
		p.mu.Lock()
		p.pub = pub
		p.mu.Unlock()
		return nil
	})
}

// Publish delivers one envelope to a subject.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error {
	return p.PublishBatch(ctx, topic, []*models.MessageEnvelope{env})
}

// PublishBatch delivers a batch to a subject.
func (p *NATSPublisher) PublishBatch(_ context.Context, topic string, envs []*models.MessageEnvelope) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}
	p.mu.Lock()
	pub := p.pub
	p.mu.Unlock()

	msgs := make([]*message.Message, 0, len(envs))
	for _, env := range envs {
		msgs = append(msgs, natsMessage(env))
	}
	err := pub.Publish(topic, msgs...)
	for range envs {
		p.countPublish(err)
	}
	if err != nil {
		return fmt.Errorf("nats: publish to %s: %w", topic, err)
	}
	p.batches.Add(1)
	return nil
}

// AddTopic is a no-op: NATS subjects need no declaration.
func (p *NATSPublisher) AddTopic(string) error { return nil }

// Flush is a no-op: publishes are synchronous.
func (p *NATSPublisher) Flush(context.Context) error { return nil }

// Close releases the publisher.
func (p *NATSPublisher) Close() error {
	if p.closed.Load() {
		return nil
	}
	p.markClosed()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pub != nil {
		return p.pub.Close()
	}
	return nil
}

// NATSSubscriber consumes subjects through a watermill NATS subscriber.
// Backpressure holds acks and reads: an unread subscription channel makes
// watermill stop delivering.
type NATSSubscriber struct {
	subscriberBase

	queueGroup string

	mu    sync.Mutex
	sub   *wmnats.Subscriber
	epoch context.Context
}

// NewNATSSubscriber returns an uninitialized NATS subscriber.
func NewNATSSubscriber() *NATSSubscriber {
	return &NATSSubscriber{}
}

// Initialize connects the watermill subscriber.
func (s *NATSSubscriber) Initialize(cfg map[string]interface{}) error {
	s.initSubscriber(TypeNATS, cfg)
	s.queueGroup = cfgString(cfg, "queue_group", "dgfacade")
	return s.connectOnce(func() error {
		sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
			URL:              natsURL(cfg),
			NatsOptions:      natsOptions(cfg),
			Unmarshaler:      &wmnats.NATSMarshaler{},
			QueueGroupPrefix: s.queueGroup,
			JetStream:        wmnats.JetStreamConfig{Disabled: true},
		}, newWMLogger())
		if err != nil {
			return fmt.Errorf("nats: create subscriber: %w", err)
		}
		s.mu.Lock()
		s.sub = sub
		s.mu.Unlock()
		return nil
	})
}

// Subscribe registers a listener; when Serve is live the subject subscription
// starts immediately.
func (s *NATSSubscriber) Subscribe(destination string, l Listener) error {
	s.addListener(destination, l)
	s.mu.Lock()
	live := s.epoch != nil
	s.mu.Unlock()
	if live {
		return s.startSubject(destination)
	}
	return nil
}

// Unsubscribe removes a destination's listener; the watermill subscription
// keeps running and its deliveries are skipped by the dispatch loop.
func (s *NATSSubscriber) Unsubscribe(destination string) error {
	s.removeListener(destination)
	return nil
}

// startSubject opens the watermill subscription and pumps it into the shared
// queue.
func (s *NATSSubscriber) startSubject(destination string) error {
	s.mu.Lock()
	sub := s.sub
	ctx := s.epoch
	s.mu.Unlock()
	if sub == nil {
		return ErrNotConnected
	}

	msgs, err := sub.Subscribe(ctx, destination)
	if err != nil {
		return fmt.Errorf("nats: subscribe %s: %w", destination, err)
	}

	go func() {
		for {
			if !s.waitCapacity(ctx) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				if !s.enqueue(ctx, destination, natsEnvelope(destination, m)) {
					m.Nack()
					return
				}
				m.Ack()
			}
		}
	}()
	return nil
}

// Serve runs the dispatch loop and opens subscriptions registered up front.
func (s *NATSSubscriber) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.epoch = ctx
	s.mu.Unlock()

	for _, dest := range s.Subscriptions() {
		if err := s.startSubject(dest); err != nil {
			logging.Error().Err(err).Str("destination", dest).Msg("nats subscribe failed")
		}
	}

	s.dispatchLoop(ctx)
	return ctx.Err()
}

// Close releases the subscriber.
func (s *NATSSubscriber) Close() error {
	if s.closed.Load() {
		return nil
	}
	s.markClosed()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return s.sub.Close()
	}
	return nil
}

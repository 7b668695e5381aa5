// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// kafkaMaxWait is the consumer long-poll timeout. Short so that
// backpressure and shutdown are observed promptly.
const kafkaMaxWait = 200 * time.Millisecond

// kafkaBrokers extracts the bootstrap server list.
func kafkaBrokers(cfg map[string]interface{}) ([]string, error) {
	brokers := cfgStringSlice(cfg, "bootstrap_servers")
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: bootstrap_servers is required")
	}
	return brokers, nil
}

// kafkaSASL builds the SASL mechanism from the authentication block.
func kafkaSASL(cfg map[string]interface{}) (sasl.Mechanism, error) {
	auth := cfgMap(cfg, "authentication")
	if auth == nil {
		return nil, nil
	}
	user := cfgString(auth, "username", "")
	pass := cfgString(auth, "password", "")
	switch mech := strings.ToUpper(cfgString(auth, "mechanism", "PLAIN")); mech {
	case "PLAIN":
		return plain.Mechanism{Username: user, Password: pass}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, user, pass)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, user, pass)
	default:
		return nil, fmt.Errorf("kafka: unsupported sasl mechanism %q", mech)
	}
}

// KafkaPublisher publishes envelopes through segmentio/kafka-go.
type KafkaPublisher struct {
	publisherBase

	mu      sync.Mutex
	writer  *kafka.Writer
	brokers []string
	cancel  context.CancelFunc
	ctx     context.Context
}

// NewKafkaPublisher returns an uninitialized Kafka publisher.
func NewKafkaPublisher() *KafkaPublisher {
	return &KafkaPublisher{}
}

// Initialize connects the writer and validates broker reachability.
func (p *KafkaPublisher) Initialize(cfg map[string]interface{}) error {
	p.initPublisher(TypeKafka, cfg)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	brokers, err := kafkaBrokers(cfg)
	if err != nil {
		return err
	}
	p.brokers = brokers

	tlsCfg, err := TLSFromConfig(cfgMap(cfg, "ssl"))
	if err != nil {
		return err
	}
	mech, err := kafkaSASL(cfg)
	if err != nil {
		return err
	}

	return p.connectOnce(func() error {
		transport := &kafka.Transport{TLS: tlsCfg, SASL: mech}
		writer := &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
			Transport:              transport,
		}

		// Probe one broker so a dead cluster fails Initialize instead of
		// the first publish.
		conn, err := kafka.Dial("tcp", brokers[0])
		if err != nil {
			return fmt.Errorf("kafka: dial %s: %w", brokers[0], err)
		}
		_ = conn.Close()

		p.mu.Lock()
		p.writer = writer
		p.mu.Unlock()
		return nil
	})
}

// Publish delivers one envelope to topic.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error {
	return p.PublishBatch(ctx, topic, []*models.MessageEnvelope{env})
}

// PublishBatch delivers a batch to topic.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, topic string, envs []*models.MessageEnvelope) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}
	p.mu.Lock()
	writer := p.writer
	p.mu.Unlock()

	msgs := make([]kafka.Message, 0, len(envs))
	for _, env := range envs {
		headers := make([]kafka.Header, 0, len(env.Headers)+1)
		headers = append(headers, kafka.Header{Key: "message_id", Value: []byte(env.MessageID)})
		for k, v := range env.Headers {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		msgs = append(msgs, kafka.Message{
			Topic:   topic,
			Key:     []byte(env.MessageID),
			Value:   []byte(env.Payload),
			Headers: headers,
			Time:    env.Timestamp,
		})
	}

	err := writer.WriteMessages(ctx, msgs...)
	for range envs {
		p.countPublish(err)
	}
	if err != nil {
		return fmt.Errorf("kafka: publish to %s: %w", topic, err)
	}
	p.batches.Add(1)
	return nil
}

// AddTopic is a no-op: the writer auto-creates topics.
func (p *KafkaPublisher) AddTopic(string) error { return nil }

// Flush is a no-op: writes are synchronous.
func (p *KafkaPublisher) Flush(context.Context) error { return nil }

// Close releases the writer.
func (p *KafkaPublisher) Close() error {
	if p.closed.Load() {
		return nil
	}
	p.markClosed()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// KafkaSubscriber consumes through a consumer group whose topic set is the
// union of registered listeners. Subscribe/Unsubscribe during Serve rebuild
// the reader with the new union.
type KafkaSubscriber struct {
	subscriberBase

	mu      sync.Mutex
	cfg     map[string]interface{}
	brokers []string
	groupID string
	dialer  *kafka.Dialer
	reader  *kafka.Reader
	rebuild bool
}

// NewKafkaSubscriber returns an uninitialized Kafka subscriber.
func NewKafkaSubscriber() *KafkaSubscriber {
	return &KafkaSubscriber{}
}

// Initialize prepares the dialer; the reader is built when Serve starts
// (it needs the subscription union).
func (s *KafkaSubscriber) Initialize(cfg map[string]interface{}) error {
	s.initSubscriber(TypeKafka, cfg)
	s.cfg = cfg

	brokers, err := kafkaBrokers(cfg)
	if err != nil {
		return err
	}
	s.brokers = brokers
	s.groupID = cfgString(cfg, "group_id", "dgfacade")

	tlsCfg, err := TLSFromConfig(cfgMap(cfg, "ssl"))
	if err != nil {
		return err
	}
	mech, err := kafkaSASL(cfg)
	if err != nil {
		return err
	}
	s.dialer = &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		TLS:           tlsCfg,
		SASLMechanism: mech,
	}
	s.setState(StateConnected)
	return nil
}

// Subscribe registers a listener and schedules a reader rebuild so the
// consumer group picks up the widened topic union.
func (s *KafkaSubscriber) Subscribe(destination string, l Listener) error {
	s.addListener(destination, l)
	s.mu.Lock()
	s.rebuild = true
	s.mu.Unlock()
	return nil
}

// Unsubscribe removes a listener and schedules a reader rebuild.
func (s *KafkaSubscriber) Unsubscribe(destination string) error {
	s.removeListener(destination)
	s.mu.Lock()
	s.rebuild = true
	s.mu.Unlock()
	return nil
}

// Serve runs the fetch loop plus the shared dispatch loop until ctx ends.
func (s *KafkaSubscriber) Serve(ctx context.Context) error {
	go s.dispatchLoop(ctx)

	for {
		if !s.waitCapacity(ctx) {
			return ctx.Err()
		}
		reader, ok := s.currentReader()
		if !ok {
			// No subscriptions yet.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(capacityPollInterval):
			}
			continue
		}

		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			s.reconnectLoop(ctx, func() error {
				s.mu.Lock()
				s.rebuild = true
				s.mu.Unlock()
				return nil
			}, nil)
			continue
		}

		env := kafkaEnvelope(&m)
		if !s.enqueue(ctx, m.Topic, env) {
			return ctx.Err()
		}
		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Str("topic", m.Topic).Msg("kafka commit failed")
		}
	}
}

// currentReader returns the reader for the present topic union, rebuilding
// it when the union changed. Returns false while no topics are subscribed.
func (s *KafkaSubscriber) currentReader() (*kafka.Reader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := s.Subscriptions()
	if len(topics) == 0 {
		if s.reader != nil {
			_ = s.reader.Close()
			s.reader = nil
		}
		return nil, false
	}
	if s.reader != nil && !s.rebuild {
		return s.reader, true
	}
	if s.reader != nil {
		_ = s.reader.Close()
	}
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.brokers,
		GroupID:     s.groupID,
		GroupTopics: topics,
		Dialer:      s.dialer,
		MaxWait:     kafkaMaxWait,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})
	s.rebuild = false
	logging.Info().Strs("topics", topics).Str("group_id", s.groupID).Msg("kafka reader (re)built")
	return s.reader, true
}

// Close releases the reader.
func (s *KafkaSubscriber) Close() error {
	if s.closed.Load() {
		return nil
	}
	s.markClosed()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}

// kafkaEnvelope converts a fetched message into the canonical envelope.
func kafkaEnvelope(m *kafka.Message) *models.MessageEnvelope {
	env := &models.MessageEnvelope{
		Topic:     m.Topic,
		Payload:   string(m.Value),
		Headers:   map[string]string{},
		Timestamp: m.Time,
		Partition: int32(m.Partition),
		Offset:    m.Offset,
	}
	for _, h := range m.Headers {
		if h.Key == "message_id" {
			env.MessageID = string(h.Value)
			continue
		}
		env.Headers[h.Key] = string(h.Value)
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	return env
}

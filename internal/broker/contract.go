// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"context"
	"errors"

	"github.com/dgfacade/dgfacade/internal/models"
)

// Broker type identifiers as they appear in broker registry files.
const (
	TypeKafka          = "kafka"
	TypeConfluentKafka = "confluent_kafka"
	TypeActiveMQ       = "activemq"
	TypeRabbitMQ       = "rabbitmq"
	TypeIBMMQ          = "ibmmq"
	TypeNATS           = "nats"
	TypeFilesystem     = "filesystem"
	TypeSQL            = "sql"
)

// Sentinel errors shared by all adapters.
var (
	// ErrNotConnected is returned by publish operations while the adapter
	// is not in the CONNECTED state.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("broker: closed")

	// ErrUnknownType is returned by the factory for unregistered types.
	ErrUnknownType = errors.New("broker: unknown broker type")
)

// DefaultBackpressureDepth bounds the subscriber queue when the config
// carries no backpressure_max_depth.
const DefaultBackpressureDepth = 10000

// Listener consumes envelopes delivered to one destination. A non-nil error
// is counted as a dispatch failure; redelivery is the broker's business.
type Listener func(env *models.MessageEnvelope) error

// PublisherStats is a point-in-time snapshot of publisher counters.
type PublisherStats struct {
	State      string `json:"state"`
	Published  uint64 `json:"published"`
	Failed     uint64 `json:"failed"`
	Batches    uint64 `json:"batches"`
	Reconnects uint64 `json:"reconnects"`
}

// SubscriberStats is a point-in-time snapshot of subscriber counters.
type SubscriberStats struct {
	State      string `json:"state"`
	Received   uint64 `json:"received"`
	Dispatched uint64 `json:"dispatched"`
	Failed     uint64 `json:"failed"`
	QueueDepth int    `json:"queue_depth"`
	Paused     bool   `json:"paused"`
	Reconnects uint64 `json:"reconnects"`
}

// Publisher is the common publish contract of every broker adapter.
//
// Initialize must be called exactly once before first use; Close ends the
// adapter's life (terminal CLOSED state). Event-driven brokers publish
// immediately; filesystem and sql may buffer and flush on schedule, with
// Flush forcing the buffer out.
type Publisher interface {
	// Initialize connects using the resolved channel config.
	Initialize(cfg map[string]interface{}) error

	// Publish delivers one envelope to topic.
	Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error

	// PublishBatch delivers a batch to topic.
	PublishBatch(ctx context.Context, topic string, envs []*models.MessageEnvelope) error

	// AddTopic pre-registers a topic (declares the queue, creates the
	// directory or table) so the first publish does not pay setup cost.
	AddTopic(topic string) error

	// Flush forces buffered envelopes out.
	Flush(ctx context.Context) error

	// IsConnected reports whether the adapter is in the CONNECTED state.
	IsConnected() bool

	// Stats returns a counters snapshot.
	Stats() PublisherStats

	// Close releases the adapter. Idempotent.
	Close() error
}

// Subscriber is the common subscribe contract of every broker adapter.
//
// Serve runs the pull-and-dispatch loops until the context is canceled; it
// is shaped for suture supervision. Subscriptions registered before or
// during Serve are honoured, and re-established after a reconnect.
type Subscriber interface {
	// Initialize connects using the resolved channel config.
	Initialize(cfg map[string]interface{}) error

	// Subscribe registers a listener for a destination.
	Subscribe(destination string, l Listener) error

	// Unsubscribe removes a destination's listener.
	Unsubscribe(destination string) error

	// Serve runs the subscriber until ctx is canceled.
	Serve(ctx context.Context) error

	// Pause stops pulling from the broker without dropping subscriptions.
	Pause()

	// Resume restarts pulling after Pause.
	Resume()

	// Subscriptions returns the registered destinations, sorted.
	Subscriptions() []string

	// QueueDepth returns the current internal queue depth.
	QueueDepth() int

	// Stats returns a counters snapshot.
	Stats() SubscriberStats

	// Close releases the subscriber. Idempotent.
	Close() error
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageEnvelope is the canonical unit moving between broker adapters and
// the core. Adapters translate their native message shape into an envelope on
// consume and out of an envelope on publish; Payload, MessageID and Headers
// survive a publish/consume round trip on every adapter.
type MessageEnvelope struct {
	MessageID string            `json:"message_id"`
	Topic     string            `json:"topic"`
	Payload   string            `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	// Partition and Offset are populated by partitioned brokers only.
	Partition int32 `json:"partition,omitempty"`
	Offset    int64 `json:"offset,omitempty"`
}

// NewEnvelope builds an envelope with a fresh message id and timestamp.
func NewEnvelope(topic, payload string) *MessageEnvelope {
	return &MessageEnvelope{
		MessageID: uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Headers:   map[string]string{},
		Timestamp: time.Now().UTC(),
	}
}

// Header returns a header value, or the empty string when absent.
func (e *MessageEnvelope) Header(key string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[key]
}

// WithHeader sets a header and returns the envelope for chaining.
func (e *MessageEnvelope) WithHeader(key, value string) *MessageEnvelope {
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	e.Headers[key] = value
	return e
}

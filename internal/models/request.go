// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestSource identifies the ingress channel a request arrived on.
type RequestSource string

// Request sources. Ingesters stamp the source matching their input channel
// type; the REST and WebSocket gateways stamp their own.
const (
	SourceRest       RequestSource = "REST"
	SourceWebSocket  RequestSource = "WEBSOCKET"
	SourceKafka      RequestSource = "KAFKA"
	SourceActiveMQ   RequestSource = "ACTIVEMQ"
	SourceFilesystem RequestSource = "FILESYSTEM"
	SourceRabbitMQ   RequestSource = "RABBITMQ"
	SourceIBMMQ      RequestSource = "IBMMQ"
	SourceNATS       RequestSource = "NATS"
	SourceSQL        RequestSource = "SQL"
	SourceManual     RequestSource = "MANUAL"
)

// ChannelType identifies a response delivery channel for streaming sessions.
type ChannelType string

// Streaming response channels.
const (
	ChannelWebSocket ChannelType = "WEBSOCKET"
	ChannelKafka     ChannelType = "KAFKA"
	ChannelActiveMQ  ChannelType = "ACTIVEMQ"
	ChannelRabbitMQ  ChannelType = "RABBITMQ"
	ChannelIBMMQ     ChannelType = "IBMMQ"
	ChannelNATS      ChannelType = "NATS"
	ChannelRest      ChannelType = "REST"
)

// ParseChannelType normalizes a channel name to a ChannelType.
// Returns false when the name is not a known channel.
func ParseChannelType(s string) (ChannelType, bool) {
	switch ChannelType(strings.ToUpper(strings.TrimSpace(s))) {
	case ChannelWebSocket:
		return ChannelWebSocket, true
	case ChannelKafka:
		return ChannelKafka, true
	case ChannelActiveMQ:
		return ChannelActiveMQ, true
	case ChannelRabbitMQ:
		return ChannelRabbitMQ, true
	case ChannelIBMMQ:
		return ChannelIBMMQ, true
	case ChannelNATS:
		return ChannelNATS, true
	case ChannelRest:
		return ChannelRest, true
	}
	return "", false
}

// Request is the canonical inbound unit of work. One Request produces one
// Response (or, for streaming requests, a STREAMING_STARTED acknowledgement
// followed by incremental STREAMING_DATA responses).
type Request struct {
	// RequestID is a stable opaque identifier, server-assigned when absent.
	RequestID string `json:"request_id"`

	// RequestType is the uppercase identifier selecting a handler config.
	RequestType string `json:"request_type" validate:"required"`

	// APIKey is the inbound credential; resolved to UserID at dispatch.
	// Never logged.
	APIKey string `json:"api_key,omitempty"`

	// UserID is derived from the credential by the auth service.
	UserID string `json:"user_id,omitempty"`

	// Source records the ingress channel.
	Source RequestSource `json:"source,omitempty"`

	// Payload is the free-form request body handed to the handler.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// TTLMinutes overrides the handler config TTL when > 0.
	TTLMinutes int `json:"ttl_minutes,omitempty" validate:"omitempty,min=1,max=1440"`

	// Streaming marks the request for the streaming execution path.
	Streaming bool `json:"streaming,omitempty"`

	// ResponseChannels names the fan-out channels for a streaming request.
	ResponseChannels []ChannelType `json:"response_channels,omitempty"`

	// ResponseTopic is the broker destination for broker response channels.
	ResponseTopic string `json:"response_topic,omitempty"`

	SubmittedAt        time.Time `json:"submitted_at,omitempty"`
	ExecutionStartedAt time.Time `json:"execution_started_at,omitempty"`
}

// EnsureID assigns a request id when absent and returns it.
func (r *Request) EnsureID() string {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	return r.RequestID
}

// Normalize uppercases the request type and stamps the submission time.
func (r *Request) Normalize(now time.Time) {
	r.RequestType = strings.ToUpper(strings.TrimSpace(r.RequestType))
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = now.UTC()
	}
}

// HasChannel reports whether the request named the given response channel.
func (r *Request) HasChannel(ch ChannelType) bool {
	for _, c := range r.ResponseChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// NeedsResponseTopic reports whether any requested channel delivers through
// an external broker and therefore requires a response topic.
func (r *Request) NeedsResponseTopic() bool {
	for _, c := range r.ResponseChannels {
		switch c {
		case ChannelKafka, ChannelActiveMQ, ChannelRabbitMQ, ChannelIBMMQ, ChannelNATS:
			return true
		}
	}
	return false
}

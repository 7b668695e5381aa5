// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package models

import "strings"

// HandlerConfig is one entry of a per-user handler catalogue file, keyed by
// request type. The file default.json is the fallback catalogue for users
// without their own file.
type HandlerConfig struct {
	RequestType  string                 `json:"request_type"`
	HandlerClass string                 `json:"handler_class"`
	Config       map[string]interface{} `json:"config,omitempty"`
	TTLMinutes   int                    `json:"ttl_minutes,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Enabled      bool                   `json:"enabled"`
	IsPython     bool                   `json:"is_python,omitempty"`
}

// EffectiveTTLMinutes applies the 30 minute default when unset.
func (h *HandlerConfig) EffectiveTTLMinutes() int {
	if h.TTLMinutes > 0 {
		return h.TTLMinutes
	}
	return 30
}

// DestinationType classifies a channel destination.
type DestinationType string

// Destination types.
const (
	DestTopic     DestinationType = "topic"
	DestQueue     DestinationType = "queue"
	DestDirectory DestinationType = "directory"
	DestTable     DestinationType = "table"
)

// Destination is one named endpoint of a channel.
type Destination struct {
	Name string          `json:"name"`
	Type DestinationType `json:"type"`
}

// BrokerConfig is one broker registry entry. Connection, Properties, SSL,
// Authentication and SchemaRegistry are free-form maps handed through to the
// adapter for the broker's native client.
type BrokerConfig struct {
	ID             string                 `json:"id,omitempty"`
	Type           string                 `json:"type"`
	Description    string                 `json:"description,omitempty"`
	Enabled        bool                   `json:"enabled"`
	Connection     map[string]interface{} `json:"connection,omitempty"`
	SSL            map[string]interface{} `json:"ssl,omitempty"`
	Properties     map[string]interface{} `json:"properties,omitempty"`
	Authentication map[string]interface{} `json:"authentication,omitempty"`
	SchemaRegistry map[string]interface{} `json:"schema_registry,omitempty"`
}

// QueueSettings bounds a channel's internal queue.
type QueueSettings struct {
	Depth                int `json:"depth,omitempty"`
	WarningThresholdPct  int `json:"warning_threshold_pct,omitempty"`
	CriticalThresholdPct int `json:"critical_threshold_pct,omitempty"`
	DrainResumePct       int `json:"drain_resume_pct,omitempty"`
}

// RetrySettings configures channel-level publish retry.
type RetrySettings struct {
	MaxAttempts       int     `json:"max_attempts,omitempty"`
	BackoffMs         int     `json:"backoff_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
}

// ChannelConfig binds a broker to a set of destinations. The channel type
// normally matches the broker type; "jms" is accepted as an alias that
// normalizes to "activemq".
type ChannelConfig struct {
	ID           string                 `json:"id,omitempty"`
	Type         string                 `json:"type"`
	Broker       string                 `json:"broker"`
	Destinations []Destination          `json:"destinations,omitempty"`
	Queue        *QueueSettings         `json:"queue,omitempty"`
	Retry        *RetrySettings         `json:"retry,omitempty"`
	SSL          map[string]interface{} `json:"ssl,omitempty"`
	Overrides    map[string]interface{} `json:"overrides,omitempty"`
	Enabled      bool                   `json:"enabled"`
}

// NormalizedType returns the channel type with the jms alias resolved.
func (c *ChannelConfig) NormalizedType() string {
	t := strings.ToLower(strings.TrimSpace(c.Type))
	if t == "jms" {
		return "activemq"
	}
	return t
}

// IngesterConfig is one ingester registry entry.
type IngesterConfig struct {
	ID           string                 `json:"id,omitempty"`
	InputChannel string                 `json:"input_channel"`
	Enabled      bool                   `json:"enabled"`
	Description  string                 `json:"description,omitempty"`
	Overrides    map[string]interface{} `json:"overrides,omitempty"`
}

// User is one users.json entry.
type User struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// APIKey is one apikeys.json entry mapping a credential to a user.
type APIKey struct {
	Key     string `json:"key"`
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"strings"
)

// Confluent channels carry librdkafka-style dotted property names
// ("bootstrap.servers", "sasl.username"). The wire protocol is plain Kafka,
// so the adapter is the Kafka adapter behind a config translation: dotted
// properties are normalized into the canonical keys before Initialize.
//
// schema_registry settings are preserved untouched; they ride along in the
// resolved config for handlers that decode registry-framed payloads.

// confluentNormalize maps librdkafka-style properties onto the canonical
// Kafka adapter config. Canonical keys already present win over dotted ones.
func confluentNormalize(cfg map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}

	alias := func(dotted, canonical string) {
		if _, ok := out[canonical]; ok {
			return
		}
		if v, ok := out[dotted]; ok {
			out[canonical] = v
		}
	}
	alias("bootstrap.servers", "bootstrap_servers")
	alias("group.id", "group_id")

	// sasl.* and security.protocol fold into the authentication / ssl blocks.
	if _, ok := out["authentication"]; !ok {
		auth := map[string]interface{}{}
		if v, ok := out["sasl.username"]; ok {
			auth["username"] = v
		}
		if v, ok := out["sasl.password"]; ok {
			auth["password"] = v
		}
		if v, ok := out["sasl.mechanism"]; ok {
			auth["mechanism"] = v
		} else if v, ok := out["sasl.mechanisms"]; ok {
			auth["mechanism"] = v
		}
		if len(auth) > 0 {
			out["authentication"] = auth
		}
	}
	if _, ok := out["ssl"]; !ok {
		if proto, ok := out["security.protocol"].(string); ok {
			switch strings.ToUpper(proto) {
			case "SSL", "SASL_SSL":
				ssl := map[string]interface{}{"enabled": true}
				if v, ok := out["ssl.ca.location"]; ok {
					ssl["ca_cert"] = v
				}
				if v, ok := out["ssl.certificate.location"]; ok {
					ssl["client_cert"] = v
				}
				if v, ok := out["ssl.key.location"]; ok {
					ssl["client_key"] = v
				}
				out["ssl"] = ssl
			}
		}
	}
	return out
}

// ConfluentPublisher is the Kafka publisher fed librdkafka-style config.
type ConfluentPublisher struct {
	KafkaPublisher
}

// NewConfluentPublisher returns an uninitialized Confluent publisher.
func NewConfluentPublisher() *ConfluentPublisher {
	return &ConfluentPublisher{}
}

// Initialize normalizes the dotted properties and delegates to Kafka.
func (p *ConfluentPublisher) Initialize(cfg map[string]interface{}) error {
	err := p.KafkaPublisher.Initialize(confluentNormalize(cfg))
	p.brokerType = TypeConfluentKafka
	return err
}

// ConfluentSubscriber is the Kafka subscriber fed librdkafka-style config.
type ConfluentSubscriber struct {
	KafkaSubscriber
}

// NewConfluentSubscriber returns an uninitialized Confluent subscriber.
func NewConfluentSubscriber() *ConfluentSubscriber {
	return &ConfluentSubscriber{}
}

// Initialize normalizes the dotted properties and delegates to Kafka.
func (s *ConfluentSubscriber) Initialize(cfg map[string]interface{}) error {
	err := s.KafkaSubscriber.Initialize(confluentNormalize(cfg))
	s.brokerType = TypeConfluentKafka
	return err
}

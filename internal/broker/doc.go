// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package broker implements the broker-agnostic publish/subscribe layer.
//
// Every broker protocol (kafka, confluent_kafka, activemq, rabbitmq, ibmmq,
// nats, filesystem, sql) provides a Publisher and a Subscriber behind the
// common contracts in contract.go. Adapters share the connection state
// machine and reconnect scheduling in conn.go and the bounded-queue dispatch
// base in subscriber.go; composition, not inheritance: each adapter embeds
// the base structs and supplies only its protocol-specific connect, publish
// and pull logic.
//
// Backpressure is refusal to pull: when the internal queue reaches its
// configured depth the adapter stops pulling from the broker (skips the
// poll, withholds credit, stops the consumer) so messages stay with the
// broker and replay semantics are preserved. Adapters never drop a received
// message to stay under the limit.
package broker

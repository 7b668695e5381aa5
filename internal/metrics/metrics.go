// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package metrics defines the Prometheus collectors instrumenting the
// gateway's hot paths: dispatch outcomes, handler executions, broker
// publish/consume traffic, subscriber queue depth, streaming sessions,
// ingesters, and cluster traffic. All collectors are registered with the
// default registry via promauto and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch metrics

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_dispatch_total",
			Help: "Total requests seen by the dispatcher, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dgf_dispatch_duration_seconds",
			Help:    "Time spent in the dispatch pipeline before engine submission",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	// Execution engine metrics

	ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dgf_executions_in_flight",
			Help: "Handler executions currently running",
		},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_executions_total",
			Help: "Completed handler executions by request type and terminal phase",
		},
		[]string{"request_type", "phase"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dgf_execution_duration_seconds",
			Help:    "Handler execution wall time in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"request_type"},
	)

	// Broker adapter metrics

	BrokerPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_broker_publish_total",
			Help: "Messages published per broker type and result",
		},
		[]string{"broker_type", "result"},
	)

	BrokerConsumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_broker_consume_total",
			Help: "Messages consumed per broker type",
		},
		[]string{"broker_type"},
	)

	BrokerReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_broker_reconnects_total",
			Help: "Reconnection attempts per broker type",
		},
		[]string{"broker_type"},
	)

	SubscriberQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dgf_subscriber_queue_depth",
			Help: "Internal subscriber queue depth per broker type",
		},
		[]string{"broker_type"},
	)

	SubscriberPaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dgf_subscriber_backpressure_paused",
			Help: "1 when the subscriber has stopped pulling due to backpressure",
		},
		[]string{"broker_type"},
	)

	// Streaming session metrics

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dgf_streaming_sessions_active",
			Help: "Live streaming sessions",
		},
	)

	SessionMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_streaming_messages_total",
			Help: "Streaming responses delivered per channel and result",
		},
		[]string{"channel", "result"},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_streaming_sessions_ended_total",
			Help: "Streaming sessions ended, by reason",
		},
		[]string{"reason"},
	)

	// Ingester metrics

	IngesterMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_ingester_messages_total",
			Help: "Ingester message counts by ingester id and result (received, submitted, failed, rejected)",
		},
		[]string{"ingester_id", "result"},
	)

	// Cluster metrics

	ClusterForwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_cluster_forwards_total",
			Help: "Requests forwarded to peers, by result",
		},
		[]string{"result"},
	)

	ClusterPeers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dgf_cluster_peers",
			Help: "Known cluster peers by status",
		},
		[]string{"status"},
	)

	ClusterHeartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_cluster_heartbeats_total",
			Help: "Heartbeats sent, by result",
		},
		[]string{"result"},
	)

	// Config reload metrics

	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgf_config_reloads_total",
			Help: "Registry reloads triggered, by registry and trigger (fingerprint, forced)",
		},
		[]string{"registry", "trigger"},
	)

	// WebSocket gateway metrics

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dgf_websocket_clients",
			Help: "Connected WebSocket clients",
		},
	)
)

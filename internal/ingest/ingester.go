// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/dgfacade/dgfacade/internal/broker"
	"github.com/dgfacade/dgfacade/internal/channel"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
	"github.com/dgfacade/dgfacade/internal/models"
)

const dispatchTimeout = 30 * time.Second

// Submitter is the dispatch entry point ingesters feed. Satisfied by
// *dispatch.Dispatcher.
type Submitter interface {
	Dispatch(ctx context.Context, req *models.Request) *models.Response
}

// Stats is the admin snapshot of one ingester.
type Stats struct {
	ID           string `json:"id"`
	InputChannel string `json:"input_channel"`
	Running      bool   `json:"running"`
	Received     uint64 `json:"received"`
	Submitted    uint64 `json:"submitted"`
	Rejected     uint64 `json:"rejected"`
	Failed       uint64 `json:"failed"`
	QueueDepth   int    `json:"queue_depth"`
}

// Ingester consumes one input channel and dispatches decoded requests. It is
// a suture service: Serve returns on context end, and returns errors for the
// supervisor's restart backoff when the channel cannot be established.
type Ingester struct {
	id       string
	cfg      *models.IngesterConfig
	accessor *channel.Accessor
	submit   Submitter

	received  atomic.Uint64
	submitted atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
	running   atomic.Bool
	sub       atomic.Pointer[subscriberRef]
}

type subscriberRef struct{ sub broker.Subscriber }

// NewIngester creates an ingester over its registry entry.
func NewIngester(id string, cfg *models.IngesterConfig, accessor *channel.Accessor, submit Submitter) *Ingester {
	return &Ingester{id: id, cfg: cfg, accessor: accessor, submit: submit}
}

func (ing *Ingester) String() string { return "ingester-" + ing.id }

// Serve subscribes to every destination of the input channel and runs the
// subscriber until the context ends.
func (ing *Ingester) Serve(ctx context.Context) error {
	sub, resolved, err := ing.accessor.SubscriberFor(ing.id, ing.cfg.InputChannel, ing.cfg.Overrides)
	if err != nil {
		return fmt.Errorf("ingester %s: %w", ing.id, err)
	}
	ing.sub.Store(&subscriberRef{sub: sub})

	source := sourceForType(resolved.Type)
	listener := ing.listener(source)
	for _, dest := range resolved.Destinations {
		if err := sub.Subscribe(dest.Name, listener); err != nil {
			return fmt.Errorf("ingester %s: subscribe %s: %w", ing.id, dest.Name, err)
		}
	}
	if len(resolved.Destinations) == 0 {
		return fmt.Errorf("ingester %s: input channel %s has no destinations", ing.id, ing.cfg.InputChannel)
	}

	logging.Info().
		Str("ingester_id", ing.id).
		Str("input_channel", ing.cfg.InputChannel).
		Str("broker_type", resolved.Type).
		Int("destinations", len(resolved.Destinations)).
		Msg("ingester started")

	ing.running.Store(true)
	defer ing.running.Store(false)
	return sub.Serve(ctx)
}

// listener decodes one envelope into a request and dispatches it. Malformed
// payloads are counted rejected and dropped; redelivering them cannot help.
func (ing *Ingester) listener(source models.RequestSource) broker.Listener {
	return func(env *models.MessageEnvelope) error {
		ing.received.Add(1)
		metrics.IngesterMessages.WithLabelValues(ing.id, "received").Inc()

		req := &models.Request{}
		if err := json.Unmarshal([]byte(env.Payload), req); err != nil || req.RequestType == "" {
			ing.rejected.Add(1)
			metrics.IngesterMessages.WithLabelValues(ing.id, "rejected").Inc()
			logging.Warn().
				Str("ingester_id", ing.id).
				Str("message_id", env.MessageID).
				Str("topic", env.Topic).
				Msg("dropping undecodable ingest message")
			return nil
		}
		req.Source = source
		ing.track(ing.dispatch(req))
		return nil
	}
}

func (ing *Ingester) dispatch(req *models.Request) *models.Response {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	return ing.submit.Dispatch(ctx, req)
}

// track classifies a dispatch outcome into the ingester counters.
func (ing *Ingester) track(resp *models.Response) {
	switch {
	case resp == nil:
		ing.failed.Add(1)
		metrics.IngesterMessages.WithLabelValues(ing.id, "failed").Inc()
	case resp.Status == models.StatusSuccess || resp.Status == models.StatusStreamingStarted:
		ing.submitted.Add(1)
		metrics.IngesterMessages.WithLabelValues(ing.id, "submitted").Inc()
	default:
		kind, _ := resp.Kind()
		switch kind {
		case models.ErrAuthFailed, models.ErrInvalidRequest, models.ErrHandlerNotFound:
			ing.rejected.Add(1)
			metrics.IngesterMessages.WithLabelValues(ing.id, "rejected").Inc()
		default:
			ing.failed.Add(1)
			metrics.IngesterMessages.WithLabelValues(ing.id, "failed").Inc()
		}
		logging.Warn().
			Str("ingester_id", ing.id).
			Str("request_id", resp.RequestID).
			Str("status", string(resp.Status)).
			Str("error_kind", string(kind)).
			Msg("ingested request not accepted")
	}
}

// Stats returns the ingester counters.
func (ing *Ingester) Stats() Stats {
	st := Stats{
		ID:           ing.id,
		InputChannel: ing.cfg.InputChannel,
		Running:      ing.running.Load(),
		Received:     ing.received.Load(),
		Submitted:    ing.submitted.Load(),
		Rejected:     ing.rejected.Load(),
		Failed:       ing.failed.Load(),
	}
	if ref := ing.sub.Load(); ref != nil {
		st.QueueDepth = ref.sub.QueueDepth()
	}
	return st
}

// sourceForType maps a broker type to the request source stamp.
func sourceForType(brokerType string) models.RequestSource {
	switch brokerType {
	case broker.TypeKafka, broker.TypeConfluentKafka:
		return models.SourceKafka
	case broker.TypeActiveMQ:
		return models.SourceActiveMQ
	case broker.TypeRabbitMQ:
		return models.SourceRabbitMQ
	case broker.TypeIBMMQ:
		return models.SourceIBMMQ
	case broker.TypeNATS:
		return models.SourceNATS
	case broker.TypeFilesystem:
		return models.SourceFilesystem
	case broker.TypeSQL:
		return models.SourceSQL
	default:
		return models.SourceManual
	}
}

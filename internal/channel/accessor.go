// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package channel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dgfacade/dgfacade/internal/broker"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/logging"
)

// Accessor hands out initialized broker adapters for channel ids, caching
// them so repeated lookups share one connection. Caller-level overrides
// (ingester overrides) get their own cache slot per caller id, since they may
// change connection parameters.
type Accessor struct {
	channels *config.ChannelStore
	brokers  *config.BrokerStore

	mu   sync.Mutex
	pubs map[string]*pubEntry
	subs map[string]*subEntry
}

type pubEntry struct {
	publisher broker.Publisher
	resolved  *config.ResolvedChannel
}

type subEntry struct {
	subscriber broker.Subscriber
	resolved   *config.ResolvedChannel
}

// NewAccessor creates an accessor over the channel and broker registries.
func NewAccessor(channels *config.ChannelStore, brokers *config.BrokerStore) *Accessor {
	return &Accessor{
		channels: channels,
		brokers:  brokers,
		pubs:     map[string]*pubEntry{},
		subs:     map[string]*subEntry{},
	}
}

// cacheKey separates caller-specific adapters from the shared one.
func cacheKey(callerID, channelID string) string {
	if callerID == "" {
		return channelID
	}
	return channelID + "|" + callerID
}

// resolve merges the channel chain and folds the channel queue depth into
// the adapter config so the subscriber bound follows the channel settings.
func (a *Accessor) resolve(channelID string, overrides map[string]interface{}) (*config.ResolvedChannel, error) {
	resolved, err := config.ResolveChannel(a.channels, a.brokers, channelID, overrides)
	if err != nil {
		return nil, err
	}
	if resolved.Queue != nil && resolved.Queue.Depth > 0 {
		if _, ok := resolved.Config["backpressure_max_depth"]; !ok {
			resolved.Config["backpressure_max_depth"] = resolved.Queue.Depth
		}
	}
	return resolved, nil
}

// Publisher returns the shared initialized publisher for a channel.
func (a *Accessor) Publisher(channelID string) (broker.Publisher, *config.ResolvedChannel, error) {
	return a.PublisherFor("", channelID, nil)
}

// PublisherFor returns an initialized publisher for a channel with
// caller-level overrides applied.
func (a *Accessor) PublisherFor(callerID, channelID string, overrides map[string]interface{}) (broker.Publisher, *config.ResolvedChannel, error) {
	key := cacheKey(callerID, channelID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.pubs[key]; ok {
		return e.publisher, e.resolved, nil
	}

	resolved, err := a.resolve(channelID, overrides)
	if err != nil {
		return nil, nil, err
	}
	pub, err := broker.NewPublisher(resolved.Type)
	if err != nil {
		return nil, nil, fmt.Errorf("channel %q: %w", channelID, err)
	}
	if err := pub.Initialize(resolved.Config); err != nil {
		return nil, nil, fmt.Errorf("channel %q: initialize publisher: %w", channelID, err)
	}
	for _, dest := range resolved.Destinations {
		if err := pub.AddTopic(dest.Name); err != nil {
			logging.Warn().Err(err).
				Str("channel_id", channelID).
				Str("destination", dest.Name).
				Msg("destination pre-registration failed")
		}
	}

	a.pubs[key] = &pubEntry{publisher: pub, resolved: resolved}
	logging.Info().
		Str("channel_id", channelID).
		Str("broker_id", resolved.BrokerID).
		Str("type", resolved.Type).
		Msg("publisher created")
	return pub, resolved, nil
}

// Subscriber returns the shared initialized subscriber for a channel. The
// caller owns running Serve (normally under supervision).
func (a *Accessor) Subscriber(channelID string) (broker.Subscriber, *config.ResolvedChannel, error) {
	return a.SubscriberFor("", channelID, nil)
}

// SubscriberFor returns an initialized subscriber for a channel with
// caller-level overrides applied.
func (a *Accessor) SubscriberFor(callerID, channelID string, overrides map[string]interface{}) (broker.Subscriber, *config.ResolvedChannel, error) {
	key := cacheKey(callerID, channelID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.subs[key]; ok {
		return e.subscriber, e.resolved, nil
	}

	resolved, err := a.resolve(channelID, overrides)
	if err != nil {
		return nil, nil, err
	}
	sub, err := broker.NewSubscriber(resolved.Type)
	if err != nil {
		return nil, nil, fmt.Errorf("channel %q: %w", channelID, err)
	}
	if err := sub.Initialize(resolved.Config); err != nil {
		return nil, nil, fmt.Errorf("channel %q: initialize subscriber: %w", channelID, err)
	}

	a.subs[key] = &subEntry{subscriber: sub, resolved: resolved}
	logging.Info().
		Str("channel_id", channelID).
		Str("broker_id", resolved.BrokerID).
		Str("type", resolved.Type).
		Msg("subscriber created")
	return sub, resolved, nil
}

// Invalidate closes and drops every cached adapter of one channel, so the
// next lookup rebuilds against the reloaded registry entry.
func (a *Accessor) Invalidate(channelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, e := range a.pubs {
		if e.resolved.ChannelID == channelID {
			_ = e.publisher.Close()
			delete(a.pubs, key)
		}
	}
	for key, e := range a.subs {
		if e.resolved.ChannelID == channelID {
			_ = e.subscriber.Close()
			delete(a.subs, key)
		}
	}
}

// InvalidateAll closes and drops every cached adapter.
func (a *Accessor) InvalidateAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, e := range a.pubs {
		_ = e.publisher.Close()
		delete(a.pubs, key)
	}
	for key, e := range a.subs {
		_ = e.subscriber.Close()
		delete(a.subs, key)
	}
}

// Close releases every cached adapter.
func (a *Accessor) Close() {
	a.InvalidateAll()
}

// ChannelStats is the admin view of one cached adapter.
type ChannelStats struct {
	Key        string                  `json:"key"`
	ChannelID  string                  `json:"channel_id"`
	BrokerID   string                  `json:"broker_id"`
	Type       string                  `json:"type"`
	Publisher  *broker.PublisherStats  `json:"publisher,omitempty"`
	Subscriber *broker.SubscriberStats `json:"subscriber,omitempty"`
}

// Stats returns a snapshot of every cached adapter, sorted by cache key.
func (a *Accessor) Stats() []ChannelStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ChannelStats, 0, len(a.pubs)+len(a.subs))
	for key, e := range a.pubs {
		st := e.publisher.Stats()
		out = append(out, ChannelStats{
			Key:       key,
			ChannelID: e.resolved.ChannelID,
			BrokerID:  e.resolved.BrokerID,
			Type:      e.resolved.Type,
			Publisher: &st,
		})
	}
	for key, e := range a.subs {
		st := e.subscriber.Stats()
		out = append(out, ChannelStats{
			Key:        key,
			ChannelID:  e.resolved.ChannelID,
			BrokerID:   e.resolved.BrokerID,
			Type:       e.resolved.Type,
			Subscriber: &st,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key == out[j].Key {
			return out[i].Publisher != nil
		}
		return out[i].Key < out[j].Key
	})
	return out
}

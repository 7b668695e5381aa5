// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package config

import (
	"fmt"

	"github.com/dgfacade/dgfacade/internal/models"
)

// ResolvedChannel is the fully merged view of one channel: the broker it
// rides on, the normalized channel type, the destination list, and a single
// flat config map merged in priority order
//
//	broker connection + broker properties + broker ssl
//	  < channel ssl + channel overrides
//	  < caller (ingester) overrides
//
// The structured blocks authentication, schema_registry and ssl are carried
// under their own keys so adapters can pick them up whole.
type ResolvedChannel struct {
	ChannelID    string
	BrokerID     string
	Type         string
	Destinations []models.Destination
	Queue        *models.QueueSettings
	Retry        *models.RetrySettings
	Config       map[string]interface{}
}

// ResolveChannel walks the channel → broker chain for channelID and merges
// the configs. overrides is the caller-level layer (ingester overrides);
// pass nil when there is none.
func ResolveChannel(channels *ChannelStore, brokers *BrokerStore, channelID string, overrides map[string]interface{}) (*ResolvedChannel, error) {
	ch, ok := channels.Get(channelID)
	if !ok {
		return nil, fmt.Errorf("channel %q is not registered", channelID)
	}
	if !ch.Enabled {
		return nil, fmt.Errorf("channel %q is disabled", channelID)
	}
	br, ok := brokers.Get(ch.Broker)
	if !ok {
		return nil, fmt.Errorf("channel %q references unknown broker %q", channelID, ch.Broker)
	}
	if !br.Enabled {
		return nil, fmt.Errorf("broker %q is disabled", ch.Broker)
	}

	merged := map[string]interface{}{}
	mergeInto(merged, br.Connection)
	mergeInto(merged, br.Properties)
	if len(br.SSL) > 0 {
		merged["ssl"] = copyMap(br.SSL)
	}
	if len(br.Authentication) > 0 {
		merged["authentication"] = copyMap(br.Authentication)
	}
	if len(br.SchemaRegistry) > 0 {
		merged["schema_registry"] = copyMap(br.SchemaRegistry)
	}

	if len(ch.SSL) > 0 {
		merged["ssl"] = copyMap(ch.SSL)
	}
	mergeInto(merged, ch.Overrides)
	mergeInto(merged, overrides)

	return &ResolvedChannel{
		ChannelID:    channelID,
		BrokerID:     ch.Broker,
		Type:         ch.NormalizedType(),
		Destinations: append([]models.Destination(nil), ch.Destinations...),
		Queue:        ch.Queue,
		Retry:        ch.Retry,
		Config:       merged,
	}, nil
}

// mergeInto shallow-merges src into dst, later entries winning. Nested maps
// merge recursively so an override can adjust one key of a structured block
// without replacing the whole block.
func mergeInto(dst map[string]interface{}, src map[string]interface{}) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
			dst[k] = copyMap(srcMap)
			continue
		}
		dst[k] = v
	}
}

// copyMap deep-copies a config map so merged views never alias registry
// entries.
func copyMap(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		if m, ok := v.(map[string]interface{}); ok {
			out[k] = copyMap(m)
			continue
		}
		out[k] = v
	}
	return out
}

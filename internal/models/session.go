// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package models

import "time"

// SessionStatus is the lifecycle status of a streaming session.
type SessionStatus string

// Session statuses.
const (
	SessionActive   SessionStatus = "ACTIVE"
	SessionStopping SessionStatus = "STOPPING"
	SessionEnded    SessionStatus = "ENDED"
)

// SessionEndReason records why a streaming session terminated.
type SessionEndReason string

// Session end reasons.
const (
	EndReasonStopped    SessionEndReason = "STOPPED"
	EndReasonExpired    SessionEndReason = "TTL_EXPIRED"
	EndReasonCompleted  SessionEndReason = "COMPLETED"
	EndReasonFailed     SessionEndReason = "FAILED"
	EndReasonShutdown   SessionEndReason = "SHUTDOWN"
)

// StreamingSession is the stateful context of one streaming handler. A
// session exists iff its owning execution unit is alive; its fields are
// mutated only by the session's controller goroutine and exposed to readers
// as snapshots.
type StreamingSession struct {
	SessionID        string           `json:"session_id"`
	RequestID        string           `json:"request_id"`
	RequestType      string           `json:"request_type"`
	ResponseChannels []ChannelType    `json:"response_channels"`
	ResponseTopic    string           `json:"response_topic,omitempty"`
	TTLMinutes       int              `json:"ttl_minutes"`
	Status           SessionStatus    `json:"status"`
	StartedAt        time.Time        `json:"started_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	MessagesPublished uint64          `json:"messages_published"`
	UserID           string           `json:"user_id,omitempty"`
}

// Snapshot returns a copy safe for concurrent readers. The channel slice is
// copied so readers cannot observe controller-side mutation.
func (s *StreamingSession) Snapshot() StreamingSession {
	out := *s
	out.ResponseChannels = append([]ChannelType(nil), s.ResponseChannels...)
	return out
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package streaming

import (
	"sync"
	"time"

	"github.com/dgfacade/dgfacade/internal/models"
)

// outbound is one fan-out delivery queued for a channel's drain goroutine.
// The terminal item is the last thing a drain processes.
type outbound struct {
	resp     *models.Response
	terminal bool
}

// session is the manager-internal state of one streaming session. The info
// snapshot is guarded by mu; the sequence counter is advanced under the same
// lock so sequence numbers and MessagesPublished never disagree.
type session struct {
	mu   sync.Mutex
	info models.StreamingSession
	seq  uint64

	// buffer is the REST pull buffer, oldest first. When full the oldest
	// response is dropped so a stalled poller cannot pin memory.
	buffer    []*models.Response
	bufferCap int
	dropped   uint64

	timer *time.Timer
	ended bool

	// routes caches the resolved output-channel id per broker channel type.
	routes map[models.ChannelType]string

	// queues holds the per-channel fan-out queues, one drain goroutine each.
	// The REST channel feeds its pull buffer directly and has no queue.
	queues map[models.ChannelType]chan outbound
}

// enqueue offers one delivery to a channel's queue without blocking. Data
// items are dropped when the queue is full; the terminal item never is, so
// the drain goroutine always gets its exit signal.
func (s *session) enqueue(ch models.ChannelType, item outbound) bool {
	q, ok := s.queues[ch]
	if !ok {
		return false
	}
	if item.terminal {
		select {
		case q <- item:
		default:
			go func() { q <- item }()
		}
		return true
	}
	select {
	case q <- item:
		return true
	default:
		return false
	}
}

func (s *session) snapshot() models.StreamingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Snapshot()
}

// nextSequence advances the per-session sequence. Returns 0 when the session
// has already ended, which the emitter treats as a terminal signal.
func (s *session) nextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return 0
	}
	s.seq++
	s.info.MessagesPublished = s.seq
	return s.seq
}

func (s *session) push(resp *models.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) >= s.bufferCap {
		s.buffer = s.buffer[1:]
		s.dropped++
	}
	s.buffer = append(s.buffer, resp)
}

// pull removes and returns up to max buffered responses, oldest first.
func (s *session) pull(max int) []*models.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max <= 0 || max > len(s.buffer) {
		max = len(s.buffer)
	}
	out := make([]*models.Response, max)
	copy(out, s.buffer[:max])
	s.buffer = append(s.buffer[:0], s.buffer[max:]...)
	return out
}

// markEnded flips the session to ENDED exactly once. Returns false when it
// already was.
func (s *session) markEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.info.Status = models.SessionEnded
	if s.timer != nil {
		s.timer.Stop()
	}
	return true
}

func (s *session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

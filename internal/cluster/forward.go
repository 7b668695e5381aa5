// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
	"github.com/dgfacade/dgfacade/internal/models"
)

// ErrNoExecutors is returned when no UP executor peer is available.
var ErrNoExecutors = errors.New("cluster: no executor available")

// ShouldForward reports whether requests must leave this node: clustering on,
// a role that cannot execute, and at least one executor in sight.
func (s *Service) ShouldForward() bool {
	return s.cfg.Enabled && !s.Role().CanExecute()
}

// executors returns UP peers whose role accepts executions, sorted by URL.
func (s *Service) executors() []*peer {
	now := time.Now()
	out := make([]*peer, 0, 4)
	for _, p := range s.peerList() {
		if p.state.NodeID == "" || !p.state.Role.CanExecute() {
			continue
		}
		if s.statusOf(p, now) != models.NodeUp {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Forward sends the request to an executor peer, round-robin over the UP
// set, and returns the executor's response. A peer whose circuit is open is
// skipped; every candidate failing yields ErrNoExecutors wrapped with the
// last cause.
func (s *Service) Forward(ctx context.Context, req *models.Request) (*models.Response, error) {
	candidates := s.executors()
	if len(candidates) == 0 {
		metrics.ClusterForwards.WithLabelValues("no_executor").Inc()
		return nil, ErrNoExecutors
	}

	s.mu.Lock()
	start := s.next
	s.next++
	s.mu.Unlock()

	var lastErr error
	for i := 0; i < len(candidates); i++ {
		p := candidates[(start+i)%len(candidates)]
		resp, err := p.breaker.Execute(func() (*models.Response, error) {
			return s.forwardTo(ctx, p, req)
		})
		if err == nil {
			metrics.ClusterForwards.WithLabelValues("ok").Inc()
			return resp, nil
		}
		lastErr = err
		logging.Warn().Err(err).
			Str("request_id", req.RequestID).
			Str("peer", p.baseURL).
			Msg("cluster forward attempt failed")
	}

	metrics.ClusterForwards.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("%w: %v", ErrNoExecutors, lastErr)
}

func (s *Service) forwardTo(ctx context.Context, p *peer, req *models.Request) (*models.Response, error) {
	body, err := json.Marshal(models.ForwardEnvelope{Request: req, OriginNodeID: s.cfg.NodeID})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/v1/cluster/forward", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor %s returned %d", p.state.NodeID, httpResp.StatusCode)
	}

	var resp models.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode executor response: %w", err)
	}
	return &resp, nil
}

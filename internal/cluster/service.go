// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package cluster

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
	"github.com/dgfacade/dgfacade/internal/models"
)

// Liveness thresholds, in heartbeat intervals and wall time.
const (
	suspectAfterIntervals = 2
	downAfterIntervals    = 5
	evictAfter            = 10 * time.Minute
	evictLeavingAfter     = time.Minute
	requestTimeout        = 10 * time.Second
)

// peer is one remote node as this node sees it.
type peer struct {
	baseURL  string
	state    models.NodeState
	lastSeen time.Time
	leftAt   time.Time
	breaker  *gobreaker.CircuitBreaker[*models.Response]
}

// Options supplies the node-local stats reported on every heartbeat.
type Options struct {
	Version          string
	ActiveExecutions func() int64
	TotalRequests    func() int64
}

// Service maintains cluster membership and forwards requests to executors.
type Service struct {
	cfg    config.ClusterConfig
	port   int
	opts   Options
	client *http.Client

	mu    sync.Mutex
	peers map[string]*peer
	next  int

	leaving bool
}

// NewService creates the cluster service. Seeds become peers immediately;
// their node ids are learned from the first heartbeat exchange.
func NewService(cfg config.ClusterConfig, serverPort int, opts Options) *Service {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.NodeID == "" {
		cfg.NodeID = fmt.Sprintf("%s:%d", cfg.AdvertiseHost, serverPort)
	}
	if cfg.Role == "" {
		cfg.Role = string(models.RoleBoth)
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Service{
		cfg:    cfg,
		port:   serverPort,
		opts:   opts,
		client: &http.Client{Timeout: requestTimeout},
		peers:  map[string]*peer{},
	}
	for _, seed := range cfg.Seeds {
		url := strings.TrimRight(seed, "/")
		if url == "" {
			continue
		}
		s.peers[url] = s.newPeer(url)
	}
	return s
}

func (s *Service) newPeer(baseURL string) *peer {
	return &peer{
		baseURL: baseURL,
		breaker: gobreaker.NewCircuitBreaker[*models.Response](gobreaker.Settings{
			Name:    baseURL,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Enabled reports whether clustering is on.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// NodeID returns this node's identifier.
func (s *Service) NodeID() string { return s.cfg.NodeID }

// Role returns this node's role.
func (s *Service) Role() models.NodeRole { return models.NodeRole(s.cfg.Role) }

// Self returns this node's current heartbeat state.
func (s *Service) Self() models.NodeState {
	status := models.NodeUp
	s.mu.Lock()
	if s.leaving {
		status = models.NodeLeaving
	}
	s.mu.Unlock()

	state := models.NodeState{
		NodeID:        s.cfg.NodeID,
		Host:          s.cfg.AdvertiseHost,
		Port:          s.port,
		Version:       s.opts.Version,
		Role:          s.Role(),
		Status:        status,
		LastHeartbeat: time.Now().UTC(),
	}
	if s.opts.ActiveExecutions != nil {
		state.ActiveHandlers = s.opts.ActiveExecutions()
	}
	if s.opts.TotalRequests != nil {
		state.TotalRequests = s.opts.TotalRequests()
	}
	return state
}

// Serve heartbeats every peer on the configured interval until the context
// ends, then broadcasts a LEAVING heartbeat. Suture-compatible.
func (s *Service) Serve(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().
		Str("node_id", s.cfg.NodeID).
		Str("role", s.cfg.Role).
		Int("seeds", len(s.cfg.Seeds)).
		Dur("interval", s.cfg.HeartbeatInterval).
		Msg("cluster service started")

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	s.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Leave()
			return ctx.Err()
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

// beat sends one heartbeat round and sweeps dead peers.
func (s *Service) beat(ctx context.Context) {
	for _, p := range s.peerList() {
		s.heartbeatPeer(ctx, p)
	}
	s.sweep()

	now := time.Now()
	counts := map[models.NodeStatus]int{}
	for _, p := range s.peerList() {
		counts[s.statusOf(p, now)]++
	}
	for _, st := range []models.NodeStatus{models.NodeUp, models.NodeSuspect, models.NodeDown, models.NodeLeaving} {
		metrics.ClusterPeers.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func (s *Service) peerList() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].baseURL < out[j].baseURL })
	return out
}

func (s *Service) heartbeatPeer(ctx context.Context, p *peer) {
	body, err := json.Marshal(s.Self())
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/v1/cluster/heartbeat", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.ClusterHeartbeats.WithLabelValues("error").Inc()
		logging.Debug().Err(err).Str("peer", p.baseURL).Msg("heartbeat failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.ClusterHeartbeats.WithLabelValues("error").Inc()
		return
	}

	var state models.NodeState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		metrics.ClusterHeartbeats.WithLabelValues("error").Inc()
		return
	}
	metrics.ClusterHeartbeats.WithLabelValues("ok").Inc()
	s.observe(p.baseURL, state)
}

// HandleHeartbeat records an inbound peer heartbeat and returns this node's
// state for the response body.
func (s *Service) HandleHeartbeat(state models.NodeState) models.NodeState {
	baseURL := fmt.Sprintf("http://%s:%d", state.Host, state.Port)
	s.observe(baseURL, state)
	metrics.ClusterHeartbeats.WithLabelValues("received").Inc()
	return s.Self()
}

// observe installs or refreshes a peer from a heartbeat exchange.
func (s *Service) observe(baseURL string, state models.NodeState) {
	if state.NodeID == "" || state.NodeID == s.cfg.NodeID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[baseURL]
	if !ok {
		p = s.newPeer(baseURL)
		s.peers[baseURL] = p
		logging.Info().Str("node_id", state.NodeID).Str("peer", baseURL).Msg("cluster peer discovered")
	}
	p.state = state
	p.lastSeen = time.Now()
	if state.Status == models.NodeLeaving && p.leftAt.IsZero() {
		p.leftAt = time.Now()
	}
}

// statusOf classifies a peer by heartbeat age.
func (s *Service) statusOf(p *peer, now time.Time) models.NodeStatus {
	if p.state.Status == models.NodeLeaving {
		return models.NodeLeaving
	}
	if p.lastSeen.IsZero() {
		return models.NodeDown
	}
	age := now.Sub(p.lastSeen)
	switch {
	case age <= suspectAfterIntervals*s.cfg.HeartbeatInterval:
		return models.NodeUp
	case age <= downAfterIntervals*s.cfg.HeartbeatInterval:
		return models.NodeSuspect
	default:
		return models.NodeDown
	}
}

// sweep evicts peers that have been silent too long or finished leaving.
// Seed peers are never evicted, so a restarted seed rejoins on its own.
func (s *Service) sweep() {
	seeds := make(map[string]struct{}, len(s.cfg.Seeds))
	for _, seed := range s.cfg.Seeds {
		seeds[strings.TrimRight(seed, "/")] = struct{}{}
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, p := range s.peers {
		if _, isSeed := seeds[url]; isSeed {
			continue
		}
		evict := false
		if !p.leftAt.IsZero() && now.Sub(p.leftAt) > evictLeavingAfter {
			evict = true
		}
		if !p.lastSeen.IsZero() && now.Sub(p.lastSeen) > evictAfter {
			evict = true
		}
		if evict {
			delete(s.peers, url)
			logging.Info().Str("node_id", p.state.NodeID).Str("peer", url).Msg("cluster peer evicted")
		}
	}
}

// Nodes returns the cluster view: self first, then peers sorted by node id,
// each with its derived liveness status.
func (s *Service) Nodes() []models.NodeState {
	now := time.Now()
	out := []models.NodeState{s.Self()}

	s.mu.Lock()
	for _, p := range s.peers {
		if p.state.NodeID == "" {
			continue
		}
		state := p.state
		state.Status = s.statusOf(p, now)
		state.LastHeartbeat = p.lastSeen.UTC()
		out = append(out, state)
	}
	s.mu.Unlock()

	rest := out[1:]
	sort.Slice(rest, func(i, j int) bool { return rest[i].NodeID < rest[j].NodeID })
	return out
}

// Leave marks this node LEAVING and broadcasts one final heartbeat so peers
// evict it quickly.
func (s *Service) Leave() {
	s.mu.Lock()
	if s.leaving {
		s.mu.Unlock()
		return
	}
	s.leaving = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	for _, p := range s.peerList() {
		s.heartbeatPeer(ctx, p)
	}
	logging.Info().Str("node_id", s.cfg.NodeID).Msg("cluster leave broadcast")
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/dgfacade/dgfacade/internal/channel"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// Supervisor is where running ingesters are parked. Satisfied by
// *suture.Supervisor.
type Supervisor interface {
	Add(svc suture.Service) suture.ServiceToken
	Remove(token suture.ServiceToken) error
}

// Manager starts and stops ingesters against the ingester registry and
// exposes their stats and the manual submission path.
type Manager struct {
	store    *config.IngesterStore
	accessor *channel.Accessor
	submit   Submitter
	sup      Supervisor

	mu      sync.Mutex
	running map[string]*managed
}

type managed struct {
	ing   *Ingester
	token suture.ServiceToken
}

// NewManager creates the ingester manager.
func NewManager(store *config.IngesterStore, accessor *channel.Accessor, submit Submitter, sup Supervisor) *Manager {
	return &Manager{
		store:    store,
		accessor: accessor,
		submit:   submit,
		sup:      sup,
		running:  map[string]*managed{},
	}
}

// StartAll starts every enabled ingester in the registry.
func (m *Manager) StartAll() {
	for id, cfg := range m.store.All() {
		if !cfg.Enabled {
			continue
		}
		if err := m.Start(id); err != nil {
			logging.Err(err).Str("ingester_id", id).Msg("ingester start failed")
		}
	}
}

// Start activates one ingester by registry id.
func (m *Manager) Start(id string) error {
	cfg, ok := m.store.Get(id)
	if !ok {
		return fmt.Errorf("ingest: unknown ingester %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.running[id]; exists {
		return fmt.Errorf("ingest: ingester %q already running", id)
	}

	ing := NewIngester(id, cfg, m.accessor, m.submit)
	m.running[id] = &managed{ing: ing, token: m.sup.Add(ing)}
	return nil
}

// Stop deactivates one ingester and drops its caller-scoped channel adapter
// so a restart reconnects fresh.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	entry, ok := m.running[id]
	if ok {
		delete(m.running, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("ingest: ingester %q is not running", id)
	}

	if err := m.sup.Remove(entry.token); err != nil {
		return fmt.Errorf("ingest: stop %q: %w", id, err)
	}
	logging.Info().Str("ingester_id", id).Msg("ingester stopped")
	return nil
}

// Running reports whether an ingester is active.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

// Stats returns a snapshot per registry ingester, running or not, sorted by
// id.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	active := make(map[string]*Ingester, len(m.running))
	for id, entry := range m.running {
		active[id] = entry.ing
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(active))
	for id, cfg := range m.store.All() {
		if ing, ok := active[id]; ok {
			out = append(out, ing.Stats())
			continue
		}
		out = append(out, Stats{ID: id, InputChannel: cfg.InputChannel})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SubmitManual dispatches a hand-delivered request through the same path as
// channel-ingested ones, stamped with the MANUAL source.
func (m *Manager) SubmitManual(ctx context.Context, req *models.Request) *models.Response {
	req.Source = models.SourceManual
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	return m.submit.Dispatch(ctx, req)
}

// StopAll deactivates every running ingester.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			logging.Err(err).Str("ingester_id", id).Msg("ingester stop failed")
		}
	}
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/metrics"
)

// ReloadCallback rebuilds a registry from disk. A returned error leaves the
// previous catalogue installed; the reloader only logs it.
type ReloadCallback func() error

// registration is one watched directory.
type registration struct {
	name        string
	dir         string
	callback    ReloadCallback
	fingerprint string
}

// Reloader watches registered directories and invokes the registry's reload
// callback when a directory fingerprint changes. One scheduler goroutine
// sweeps all registrations every interval; it implements suture.Service via
// Serve.
type Reloader struct {
	interval time.Duration

	mu            sync.Mutex
	registrations []*registration
}

// NewReloader creates a reloader sweeping every interval.
func NewReloader(interval time.Duration) *Reloader {
	return &Reloader{interval: interval}
}

// Register adds a directory watch. The initial fingerprint is taken
// immediately so the first sweep does not fire a spurious reload.
func (r *Reloader) Register(name, dir string, cb ReloadCallback) {
	reg := &registration{name: name, dir: dir, callback: cb}
	reg.fingerprint = directoryFingerprint(dir)
	r.mu.Lock()
	r.registrations = append(r.registrations, reg)
	r.mu.Unlock()
}

// Serve runs the sweep loop until the context is canceled.
func (r *Reloader) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", r.interval).Msg("config auto-reload started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("config auto-reload stopped")
			return ctx.Err()
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep fingerprints every registered directory and reloads the changed ones.
func (r *Reloader) sweep() {
	r.mu.Lock()
	regs := append([]*registration(nil), r.registrations...)
	r.mu.Unlock()

	for _, reg := range regs {
		fp := directoryFingerprint(reg.dir)
		if fp == reg.fingerprint {
			continue
		}
		logging.Info().Str("registry", reg.name).Str("dir", reg.dir).Msg("registry fingerprint changed, reloading")
		if err := reg.callback(); err != nil {
			logging.Error().Err(err).Str("registry", reg.name).Msg("registry reload failed, previous config retained")
			metrics.ConfigReloads.WithLabelValues(reg.name, "failed").Inc()
			continue
		}
		reg.fingerprint = fp
		metrics.ConfigReloads.WithLabelValues(reg.name, "fingerprint").Inc()
	}
}

// ForceReload reloads one registry by name, or every registry when name is
// empty, ignoring fingerprints.
func (r *Reloader) ForceReload(name string) error {
	r.mu.Lock()
	regs := append([]*registration(nil), r.registrations...)
	r.mu.Unlock()

	found := false
	for _, reg := range regs {
		if name != "" && reg.name != name {
			continue
		}
		found = true
		if err := reg.callback(); err != nil {
			return fmt.Errorf("reload %s: %w", reg.name, err)
		}
		reg.fingerprint = directoryFingerprint(reg.dir)
		metrics.ConfigReloads.WithLabelValues(reg.name, "forced").Inc()
	}
	if name != "" && !found {
		return fmt.Errorf("no registry named %q", name)
	}
	return nil
}

// Names returns the registered registry names, sorted.
func (r *Reloader) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.registrations))
	for _, reg := range r.registrations {
		names = append(names, reg.name)
	}
	sort.Strings(names)
	return names
}

// directoryFingerprint computes a cheap deterministic hash over the
// directory's file metadata: count, names, sizes and modification times.
// Content is deliberately not read; external edits always touch mtime.
func directoryFingerprint(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "absent"
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	h := sha256.New()
	fmt.Fprintf(h, "count=%d;", len(names))
	for _, name := range names {
		info, err := os.Stat(dir + string(os.PathSeparator) + name)
		if err != nil {
			continue
		}
		fmt.Fprintf(h, "%s|%d|%d;", name, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}

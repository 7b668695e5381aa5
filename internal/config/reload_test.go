// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDirectoryFingerprintChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{}`)
	fp1 := directoryFingerprint(dir)

	if fp2 := directoryFingerprint(dir); fp2 != fp1 {
		t.Error("fingerprint not stable for unchanged directory")
	}

	writeFile(t, filepath.Join(dir, "b.json"), `{}`)
	if fp2 := directoryFingerprint(dir); fp2 == fp1 {
		t.Error("fingerprint unchanged after adding a file")
	}

	if err := os.Remove(filepath.Join(dir, "a.json")); err != nil {
		t.Fatal(err)
	}
	if fp2 := directoryFingerprint(dir); fp2 == fp1 {
		t.Error("fingerprint unchanged after removing a file")
	}

	if fp := directoryFingerprint(filepath.Join(dir, "missing")); fp != "absent" {
		t.Errorf("missing dir fingerprint = %q", fp)
	}
}

func TestReloaderSweepFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{}`)

	var calls atomic.Int64
	r := NewReloader(10 * time.Millisecond)
	r.Register("test", dir, func() error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Serve(ctx) }()

	// Unchanged directory: no reloads.
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("spurious reloads = %d", calls.Load())
	}

	writeFile(t, filepath.Join(dir, "b.json"), `{}`)
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("reload never fired after directory change")
	}
}

func TestReloaderFailedReloadRetries(t *testing.T) {
	dir := t.TempDir()

	var calls atomic.Int64
	r := NewReloader(time.Hour)
	r.Register("test", dir, func() error {
		calls.Add(1)
		return errors.New("bad registry")
	})

	writeFile(t, filepath.Join(dir, "a.json"), `{}`)
	r.sweep()
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
	// The fingerprint must not advance on failure, so the next sweep retries.
	r.sweep()
	if calls.Load() != 2 {
		t.Errorf("failed reload was not retried, calls = %d", calls.Load())
	}
}

func TestForceReload(t *testing.T) {
	var a, b atomic.Int64
	r := NewReloader(time.Hour)
	r.Register("alpha", t.TempDir(), func() error { a.Add(1); return nil })
	r.Register("beta", t.TempDir(), func() error { b.Add(1); return nil })

	if err := r.ForceReload("alpha"); err != nil {
		t.Fatal(err)
	}
	if a.Load() != 1 || b.Load() != 0 {
		t.Errorf("calls = %d/%d", a.Load(), b.Load())
	}

	if err := r.ForceReload(""); err != nil {
		t.Fatal(err)
	}
	if a.Load() != 2 || b.Load() != 1 {
		t.Errorf("calls after reload-all = %d/%d", a.Load(), b.Load())
	}

	if err := r.ForceReload("nope"); err == nil {
		t.Error("unknown registry reloaded")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("names = %v", names)
	}
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingService counts its starts and blocks until canceled, optionally
// failing the first few runs.
type countingService struct {
	starts    atomic.Int64
	failFirst int64
}

func (s *countingService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	if n <= s.failFirst {
		return errors.New("induced failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{FailureBackoff: 20 * time.Millisecond, ShutdownTimeout: time.Second})
	core := &countingService{}
	msg := &countingService{}
	apiSvc := &countingService{}
	tree.AddCoreService(core)
	tree.AddMessagingService(msg)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if core.starts.Load() == 1 && msg.starts.Load() == 1 && apiSvc.starts.Load() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if core.starts.Load() != 1 || msg.starts.Load() != 1 || apiSvc.starts.Load() != 1 {
		t.Fatalf("starts = %d/%d/%d", core.starts.Load(), msg.starts.Load(), apiSvc.starts.Load())
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{FailureBackoff: 20 * time.Millisecond, ShutdownTimeout: time.Second})
	svc := &countingService{failFirst: 2}
	tree.AddMessagingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for svc.starts.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.starts.Load() < 3 {
		t.Fatalf("starts = %d, want >= 3 (two failures then steady state)", svc.starts.Load())
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

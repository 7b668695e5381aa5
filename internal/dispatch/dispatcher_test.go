// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgfacade/dgfacade/internal/auth"
	"github.com/dgfacade/dgfacade/internal/broker"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/engine"
	"github.com/dgfacade/dgfacade/internal/handlers"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
	"github.com/dgfacade/dgfacade/internal/streaming"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

const defaultCatalogue = `{
	"arithmetic": {"handler_class": "arithmetic", "enabled": true},
	"echo":       {"handler_class": "echo", "enabled": true},
	"market_data": {"handler_class": "market_data", "enabled": true, "ttl_minutes": 5},
	"sleep":      {"handler_class": "sleep", "enabled": true},
	"disabled":   {"handler_class": "echo", "enabled": false},
	"foreign":    {"handler_class": "risk_model", "enabled": true, "is_python": true}
}`

type socketSink struct {
	mu     sync.Mutex
	frames []*models.Response
	ended  []*models.Response
}

func (s *socketSink) PublishToSession(_ string, resp *models.Response) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, resp)
	return true
}

func (s *socketSink) EndSession(_ string, final *models.Response) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, final)
	return true
}

func (s *socketSink) endedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ended)
}

type noopPublishers struct{}

func (noopPublishers) Publisher(string) (broker.Publisher, *config.ResolvedChannel, error) {
	return nil, nil, errors.New("no publishers in test")
}

func catalogueStore(t *testing.T) *config.HandlerStore {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.json"), []byte(defaultCatalogue), 0o644); err != nil {
		t.Fatal(err)
	}
	store := config.NewHandlerStore(dir)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	return store
}

func emptyCredentials(t *testing.T) *config.CredentialStore {
	t.Helper()
	dir := t.TempDir()
	store := config.NewCredentialStore(filepath.Join(dir, "users.json"), filepath.Join(dir, "apikeys.json"))
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestDispatcher(t *testing.T, fwd Forwarder) (*Dispatcher, *socketSink, *streaming.Manager) {
	t.Helper()
	authsvc := auth.NewService(config.AuthConfig{Enabled: false}, emptyCredentials(t))
	registry := handlers.NewRegistry(nil)
	eng := engine.New(registry, engine.Options{ShutdownGrace: time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	sockets := &socketSink{}
	sessions := streaming.NewManager(streaming.Options{}, sockets, noopPublishers{}, config.NewChannelStore(t.TempDir()))
	sessions.SetCanceller(eng)

	d := New(authsvc, catalogueStore(t), registry, eng, sessions, fwd)
	return d, sockets, sessions
}

func TestDispatchOneShot(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), &models.Request{
		RequestType: "arithmetic",
		Payload:     map[string]interface{}{"operation": "MULTIPLY", "operands": []interface{}{6.0, 7.0}},
	})
	if resp.Status != models.StatusSuccess {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Result["result"].(float64) != 42 {
		t.Errorf("result = %v", resp.Result)
	}
	if resp.HandlerType != "arithmetic" || resp.RequestID == "" {
		t.Errorf("stamps = %+v", resp)
	}
	if d.TotalRequests() != 1 {
		t.Errorf("total = %d", d.TotalRequests())
	}
}

func TestDispatchValidation(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), &models.Request{})
	kind, _ := resp.Kind()
	if kind != models.ErrInvalidRequest {
		t.Errorf("kind = %s", kind)
	}
}

func TestDispatchUnknownAndDisabledTypes(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	for _, reqType := range []string{"NOPE", "DISABLED"} {
		resp := d.Dispatch(context.Background(), &models.Request{RequestType: reqType})
		kind, _ := resp.Kind()
		if kind != models.ErrHandlerNotFound {
			t.Errorf("%s: kind = %s", reqType, kind)
		}
	}
}

func TestDispatchForeignWithoutInvoker(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), &models.Request{RequestType: "FOREIGN"})
	kind, _ := resp.Kind()
	if kind != models.ErrConfigError {
		t.Errorf("kind = %s", kind)
	}
}

func TestDispatchAuthFailure(t *testing.T) {
	authsvc := auth.NewService(config.AuthConfig{Enabled: true}, emptyCredentials(t))
	registry := handlers.NewRegistry(nil)
	eng := engine.New(registry, engine.Options{})
	sessions := streaming.NewManager(streaming.Options{}, &socketSink{}, noopPublishers{}, config.NewChannelStore(t.TempDir()))
	d := New(authsvc, catalogueStore(t), registry, eng, sessions, nil)

	resp := d.Dispatch(context.Background(), &models.Request{RequestType: "ECHO"})
	kind, _ := resp.Kind()
	if kind != models.ErrAuthFailed {
		t.Errorf("kind = %s", kind)
	}
}

func TestDispatchStreaming(t *testing.T) {
	d, sockets, sessions := newTestDispatcher(t, nil)
	ack := d.Dispatch(context.Background(), &models.Request{
		RequestType:      "market_data",
		Streaming:        true,
		ResponseChannels: []models.ChannelType{models.ChannelWebSocket},
		Payload: map[string]interface{}{
			"symbols":     []interface{}{"AAA"},
			"interval_ms": float64(5),
			"count":       float64(3),
		},
	})
	if ack.Status != models.StatusStreamingStarted || ack.SessionID == "" {
		t.Fatalf("ack = %+v", ack)
	}

	// The execution emits three quotes and completes, which tears the
	// session down with a STREAMING_ENDED notice.
	deadline := time.Now().Add(5 * time.Second)
	for sockets.endedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sockets.endedCount() != 1 {
		t.Fatal("session did not end")
	}
	sockets.mu.Lock()
	frames := len(sockets.frames)
	sockets.mu.Unlock()
	if frames != 3 {
		t.Errorf("streamed frames = %d, want 3", frames)
	}

	info, ok := sessions.Get(ack.SessionID)
	if !ok || info.Status != models.SessionEnded {
		t.Errorf("session = %+v ok=%v", info, ok)
	}
}

func TestDispatchStreamingOnOneShotHandler(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), &models.Request{
		RequestType:      "echo",
		Streaming:        true,
		ResponseChannels: []models.ChannelType{models.ChannelWebSocket},
	})
	kind, _ := resp.Kind()
	if kind != models.ErrInvalidRequest {
		t.Errorf("kind = %s, resp = %+v", kind, resp)
	}
}

type stubForwarder struct {
	resp *models.Response
	err  error
	seen []*models.Request
}

func (f *stubForwarder) ShouldForward() bool { return true }
func (f *stubForwarder) Forward(_ context.Context, req *models.Request) (*models.Response, error) {
	f.seen = append(f.seen, req)
	return f.resp, f.err
}

func TestDispatchForwardsWhenGatewayOnly(t *testing.T) {
	fwd := &stubForwarder{resp: &models.Response{RequestID: "fwd", Status: models.StatusSuccess}}
	d, _, _ := newTestDispatcher(t, fwd)

	resp := d.Dispatch(context.Background(), &models.Request{RequestType: "ECHO"})
	if resp.Status != models.StatusSuccess || len(fwd.seen) != 1 {
		t.Errorf("resp = %+v forwarded = %d", resp, len(fwd.seen))
	}
}

func TestDispatchForwardFailure(t *testing.T) {
	fwd := &stubForwarder{err: errors.New("all peers down")}
	d, _, _ := newTestDispatcher(t, fwd)

	resp := d.Dispatch(context.Background(), &models.Request{RequestType: "ECHO"})
	kind, _ := resp.Kind()
	if kind != models.ErrClusterForwardFailed {
		t.Errorf("kind = %s", kind)
	}
}

func TestDispatchWaitCancelled(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp := d.Dispatch(ctx, &models.Request{
		RequestType: "sleep",
		Payload:     map[string]interface{}{"duration_seconds": float64(30)},
	})
	if resp.Status != models.StatusError {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Message == "" {
		t.Error("caller should be told the execution is still running")
	}
}

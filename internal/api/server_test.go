// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"github.com/dgfacade/dgfacade/internal/auth"
	"github.com/dgfacade/dgfacade/internal/channel"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/dispatch"
	"github.com/dgfacade/dgfacade/internal/engine"
	"github.com/dgfacade/dgfacade/internal/handlers"
	"github.com/dgfacade/dgfacade/internal/ingest"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
	"github.com/dgfacade/dgfacade/internal/streaming"
	"github.com/dgfacade/dgfacade/internal/websocket"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newTestServer wires a full in-process gateway over temp registries.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "handlers", "default.json"), `{
		"arithmetic": {"handler_class": "arithmetic", "enabled": true},
		"echo":       {"handler_class": "echo", "enabled": true}
	}`)

	catalog := config.NewHandlerStore(filepath.Join(root, "handlers"))
	if err := catalog.Load(); err != nil {
		t.Fatal(err)
	}
	brokers := config.NewBrokerStore(filepath.Join(root, "brokers"))
	channels := config.NewChannelStore(filepath.Join(root, "output-channels"))
	ingesters := config.NewIngesterStore(filepath.Join(root, "ingesters"))
	creds := config.NewCredentialStore(filepath.Join(root, "users.json"), filepath.Join(root, "apikeys.json"))
	if err := creds.Load(); err != nil {
		t.Fatal(err)
	}

	accessor := channel.NewAccessor(channels, brokers)
	registry := handlers.NewRegistry(accessor)
	eng := engine.New(registry, engine.Options{ShutdownGrace: time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	hub := websocket.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(hubCtx) }()
	t.Cleanup(hubCancel)

	sessions := streaming.NewManager(streaming.Options{}, hub, accessor, channels)
	sessions.SetCanceller(eng)

	authsvc := auth.NewService(config.AuthConfig{Enabled: false}, creds)
	dispatcher := dispatch.New(authsvc, catalog, registry, eng, sessions, nil)

	sup := suture.NewSimple("test")
	supCtx, supCancel := context.WithCancel(context.Background())
	go func() { _ = sup.Serve(supCtx) }()
	t.Cleanup(supCancel)
	ingestMgr := ingest.NewManager(ingesters, accessor, dispatcher, sup)

	reloader := config.NewReloader(time.Hour)
	reloader.Register("handlers", filepath.Join(root, "handlers"), catalog.Load)

	cfg := &config.Config{}
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.Server.RateLimitReqs = 0

	srv := NewServer(cfg, dispatcher, eng, sessions, hub, ingestMgr, accessor, reloader, nil, catalog)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeResponse(t *testing.T, r *http.Response) *models.Response {
	t.Helper()
	defer r.Body.Close()
	out := &models.Response{}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSubmitRequest(t *testing.T) {
	ts := newTestServer(t)
	httpResp := postJSON(t, ts.URL+"/api/v1/requests", models.Request{
		RequestType: "arithmetic",
		Payload:     map[string]interface{}{"operation": "ADD", "operands": []interface{}{2.0, 3.0}},
	})
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", httpResp.StatusCode)
	}
	resp := decodeResponse(t, httpResp)
	if resp.Status != models.StatusSuccess || resp.Result["result"].(float64) != 5 {
		t.Errorf("response = %+v", resp)
	}
}

func TestSubmitRequestErrors(t *testing.T) {
	ts := newTestServer(t)

	r, err := http.Post(ts.URL+"/api/v1/requests", "application/json", bytes.NewReader([]byte("{broken")))
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", r.StatusCode)
	}

	r = postJSON(t, ts.URL+"/api/v1/requests", models.Request{RequestType: "UNKNOWN"})
	if r.StatusCode != http.StatusNotFound {
		t.Errorf("unknown type status = %d", r.StatusCode)
	}
	resp := decodeResponse(t, r)
	if kind, _ := resp.Kind(); kind != models.ErrHandlerNotFound {
		t.Errorf("kind = %s", kind)
	}
}

func TestExecutionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	resp := decodeResponse(t, postJSON(t, ts.URL+"/api/v1/requests", models.Request{
		RequestID:   "exec-api-1",
		RequestType: "echo",
		Payload:     map[string]interface{}{"message": "hi"},
	}))
	if resp.Status != models.StatusSuccess {
		t.Fatalf("response = %+v", resp)
	}

	r, err := http.Get(ts.URL + "/api/v1/executions/exec-api-1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d", r.StatusCode)
	}
	var wrapped struct {
		Success bool                `json:"success"`
		Data    models.HandlerState `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&wrapped); err != nil {
		t.Fatal(err)
	}
	if !wrapped.Success || wrapped.Data.RequestID != "exec-api-1" {
		t.Errorf("state = %+v", wrapped)
	}

	r2, err := http.Get(ts.URL + "/api/v1/executions/nope")
	if err != nil {
		t.Fatal(err)
	}
	r2.Body.Close()
	if r2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown execution status = %d", r2.StatusCode)
	}
}

func TestHealthAndAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	paths := map[string]int{
		"/healthz":                         http.StatusOK,
		"/metrics":                         http.StatusOK,
		"/api/v1/executions/recent":        http.StatusOK,
		"/api/v1/executions/active":        http.StatusOK,
		"/api/v1/sessions":                 http.StatusOK,
		"/api/v1/channels":                 http.StatusOK,
		"/api/v1/ingesters":                http.StatusOK,
		"/api/v1/handlers":                 http.StatusOK,
		"/api/v1/stream/nope/messages":     http.StatusNotFound,
		"/api/v1/sessions/nope":            http.StatusNotFound,
		"/api/v1/cluster/nodes":            http.StatusServiceUnavailable,
	}
	for path, want := range paths {
		r, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		r.Body.Close()
		if r.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", path, r.StatusCode, want)
		}
	}
}

func TestConfigReload(t *testing.T) {
	ts := newTestServer(t)
	r, err := http.Post(ts.URL+"/api/v1/config/reload", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Errorf("reload status = %d", r.StatusCode)
	}

	r, err = http.Post(ts.URL+"/api/v1/config/reload?registry=nope", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown registry status = %d", r.StatusCode)
	}
}

func TestClusterEndpointsDisabled(t *testing.T) {
	ts := newTestServer(t)
	r := postJSON(t, ts.URL+"/api/v1/cluster/heartbeat", models.NodeState{NodeID: "x"})
	r.Body.Close()
	if r.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("heartbeat status = %d", r.StatusCode)
	}
	r = postJSON(t, ts.URL+"/api/v1/cluster/forward", models.ForwardEnvelope{Request: &models.Request{RequestType: "ECHO"}})
	r.Body.Close()
	if r.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("forward status = %d", r.StatusCode)
	}
}

func TestManualIngest(t *testing.T) {
	ts := newTestServer(t)
	resp := decodeResponse(t, postJSON(t, ts.URL+"/api/v1/ingest", models.Request{
		RequestType: "echo",
		Payload:     map[string]interface{}{"message": "manual"},
	}))
	if resp.Status != models.StatusSuccess {
		t.Fatalf("response = %+v", resp)
	}
	echo, ok := resp.Result["echo"].(map[string]interface{})
	if !ok || echo["message"] != "manual" {
		t.Errorf("echo = %v", resp.Result["echo"])
	}
}

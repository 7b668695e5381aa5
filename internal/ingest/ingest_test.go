// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/thejerf/suture/v4"

	"github.com/dgfacade/dgfacade/internal/broker"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

type scriptedSubmitter struct {
	mu       sync.Mutex
	requests []*models.Request
	resp     *models.Response
}

func (s *scriptedSubmitter) Dispatch(_ context.Context, req *models.Request) *models.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	resp := s.resp
	if resp == nil {
		resp = models.NewSuccessResponse(req.RequestID, nil)
	}
	return resp
}

func newTestIngester(submit Submitter) *Ingester {
	return NewIngester("ing-1", &models.IngesterConfig{InputChannel: "chan-a", Enabled: true}, nil, submit)
}

func TestListenerDispatchesDecodedRequest(t *testing.T) {
	submit := &scriptedSubmitter{}
	ing := newTestIngester(submit)
	listener := ing.listener(models.SourceKafka)

	env := models.NewEnvelope("requests", `{"request_id": "r1", "request_type": "arithmetic", "payload": {"operation": "ADD"}}`)
	if err := listener(env); err != nil {
		t.Fatal(err)
	}

	if len(submit.requests) != 1 {
		t.Fatalf("dispatched = %d", len(submit.requests))
	}
	req := submit.requests[0]
	if req.RequestID != "r1" || req.Source != models.SourceKafka {
		t.Errorf("request = %+v", req)
	}

	st := ing.Stats()
	if st.Received != 1 || st.Submitted != 1 || st.Rejected != 0 || st.Failed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestListenerRejectsUndecodablePayload(t *testing.T) {
	submit := &scriptedSubmitter{}
	ing := newTestIngester(submit)
	listener := ing.listener(models.SourceRabbitMQ)

	for _, payload := range []string{"not json", `{"payload": {}}`} {
		if err := listener(models.NewEnvelope("requests", payload)); err != nil {
			t.Fatal(err)
		}
	}

	if len(submit.requests) != 0 {
		t.Errorf("dispatched = %d, want 0", len(submit.requests))
	}
	st := ing.Stats()
	if st.Received != 2 || st.Rejected != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestTrackClassifiesOutcomes(t *testing.T) {
	cases := []struct {
		name string
		resp *models.Response
		want func(Stats) bool
	}{
		{"success", models.NewSuccessResponse("r", nil),
			func(s Stats) bool { return s.Submitted == 1 }},
		{"streaming ack", &models.Response{Status: models.StatusStreamingStarted},
			func(s Stats) bool { return s.Submitted == 1 }},
		{"auth failure", models.NewErrorResponse("r", models.ErrAuthFailed, "no"),
			func(s Stats) bool { return s.Rejected == 1 }},
		{"unknown type", models.NewErrorResponse("r", models.ErrHandlerNotFound, "no"),
			func(s Stats) bool { return s.Rejected == 1 }},
		{"handler failure", models.NewErrorResponse("r", models.ErrHandlerFailure, "boom"),
			func(s Stats) bool { return s.Failed == 1 }},
		{"nil response", nil,
			func(s Stats) bool { return s.Failed == 1 }},
	}
	for _, tc := range cases {
		ing := newTestIngester(&scriptedSubmitter{})
		ing.track(tc.resp)
		if !tc.want(ing.Stats()) {
			t.Errorf("%s: stats = %+v", tc.name, ing.Stats())
		}
	}
}

func TestSourceForType(t *testing.T) {
	cases := map[string]models.RequestSource{
		broker.TypeKafka:          models.SourceKafka,
		broker.TypeConfluentKafka: models.SourceKafka,
		broker.TypeActiveMQ:       models.SourceActiveMQ,
		broker.TypeRabbitMQ:       models.SourceRabbitMQ,
		broker.TypeIBMMQ:          models.SourceIBMMQ,
		broker.TypeNATS:           models.SourceNATS,
		broker.TypeFilesystem:     models.SourceFilesystem,
		broker.TypeSQL:            models.SourceSQL,
	}
	for brokerType, want := range cases {
		if got := sourceForType(brokerType); got != want {
			t.Errorf("sourceForType(%s) = %s, want %s", brokerType, got, want)
		}
	}
}

type fakeSupervisor struct {
	mu      sync.Mutex
	added   int
	removed int
}

func (f *fakeSupervisor) Add(suture.Service) suture.ServiceToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added++
	return suture.ServiceToken{}
}

func (f *fakeSupervisor) Remove(suture.ServiceToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func testStore(t *testing.T) *config.IngesterStore {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"orders.json":   `{"input_channel": "chan-orders", "enabled": true}`,
		"disabled.json": `{"input_channel": "chan-x", "enabled": false}`,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store := config.NewIngesterStore(dir)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestManagerLifecycle(t *testing.T) {
	sup := &fakeSupervisor{}
	m := NewManager(testStore(t), nil, &scriptedSubmitter{}, sup)

	m.StartAll()
	if sup.added != 1 {
		t.Errorf("added = %d, want 1 (disabled ingester skipped)", sup.added)
	}
	if !m.Running("orders") || m.Running("disabled") {
		t.Error("running set wrong")
	}
	if err := m.Start("orders"); err == nil {
		t.Error("double start should error")
	}
	if err := m.Start("nope"); err == nil {
		t.Error("unknown ingester should error")
	}

	stats := m.Stats()
	if len(stats) != 2 {
		t.Fatalf("stats = %d entries", len(stats))
	}
	if stats[0].ID != "disabled" || stats[0].Running {
		t.Errorf("stats[0] = %+v", stats[0])
	}
	if stats[1].ID != "orders" {
		t.Errorf("stats[1] = %+v", stats[1])
	}

	if err := m.Stop("orders"); err != nil {
		t.Fatal(err)
	}
	if sup.removed != 1 || m.Running("orders") {
		t.Error("stop did not remove the service")
	}
	if err := m.Stop("orders"); err == nil {
		t.Error("double stop should error")
	}
}

func TestSubmitManualStampsSource(t *testing.T) {
	submit := &scriptedSubmitter{}
	m := NewManager(testStore(t), nil, submit, &fakeSupervisor{})

	resp := m.SubmitManual(context.Background(), &models.Request{RequestID: "m1", RequestType: "ECHO"})
	if resp.Status != models.StatusSuccess {
		t.Errorf("status = %s", resp.Status)
	}
	if submit.requests[0].Source != models.SourceManual {
		t.Errorf("source = %s", submit.requests[0].Source)
	}
}

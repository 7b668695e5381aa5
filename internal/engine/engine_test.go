// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

// stubRegistry maps handler classes to instance factories.
type stubRegistry map[string]func() interface{}

func (r stubRegistry) Create(handlerClass string) (interface{}, error) {
	f, ok := r[handlerClass]
	if !ok {
		return nil, fmt.Errorf("no such class %q", handlerClass)
	}
	return f(), nil
}

func testConfig(class string) *models.HandlerConfig {
	return &models.HandlerConfig{RequestType: "TEST", HandlerClass: class, Enabled: true}
}

func testRequest(id string) *models.Request {
	return &models.Request{RequestID: id, RequestType: "TEST", Payload: map[string]interface{}{}}
}

// echoHandler returns its payload.
type echoHandler struct{}

func (h *echoHandler) Execute(_ context.Context, req *models.Request) (map[string]interface{}, error) {
	return map[string]interface{}{"echo": req.Payload}, nil
}

// failingHandler always errors.
type failingHandler struct{}

func (h *failingHandler) Execute(context.Context, *models.Request) (map[string]interface{}, error) {
	return nil, errors.New("boom")
}

// panickingHandler always panics.
type panickingHandler struct{}

func (h *panickingHandler) Execute(context.Context, *models.Request) (map[string]interface{}, error) {
	panic("handler bug")
}

// sleeperHandler blocks until its context is cancelled. TTL() makes the
// timeout path testable without minute-scale waits.
type sleeperHandler struct {
	ttl      time.Duration
	cleanups atomic.Int32
	stops    atomic.Int32
}

func (h *sleeperHandler) Execute(ctx context.Context, _ *models.Request) (map[string]interface{}, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *sleeperHandler) TTL() time.Duration { return h.ttl }
func (h *sleeperHandler) Stop()              { h.stops.Add(1) }
func (h *sleeperHandler) Cleanup()           { h.cleanups.Add(1) }

func newEngine(reg Registry) *Engine {
	return New(reg, Options{RecentStates: 16, ShutdownGrace: 200 * time.Millisecond})
}

func wait(t *testing.T, f *Future) *models.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("future did not resolve: %v", err)
	}
	return resp
}

func TestSubmitSuccess(t *testing.T) {
	e := newEngine(stubRegistry{"echo": func() interface{} { return &echoHandler{} }})
	req := testRequest("r1")
	req.Payload["n"] = 7

	f, err := e.Submit(req, testConfig("echo"), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := wait(t, f)

	if resp.Status != models.StatusSuccess {
		t.Errorf("Status = %v", resp.Status)
	}
	if resp.RequestID != "r1" || resp.HandlerType != "echo" || resp.HandlerID == "" {
		t.Errorf("stamps missing: %+v", resp)
	}
	if resp.ExecutionTimeMs < 0 {
		t.Errorf("ExecutionTimeMs = %d", resp.ExecutionTimeMs)
	}

	state, ok := e.State("r1")
	if !ok {
		t.Fatal("terminal state not retained")
	}
	if state.Phase != models.PhaseStopped || !state.Success {
		t.Errorf("state = %+v", state)
	}
	if state.ResponseSnapshot == "" {
		t.Error("response snapshot not recorded")
	}
}

func TestSubmitUnknownClass(t *testing.T) {
	e := newEngine(stubRegistry{})
	_, err := e.Submit(testRequest("r1"), testConfig("nope"), nil)
	if !errors.Is(err, ErrUnknownHandlerClass) {
		t.Errorf("err = %v, want ErrUnknownHandlerClass", err)
	}

	// The rejection must still be explainable through the state API.
	state, ok := e.State("r1")
	if !ok {
		t.Fatal("rejected request left no terminal state")
	}
	if state.Phase != models.PhaseFailed || state.ErrorMsg == "" {
		t.Errorf("state = %+v", state)
	}
}

func TestHandlerError(t *testing.T) {
	e := newEngine(stubRegistry{"fail": func() interface{} { return &failingHandler{} }})
	f, err := e.Submit(testRequest("r1"), testConfig("fail"), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := wait(t, f)

	if resp.Status != models.StatusError {
		t.Errorf("Status = %v", resp.Status)
	}
	if kind, _ := resp.Kind(); kind != models.ErrHandlerFailure {
		t.Errorf("error kind = %v", kind)
	}
	state, _ := e.State("r1")
	if state.Phase != models.PhaseFailed {
		t.Errorf("phase = %v", state.Phase)
	}
}

func TestHandlerPanicContained(t *testing.T) {
	e := newEngine(stubRegistry{"panic": func() interface{} { return &panickingHandler{} }})
	f, err := e.Submit(testRequest("r1"), testConfig("panic"), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := wait(t, f)

	if resp.Status != models.StatusError {
		t.Errorf("Status = %v", resp.Status)
	}
	state, _ := e.State("r1")
	if state.Phase != models.PhaseFailed {
		t.Errorf("phase = %v", state.Phase)
	}
	if state.Stack == "" {
		t.Error("panic stack not recorded")
	}
}

func TestTTLExceeded(t *testing.T) {
	h := &sleeperHandler{ttl: 50 * time.Millisecond}
	e := newEngine(stubRegistry{"sleep": func() interface{} { return h }})
	f, err := e.Submit(testRequest("r1"), testConfig("sleep"), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := wait(t, f)

	if resp.Status != models.StatusTimeout {
		t.Errorf("Status = %v", resp.Status)
	}
	if kind, _ := resp.Kind(); kind != models.ErrTTLExceeded {
		t.Errorf("error kind = %v", kind)
	}
	if h.stops.Load() != 1 {
		t.Errorf("stop hook calls = %d, want 1", h.stops.Load())
	}
	state, _ := e.State("r1")
	if state.Phase != models.PhaseTimedOut {
		t.Errorf("phase = %v", state.Phase)
	}
}

// hangingConstructor blocks in its construction hook until released.
type hangingConstructor struct {
	ttl     time.Duration
	release chan struct{}
	stops   atomic.Int32
}

func (h *hangingConstructor) Construct(map[string]interface{}, *models.Request) error {
	<-h.release
	return nil
}

func (h *hangingConstructor) Execute(context.Context, *models.Request) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (h *hangingConstructor) TTL() time.Duration { return h.ttl }
func (h *hangingConstructor) Stop()              { h.stops.Add(1) }

func TestTTLBoundsConstruction(t *testing.T) {
	h := &hangingConstructor{ttl: 50 * time.Millisecond, release: make(chan struct{})}
	t.Cleanup(func() { close(h.release) })
	e := newEngine(stubRegistry{"slowinit": func() interface{} { return h }})

	f, err := e.Submit(testRequest("r1"), testConfig("slowinit"), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := wait(t, f)

	if resp.Status != models.StatusTimeout {
		t.Errorf("Status = %v", resp.Status)
	}
	if h.stops.Load() != 1 {
		t.Errorf("stop hook calls = %d, want 1", h.stops.Load())
	}
	state, _ := e.State("r1")
	if state.Phase != models.PhaseTimedOut {
		t.Errorf("phase = %v", state.Phase)
	}
}

func TestCancelDuringConstruction(t *testing.T) {
	h := &hangingConstructor{ttl: time.Hour, release: make(chan struct{})}
	t.Cleanup(func() { close(h.release) })
	e := newEngine(stubRegistry{"slowinit": func() interface{} { return h }})

	f, err := e.Submit(testRequest("r1"), testConfig("slowinit"), nil)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for e.ActiveCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("execution never became active")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !e.Cancel("r1") {
		t.Fatal("Cancel returned false for constructing execution")
	}
	resp := wait(t, f)

	if resp.Status != models.StatusError || resp.Result["cancelled"] != true {
		t.Errorf("response = %+v", resp)
	}
	state, _ := e.State("r1")
	if state.Phase != models.PhaseStopped {
		t.Errorf("phase = %v", state.Phase)
	}
}

func TestCancel(t *testing.T) {
	h := &sleeperHandler{ttl: time.Hour}
	e := newEngine(stubRegistry{"sleep": func() interface{} { return h }})
	f, err := e.Submit(testRequest("r1"), testConfig("sleep"), nil)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for e.ActiveCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("execution never became active")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !e.Cancel("r1") {
		t.Fatal("Cancel returned false for live execution")
	}
	resp := wait(t, f)

	if resp.Status != models.StatusError {
		t.Errorf("Status = %v", resp.Status)
	}
	if resp.Result["cancelled"] != true {
		t.Errorf("Result = %v", resp.Result)
	}
	state, _ := e.State("r1")
	if state.Phase != models.PhaseStopped {
		t.Errorf("phase = %v", state.Phase)
	}
	if e.Cancel("r1") {
		t.Error("Cancel should return false after the execution finished")
	}
}

func TestCleanupExactlyOnce(t *testing.T) {
	h := &sleeperHandler{ttl: 50 * time.Millisecond}
	e := newEngine(stubRegistry{"sleep": func() interface{} { return h }})
	f, err := e.Submit(testRequest("r1"), testConfig("sleep"), nil)
	if err != nil {
		t.Fatal(err)
	}
	wait(t, f)

	// Give the abandoned handler goroutine time to return too.
	time.Sleep(100 * time.Millisecond)
	if got := h.cleanups.Load(); got != 1 {
		t.Errorf("cleanup calls = %d, want 1", got)
	}
}

// legacyHandler uses conventional method names instead of the interfaces.
type legacyHandler struct {
	constructed atomic.Bool
	closed      atomic.Bool
}

func (h *legacyHandler) Init(cfg map[string]interface{}) error {
	h.constructed.Store(true)
	return nil
}

func (h *legacyHandler) Process(req *models.Request) (map[string]interface{}, error) {
	return map[string]interface{}{"via": "process"}, nil
}

func (h *legacyHandler) Close() {
	h.closed.Store(true)
}

func TestDynamicAdaptation(t *testing.T) {
	h := &legacyHandler{}
	e := newEngine(stubRegistry{"legacy": func() interface{} { return h }})
	f, err := e.Submit(testRequest("r1"), testConfig("legacy"), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp := wait(t, f)

	if resp.Status != models.StatusSuccess {
		t.Fatalf("Status = %v (%s)", resp.Status, resp.Message)
	}
	if resp.Result["via"] != "process" {
		t.Errorf("Result = %v", resp.Result)
	}
	if !h.constructed.Load() {
		t.Error("Init was not bound as construction hook")
	}
	if !h.closed.Load() {
		t.Error("Close was not bound as cleanup hook")
	}
}

func TestAdaptRejectsMethodlessType(t *testing.T) {
	if _, err := Adapt(&struct{}{}); err == nil {
		t.Error("Adapt should fail for a type without execution methods")
	}
}

// countingStream emits n payloads.
type countingStream struct{ n int }

func (h *countingStream) ExecuteStreaming(_ context.Context, _ *models.Request, emit Emitter) (map[string]interface{}, error) {
	for i := 0; i < h.n; i++ {
		if err := emit(map[string]interface{}{"i": i}); err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{"emitted": h.n}, nil
}

func TestStreamingEmits(t *testing.T) {
	e := newEngine(stubRegistry{"stream": func() interface{} { return &countingStream{n: 3} }})
	req := testRequest("r1")
	req.Streaming = true

	var got atomic.Int32
	f, err := e.Submit(req, testConfig("stream"), func(map[string]interface{}) error {
		got.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	resp := wait(t, f)

	if resp.Status != models.StatusSuccess {
		t.Errorf("Status = %v", resp.Status)
	}
	if got.Load() != 3 {
		t.Errorf("emitted = %d, want 3", got.Load())
	}
	if resp.Result["emitted"] != 3 {
		t.Errorf("final result = %v", resp.Result)
	}
}

func TestStreamingUnsupported(t *testing.T) {
	e := newEngine(stubRegistry{"echo": func() interface{} { return &echoHandler{} }})
	req := testRequest("r1")
	req.Streaming = true
	_, err := e.Submit(req, testConfig("echo"), func(map[string]interface{}) error { return nil })
	if !errors.Is(err, ErrNotStreaming) {
		t.Errorf("err = %v, want ErrNotStreaming", err)
	}
}

func TestDuplicateRequestID(t *testing.T) {
	h := &sleeperHandler{ttl: time.Hour}
	e := newEngine(stubRegistry{"sleep": func() interface{} { return h }})
	if _, err := e.Submit(testRequest("dup"), testConfig("sleep"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(testRequest("dup"), testConfig("sleep"), nil); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("err = %v, want ErrDuplicateRequest", err)
	}
	e.Cancel("dup")
}

func TestShutdownInterruptsLiveExecutions(t *testing.T) {
	h := &sleeperHandler{ttl: time.Hour}
	e := newEngine(stubRegistry{"sleep": func() interface{} { return h }})
	f, err := e.Submit(testRequest("r1"), testConfig("sleep"), nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if resp, ok := f.Poll(); !ok || resp.Status != models.StatusError {
		t.Errorf("future after shutdown: resp=%v ok=%v", resp, ok)
	}
	if _, err := e.Submit(testRequest("r2"), testConfig("sleep"), nil); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("submit after shutdown err = %v", err)
	}
}

func TestStateRing(t *testing.T) {
	r := newStateRing(3)
	for i := 0; i < 5; i++ {
		r.Push(models.HandlerState{RequestID: fmt.Sprintf("r%d", i)})
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	snap := r.Snapshot()
	want := []string{"r4", "r3", "r2"}
	for i, s := range snap {
		if s.RequestID != want[i] {
			t.Errorf("snapshot[%d] = %q, want %q", i, s.RequestID, want[i])
		}
	}
	if _, ok := r.Find("r0"); ok {
		t.Error("evicted state should not be findable")
	}
	if _, ok := r.Find("r3"); !ok {
		t.Error("retained state should be findable")
	}
}

// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgfacade/dgfacade/internal/engine"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func arithmeticRequest(op string, a, b float64) *models.Request {
	return &models.Request{
		RequestID:   "t1",
		RequestType: "ARITHMETIC",
		Payload: map[string]interface{}{
			"operation": op,
			"operands":  []interface{}{a, b},
		},
	}
}

func TestArithmeticOperations(t *testing.T) {
	h := NewArithmeticHandler()
	cases := []struct {
		op   string
		a, b float64
		want float64
	}{
		{"ADD", 2, 3, 5},
		{"SUBTRACT", 10, 4, 6},
		{"MULTIPLY", 6, 7, 42},
		{"DIVIDE", 9, 3, 3},
		{"add", 1, 1, 2},
	}
	for _, tc := range cases {
		result, err := h.Execute(context.Background(), arithmeticRequest(tc.op, tc.a, tc.b))
		if err != nil {
			t.Errorf("%s: %v", tc.op, err)
			continue
		}
		if got := result["result"].(float64); got != tc.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestArithmeticDivisionByZero(t *testing.T) {
	h := NewArithmeticHandler()
	_, err := h.Execute(context.Background(), arithmeticRequest("DIVIDE", 1, 0))
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("err = %v, want ErrDivisionByZero", err)
	}
	if err.Error() != "Division by zero" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestArithmeticAlternateOperandShape(t *testing.T) {
	h := NewArithmeticHandler()
	result, err := h.Execute(context.Background(), &models.Request{
		Payload: map[string]interface{}{"operation": "ADD", "a": float64(4), "b": float64(5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result["result"].(float64) != 9 {
		t.Errorf("result = %v", result["result"])
	}
}

func TestArithmeticBadInput(t *testing.T) {
	h := NewArithmeticHandler()
	if _, err := h.Execute(context.Background(), &models.Request{
		Payload: map[string]interface{}{"operation": "MODULO", "a": 1.0, "b": 2.0},
	}); err == nil {
		t.Error("unknown operation should error")
	}
	if _, err := h.Execute(context.Background(), &models.Request{
		Payload: map[string]interface{}{"operation": "ADD"},
	}); err == nil {
		t.Error("missing operands should error")
	}
}

func TestEcho(t *testing.T) {
	h := NewEchoHandler()
	result, err := h.Execute(context.Background(), &models.Request{
		RequestID: "req-9",
		Payload:   map[string]interface{}{"message": "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	echo, ok := result["echo"].(map[string]interface{})
	if !ok || echo["message"] != "hello" {
		t.Errorf("echo = %v", result["echo"])
	}
	if result["echo_request_id"] != "req-9" {
		t.Errorf("result = %v", result)
	}
}

func TestEchoWithoutPayload(t *testing.T) {
	h := NewEchoHandler()
	result, err := h.Execute(context.Background(), &models.Request{RequestID: "req-10"})
	if err != nil {
		t.Fatal(err)
	}
	echo, ok := result["echo"].(map[string]interface{})
	if !ok || len(echo) != 0 {
		t.Errorf("echo = %v", result["echo"])
	}
}

func TestSleepStopsEarly(t *testing.T) {
	h := NewSleepHandler()
	done := make(chan map[string]interface{}, 1)
	go func() {
		result, _ := h.Execute(context.Background(), &models.Request{
			Payload: map[string]interface{}{"duration_seconds": float64(60)},
		})
		done <- result
	}()

	time.Sleep(20 * time.Millisecond)
	h.Stop()

	select {
	case result := <-done:
		if result["slept_seconds"].(float64) >= 60 {
			t.Errorf("slept too long: %v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not wake the sleeper")
	}
}

func TestSleepCaptureState(t *testing.T) {
	h := NewSleepHandler()
	if h.CaptureState()["state"] != "pending" {
		t.Error("pre-start state should be pending")
	}
}

func TestMarketDataStreams(t *testing.T) {
	h := NewMarketDataHandler()
	if err := h.Construct(map[string]interface{}{"base_price": float64(50)}, nil); err != nil {
		t.Fatal(err)
	}

	var quotes []map[string]interface{}
	result, err := h.ExecuteStreaming(context.Background(), &models.Request{
		Streaming: true,
		Payload: map[string]interface{}{
			"symbols":     []interface{}{"AAA", "BBB"},
			"interval_ms": float64(5),
			"count":       float64(3),
		},
	}, func(p map[string]interface{}) error {
		quotes = append(quotes, p)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(quotes) != 6 {
		t.Errorf("quotes = %d, want 6 (3 ticks x 2 symbols)", len(quotes))
	}
	if result["quotes_emitted"].(int64) != 6 {
		t.Errorf("summary = %v", result)
	}
	for _, q := range quotes {
		if q["price"].(float64) <= 0 {
			t.Errorf("non-positive price: %v", q)
		}
	}
}

func TestMarketDataStopEndsStream(t *testing.T) {
	h := NewMarketDataHandler()
	done := make(chan struct{})
	go func() {
		_, _ = h.ExecuteStreaming(context.Background(), &models.Request{
			Payload: map[string]interface{}{"interval_ms": float64(5)},
		}, func(map[string]interface{}) error { return nil })
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	h.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not end the stream")
	}
}

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry(nil)
	for _, class := range []string{ClassArithmetic, ClassEcho, ClassSleep, ClassMarketData} {
		if _, err := r.Create(class); err != nil {
			t.Errorf("Create(%q): %v", class, err)
		}
	}
	if _, err := r.Create("unknown"); err == nil {
		t.Error("unknown class without foreign invoker should error")
	}
}

func TestRegistryHandlersPassAdaptation(t *testing.T) {
	r := NewRegistry(nil)
	for _, class := range r.Classes() {
		instance, err := r.Create(class)
		if err != nil {
			t.Fatalf("Create(%q): %v", class, err)
		}
		if _, err := engine.Adapt(instance); err != nil {
			t.Errorf("Adapt(%q): %v", class, err)
		}
	}
}

// recordingInvoker captures the invocation.
type recordingInvoker struct {
	class string
}

func (i *recordingInvoker) Invoke(_ context.Context, handlerClass string, _ map[string]interface{}, req *models.Request) (map[string]interface{}, error) {
	i.class = handlerClass
	return map[string]interface{}{"request_id": req.RequestID}, nil
}

func TestRegistryForeignFallthrough(t *testing.T) {
	r := NewRegistry(nil)
	inv := &recordingInvoker{}
	r.SetForeignInvoker(inv)
	if !r.ForeignEnabled() {
		t.Fatal("foreign invoker not installed")
	}

	instance, err := r.Create("risk_model")
	if err != nil {
		t.Fatal(err)
	}
	h := instance.(*foreignHandler)
	if err := h.Construct(map[string]interface{}{"k": "v"}, nil); err != nil {
		t.Fatal(err)
	}
	result, err := h.Execute(context.Background(), &models.Request{RequestID: "fr-1"})
	if err != nil {
		t.Fatal(err)
	}
	if inv.class != "risk_model" || result["request_id"] != "fr-1" {
		t.Errorf("invocation: class=%q result=%v", inv.class, result)
	}
}

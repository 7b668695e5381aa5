// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package streaming

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgfacade/dgfacade/internal/broker"
	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

// waitFor polls until the condition holds or the deadline passes. Fan-out is
// asynchronous, so tests observe deliveries rather than assume them.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeSockets struct {
	mu        sync.Mutex
	published []*models.Response
	ended     []*models.Response
}

func (f *fakeSockets) PublishToSession(_ string, resp *models.Response) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, resp)
	return true
}

func (f *fakeSockets) EndSession(_ string, final *models.Response) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, final)
	return true
}

func (f *fakeSockets) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeSockets) publishedFrames() []*models.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Response(nil), f.published...)
}

func (f *fakeSockets) endedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ended)
}

func (f *fakeSockets) lastEnded() *models.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ended) == 0 {
		return nil
	}
	return f.ended[len(f.ended)-1]
}

type fakeCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (f *fakeCanceller) Cancel(requestID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, requestID)
	return true
}

func (f *fakeCanceller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	envs   []*models.MessageEnvelope
	fail   bool
}

func (p *recordingPublisher) Initialize(map[string]interface{}) error { return nil }
func (p *recordingPublisher) Publish(_ context.Context, topic string, env *models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("publish refused")
	}
	p.topics = append(p.topics, topic)
	p.envs = append(p.envs, env)
	return nil
}
func (p *recordingPublisher) PublishBatch(ctx context.Context, topic string, envs []*models.MessageEnvelope) error {
	for _, env := range envs {
		if err := p.Publish(ctx, topic, env); err != nil {
			return err
		}
	}
	return nil
}
func (p *recordingPublisher) AddTopic(string) error        { return nil }
func (p *recordingPublisher) Flush(context.Context) error  { return nil }
func (p *recordingPublisher) IsConnected() bool            { return true }
func (p *recordingPublisher) Stats() broker.PublisherStats { return broker.PublisherStats{} }
func (p *recordingPublisher) Close() error                 { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

func (p *recordingPublisher) published() ([]string, []*models.MessageEnvelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([]*models.MessageEnvelope(nil), p.envs...)
}

// stalledPublisher blocks every publish until released.
type stalledPublisher struct {
	recordingPublisher
	release chan struct{}
}

func (p *stalledPublisher) Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error {
	<-p.release
	return p.recordingPublisher.Publish(ctx, topic, env)
}

type fakePublishers struct {
	pub broker.Publisher
	err error
}

func (f *fakePublishers) Publisher(channelID string) (broker.Publisher, *config.ResolvedChannel, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.pub, &config.ResolvedChannel{ChannelID: channelID}, nil
}

func testChannelStore(t *testing.T) *config.ChannelStore {
	t.Helper()
	dir := t.TempDir()
	data := []byte(`{"type": "kafka", "broker": "b1", "enabled": true}`)
	if err := os.WriteFile(filepath.Join(dir, "responses-kafka.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	store := config.NewChannelStore(dir)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestManager(t *testing.T, sockets *fakeSockets, pubs Publishers) (*Manager, *fakeCanceller) {
	t.Helper()
	m := NewManager(Options{RestBuffer: 4}, sockets, pubs, testChannelStore(t))
	c := &fakeCanceller{}
	m.SetCanceller(c)
	return m, c
}

func streamingRequest(channels ...models.ChannelType) *models.Request {
	return &models.Request{
		RequestID:        "req-1",
		RequestType:      "MARKET_DATA",
		Streaming:        true,
		ResponseChannels: channels,
		ResponseTopic:    "responses.stream",
	}
}

func TestStartDefaultsToWebSocket(t *testing.T) {
	sockets := &fakeSockets{}
	m, _ := newTestManager(t, sockets, &fakePublishers{pub: &recordingPublisher{}})

	info, emit, err := m.Start(&models.Request{RequestID: "r1", RequestType: "T", Streaming: true},
		&models.HandlerConfig{RequestType: "T", TTLMinutes: 5})
	if err != nil {
		t.Fatal(err)
	}
	if info.SessionID == "" || info.Status != models.SessionActive || info.TTLMinutes != 5 {
		t.Errorf("session = %+v", info)
	}
	if len(info.ResponseChannels) != 1 || info.ResponseChannels[0] != models.ChannelWebSocket {
		t.Errorf("channels = %v", info.ResponseChannels)
	}

	ack := m.StartedAck(info)
	if ack.Status != models.StatusStreamingStarted || ack.SessionID != info.SessionID {
		t.Errorf("ack = %+v", ack)
	}
	if ack.Result["stream_destination"] != "/stream/"+info.SessionID {
		t.Errorf("destination = %v", ack.Result["stream_destination"])
	}

	for i := 0; i < 3; i++ {
		if err := emit(map[string]interface{}{"tick": i}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "websocket frames not delivered", func() bool { return sockets.publishedCount() == 3 })
	for i, resp := range sockets.publishedFrames() {
		if resp.Sequence != uint64(i+1) || resp.Status != models.StatusStreamingData {
			t.Errorf("frame %d = %+v", i, resp)
		}
	}
}

func TestRequestTTLOverridesHandlerTTL(t *testing.T) {
	m, _ := newTestManager(t, &fakeSockets{}, &fakePublishers{pub: &recordingPublisher{}})
	req := &models.Request{RequestID: "r2", RequestType: "T", Streaming: true, TTLMinutes: 2}
	info, _, err := m.Start(req, &models.HandlerConfig{RequestType: "T", TTLMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	if info.TTLMinutes != 2 {
		t.Errorf("ttl = %d, want 2", info.TTLMinutes)
	}
}

func TestBrokerChannelsRequireTopic(t *testing.T) {
	m, _ := newTestManager(t, &fakeSockets{}, &fakePublishers{pub: &recordingPublisher{}})
	req := streamingRequest(models.ChannelKafka)
	req.ResponseTopic = ""
	if _, _, err := m.Start(req, &models.HandlerConfig{RequestType: "T"}); !errors.Is(err, ErrTopicRequired) {
		t.Errorf("err = %v, want ErrTopicRequired", err)
	}
}

func TestRestBufferPullAndOverflow(t *testing.T) {
	m, _ := newTestManager(t, &fakeSockets{}, &fakePublishers{pub: &recordingPublisher{}})
	info, emit, err := m.Start(streamingRequest(models.ChannelRest), &models.HandlerConfig{RequestType: "T"})
	if err != nil {
		t.Fatal(err)
	}

	// Buffer capacity is 4; the two oldest of six emits must be dropped.
	for i := 1; i <= 6; i++ {
		if err := emit(map[string]interface{}{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := m.Pull(info.SessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("pulled = %d, want 4", len(got))
	}
	if got[0].Sequence != 3 || got[3].Sequence != 6 {
		t.Errorf("sequences = %d..%d, want 3..6", got[0].Sequence, got[3].Sequence)
	}

	rest, err := m.Pull(info.SessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Errorf("second pull = %d, want 0", len(rest))
	}
	if _, err := m.Pull("nope", 1); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestBrokerFanOut(t *testing.T) {
	pub := &recordingPublisher{}
	m, _ := newTestManager(t, &fakeSockets{}, &fakePublishers{pub: pub})
	_, emit, err := m.Start(streamingRequest(models.ChannelKafka), &models.HandlerConfig{RequestType: "T"})
	if err != nil {
		t.Fatal(err)
	}
	if err := emit(map[string]interface{}{"price": 101.5}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "broker publish not delivered", func() bool { return pub.count() == 1 })
	topics, envs := pub.published()
	if topics[0] != "responses.stream" {
		t.Errorf("topic = %q", topics[0])
	}
	if envs[0].Header("request_id") != "req-1" {
		t.Errorf("headers = %v", envs[0].Headers)
	}
}

func TestChannelFailureIsIsolated(t *testing.T) {
	sockets := &fakeSockets{}
	pub := &recordingPublisher{fail: true}
	m, _ := newTestManager(t, sockets, &fakePublishers{pub: pub})
	_, emit, err := m.Start(streamingRequest(models.ChannelKafka, models.ChannelWebSocket),
		&models.HandlerConfig{RequestType: "T"})
	if err != nil {
		t.Fatal(err)
	}
	if err := emit(map[string]interface{}{"x": 1}); err != nil {
		t.Fatalf("broker failure leaked to the emitter: %v", err)
	}
	waitFor(t, "websocket delivery missing", func() bool { return sockets.publishedCount() == 1 })
}

func TestStalledChannelDoesNotDelayOthers(t *testing.T) {
	sockets := &fakeSockets{}
	pub := &stalledPublisher{release: make(chan struct{})}
	m, _ := newTestManager(t, sockets, &fakePublishers{pub: pub})
	_, emit, err := m.Start(streamingRequest(models.ChannelKafka, models.ChannelWebSocket),
		&models.HandlerConfig{RequestType: "T"})
	if err != nil {
		t.Fatal(err)
	}

	// Every emit must return immediately even though the broker channel is
	// wedged mid-publish.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			if err := emit(map[string]interface{}{"n": i}); err != nil {
				t.Errorf("emit %d: %v", i, err)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emitter blocked behind a stalled broker channel")
	}

	// The websocket channel keeps flowing while the broker one is stuck.
	waitFor(t, "websocket frames held up by the stalled channel", func() bool {
		return sockets.publishedCount() == 5
	})
	if pub.count() != 0 {
		t.Errorf("stalled publisher completed %d publishes", pub.count())
	}

	close(pub.release)
	waitFor(t, "stalled channel never drained after release", func() bool {
		return pub.count() == 5
	})
}

func TestStopCancelsAndNotifies(t *testing.T) {
	sockets := &fakeSockets{}
	m, canceller := newTestManager(t, sockets, &fakePublishers{pub: &recordingPublisher{}})
	info, emit, err := m.Start(streamingRequest(models.ChannelWebSocket), &models.HandlerConfig{RequestType: "T"})
	if err != nil {
		t.Fatal(err)
	}

	if !m.Stop(info.SessionID) {
		t.Fatal("Stop returned false")
	}
	if canceller.count() != 1 || canceller.cancelled[0] != "req-1" {
		t.Errorf("cancelled = %v", canceller.cancelled)
	}
	waitFor(t, "end notice not delivered", func() bool { return sockets.endedCount() == 1 })
	notice := sockets.lastEnded()
	if notice.Status != models.StatusStreamingEnded {
		t.Fatalf("notice = %+v", notice)
	}
	if notice.Result["end_reason"] != string(models.EndReasonStopped) {
		t.Errorf("end_reason = %v", notice.Result["end_reason"])
	}

	if err := emit(map[string]interface{}{"late": true}); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("post-end emit err = %v, want ErrSessionEnded", err)
	}
	if m.Stop("nope") {
		t.Error("Stop on unknown session returned true")
	}
}

func TestExpireEndsSessionWithTTLReason(t *testing.T) {
	sockets := &fakeSockets{}
	m, canceller := newTestManager(t, sockets, &fakePublishers{pub: &recordingPublisher{}})
	info, _, err := m.Start(streamingRequest(models.ChannelWebSocket), &models.HandlerConfig{RequestType: "T"})
	if err != nil {
		t.Fatal(err)
	}

	m.expire(info.SessionID)
	if canceller.count() != 1 {
		t.Errorf("cancelled = %v", canceller.cancelled)
	}
	waitFor(t, "end notice not delivered", func() bool { return sockets.endedCount() == 1 })
	notice := sockets.lastEnded()
	if notice.Result["end_reason"] != string(models.EndReasonExpired) {
		t.Errorf("notice = %+v", notice)
	}

	got, ok := m.Get(info.SessionID)
	if !ok || got.Status != models.SessionEnded {
		t.Errorf("retained session = %+v ok=%v", got, ok)
	}
}

func TestCompleteUsesFinalStatus(t *testing.T) {
	sockets := &fakeSockets{}
	m, _ := newTestManager(t, sockets, &fakePublishers{pub: &recordingPublisher{}})
	info, _, err := m.Start(streamingRequest(models.ChannelWebSocket), &models.HandlerConfig{RequestType: "T"})
	if err != nil {
		t.Fatal(err)
	}

	m.Complete(info.SessionID, &models.Response{Status: models.StatusError, Result: map[string]interface{}{"k": "v"}})
	waitFor(t, "end notice not delivered", func() bool { return sockets.endedCount() == 1 })
	notice := sockets.lastEnded()
	if notice.Result["end_reason"] != string(models.EndReasonFailed) {
		t.Errorf("notice = %+v", notice)
	}
	if notice.Result["final_status"] != string(models.StatusError) {
		t.Errorf("final_status = %v", notice.Result["final_status"])
	}
}

func TestShutdownEndsEverySession(t *testing.T) {
	sockets := &fakeSockets{}
	m, canceller := newTestManager(t, sockets, &fakePublishers{pub: &recordingPublisher{}})
	for i := 0; i < 3; i++ {
		req := streamingRequest(models.ChannelWebSocket)
		req.RequestID = req.RequestID + string(rune('a'+i))
		if _, _, err := m.Start(req, &models.HandlerConfig{RequestType: "T"}); err != nil {
			t.Fatal(err)
		}
	}

	m.Shutdown()
	if canceller.count() != 3 {
		t.Errorf("cancelled = %d, want 3", canceller.count())
	}
	waitFor(t, "end notices not delivered", func() bool { return sockets.endedCount() == 3 })
	for _, s := range m.Sessions() {
		if s.Status != models.SessionEnded {
			t.Errorf("session %s status = %s", s.SessionID, s.Status)
		}
	}
}

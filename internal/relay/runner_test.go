package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/dedupe"
	"signal-relay/internal/domain"
	"signal-relay/internal/sink"
	"signal-relay/internal/status"
	"signal-relay/internal/storage/memory"
)

// chanSource is a Source fed directly by the test.
type chanSource struct {
	ch        chan domain.InboundMessage
	subErr    error
	closeOnce sync.Once
	closed    chan struct{}
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan domain.InboundMessage), closed: make(chan struct{})}
}

func (s *chanSource) Subscribe(ctx context.Context) (<-chan domain.InboundMessage, error) {
	if s.subErr != nil {
		return nil, s.subErr
	}
	return s.ch, nil
}

func (s *chanSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *chanSource) send(t *testing.T, msg domain.InboundMessage) {
	t.Helper()
	select {
	case s.ch <- msg:
	case <-time.After(time.Second):
		t.Fatal("runner did not accept message")
	}
}

type stubServer struct {
	started chan struct{}
	err     error
}

func (s *stubServer) Run(ctx context.Context) error {
	close(s.started)
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

func TestRunner_SubscribeFailureStartsNothing(t *testing.T) {
	src := newChanSource()
	src.subErr = errors.New("bad token")
	server := &stubServer{started: make(chan struct{})}

	p, store, _ := newTestPipeline(t, &recordingEmitter{}, PipelineOptions{})
	r := NewRunner(src, p, store, RunnerOptions{Status: server, Logger: quietLogger()})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscribe)
	assert.Contains(t, err.Error(), "bad token")

	select {
	case <-server.started:
		t.Fatal("status server started after subscribe failure")
	default:
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var signatures []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		signatures = append(signatures, r.Header.Get(sink.HeaderSignature))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	backend := memory.NewWatermarkStore()
	store := dedupe.Open(context.Background(), backend, dedupe.Options{Logger: quietLogger()})
	fanout := sink.NewFanout(sink.Settings{
		WebhookURL:        hook.URL,
		WebhookSecret:     "shhhh",
		WebhookTimeout:    time.Second,
		WebhookMaxRetries: 2,
	}, sink.FanoutOptions{Logger: quietLogger()})
	agg := status.NewAggregator(20)
	p := NewPipeline(store, fanout, agg, PipelineOptions{Logger: quietLogger()})

	src := newChanSource()
	server := &stubServer{started: make(chan struct{})}
	r := NewRunner(src, p, store, RunnerOptions{
		Status:        server,
		FlushInterval: time.Hour,
		Logger:        quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-server.started
	src.send(t, inbound(100, "ape "+testAddress))
	require.Eventually(t, func() bool {
		wm, ok := store.Watermark(42)
		return ok && wm == 100
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), agg.Snapshot().TotalSignals)

	// Redelivery of the same message is suppressed.
	src.send(t, inbound(100, "ape "+testAddress))
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Equal(t, sink.Sign(bodies[0], []byte("shhhh")), signatures[0])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &payload))
	assert.Equal(t, testAddress, payload["contract_address"])
	assert.Equal(t, float64(100), payload["message_id"])

	// Shutdown flushed the watermark.
	saved, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{42: 100}, saved)

	select {
	case <-src.closed:
	default:
		t.Fatal("source not closed on shutdown")
	}
}

func TestRunner_StatusServerFailureKeepsRelaying(t *testing.T) {
	src := newChanSource()
	server := &stubServer{started: make(chan struct{}), err: errors.New("address in use")}
	emitter := &recordingEmitter{}
	p, store, _ := newTestPipeline(t, emitter, PipelineOptions{})
	r := NewRunner(src, p, store, RunnerOptions{Status: server, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-server.started
	src.send(t, inbound(1, testAddress))
	require.Eventually(t, func() bool {
		wm, ok := store.Watermark(42)
		return ok && wm == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Len(t, emitter.all(), 1)
}

func TestRunner_SourceClosedUnexpectedly(t *testing.T) {
	src := newChanSource()
	p, store, _ := newTestPipeline(t, &recordingEmitter{}, PipelineOptions{})
	r := NewRunner(src, p, store, RunnerOptions{Logger: quietLogger()})

	close(src.ch)
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestRunner_GraceCancelsSlowHandlers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := &blockingEmitter{release: release}
	p, store, _ := newTestPipeline(t, slow, PipelineOptions{})
	src := newChanSource()
	r := NewRunner(src, p, store, RunnerOptions{
		ShutdownGrace: 50 * time.Millisecond,
		Logger:        quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	src.send(t, inbound(1, testAddress))
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner blocked on slow handler")
	}
	assert.True(t, slow.cancelled())
}

// blockingEmitter blocks until released or its context is cancelled.
type blockingEmitter struct {
	release chan struct{}
	mu      sync.Mutex
	ctxDone bool
}

func (e *blockingEmitter) Emit(ctx context.Context, _ *domain.SignalEvent) {
	select {
	case <-e.release:
	case <-ctx.Done():
		e.mu.Lock()
		e.ctxDone = true
		e.mu.Unlock()
	}
}

func (e *blockingEmitter) cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctxDone
}

package source

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func fastConfig() *WSConfig {
	return &WSConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		PingInterval:      time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      time.Second,
	}
}

func receive(t *testing.T, ch <-chan domain.InboundMessage) domain.InboundMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return domain.InboundMessage{}
}

func TestWSSource_FiltersAndMaps(t *testing.T) {
	var session atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session.Store(r.Header.Get(HeaderSessionName))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		frames := []string{
			`{"source_id":99,"message_id":1,"text":"other sender"}`,
			`not json`,
			`{"source_id":42,"message_id":7,"chat_id":-1001,"sender_id":42,"text":"  CA: So11111111111111111111111111111111111111112  "}`,
			`{"source_id":42,"message_id":8,"text":"no ids"}`,
		}
		for _, f := range frames {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	src := NewWSSource(wsURL(server), 42, "relay-test", fastConfig(), quietLogger())
	ch, err := src.Subscribe(context.Background())
	require.NoError(t, err)
	defer src.Close()

	first := receive(t, ch)
	assert.Equal(t, int64(42), first.SourceID)
	assert.Equal(t, int64(7), first.MessageID)
	require.NotNil(t, first.ChatID)
	assert.Equal(t, int64(-1001), *first.ChatID)
	require.NotNil(t, first.SenderID)
	assert.Equal(t, int64(42), *first.SenderID)
	assert.Equal(t, "CA: So11111111111111111111111111111111111111112", first.Text)

	second := receive(t, ch)
	assert.Equal(t, int64(8), second.MessageID)
	assert.Nil(t, second.ChatID)
	assert.Nil(t, second.SenderID)

	assert.Equal(t, "relay-test", session.Load())
}

func TestWSSource_ReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := connections.Add(1)
		if n == 1 {
			c.WriteMessage(websocket.TextMessage, []byte(`{"source_id":42,"message_id":1,"text":"before"}`))
			c.Close()
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte(`{"source_id":42,"message_id":2,"text":"after"}`))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	src := NewWSSource(wsURL(server), 42, "", fastConfig(), quietLogger())
	ch, err := src.Subscribe(context.Background())
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, int64(1), receive(t, ch).MessageID)
	assert.Equal(t, int64(2), receive(t, ch).MessageID)
	assert.GreaterOrEqual(t, connections.Load(), int32(2))
}

func TestWSSource_InitialDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	src := NewWSSource(url, 42, "", fastConfig(), quietLogger())
	_, err := src.Subscribe(context.Background())
	assert.Error(t, err)
}

func TestWSSource_ContextCancelClosesChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	src := NewWSSource(wsURL(server), 42, "", fastConfig(), quietLogger())
	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.NoError(t, src.Close())
}

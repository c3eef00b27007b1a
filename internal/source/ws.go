package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"signal-relay/internal/domain"
)

// HeaderSessionName identifies this relay to the bridge.
const HeaderSessionName = "X-Session-Name"

// WSConfig configures WebSocket source behavior.
type WSConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval between ping frames.
	PingInterval time.Duration
	// ReadTimeout is extended by every frame and pong.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// bridgeFrame is one message pushed by the bridge.
type bridgeFrame struct {
	SourceID  int64  `json:"source_id"`
	MessageID int64  `json:"message_id"`
	ChatID    *int64 `json:"chat_id"`
	SenderID  *int64 `json:"sender_id"`
	Text      string `json:"text"`
}

// WSSource reads message frames from a bridge over WebSocket.
type WSSource struct {
	endpoint    string
	sourceID    int64
	sessionName string
	config      WSConfig
	logger      *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSSource creates a WebSocket source. Nothing is dialled until Subscribe.
func NewWSSource(endpoint string, sourceID int64, sessionName string, config *WSConfig, logger *slog.Logger) *WSSource {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSource{
		endpoint:    endpoint,
		sourceID:    sourceID,
		sessionName: sessionName,
		config:      cfg,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Subscribe dials the bridge and starts reading. The first dial failure is
// returned; later disconnects are retried with backoff.
func (s *WSSource) Subscribe(ctx context.Context) (<-chan domain.InboundMessage, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("source closed")
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	out := make(chan domain.InboundMessage, 64)

	s.wg.Add(1)
	go s.readLoop(ctx, out)

	s.wg.Add(1)
	go s.pingLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return out, nil
}

// connect establishes the WebSocket connection.
func (s *WSSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	header := http.Header{}
	if s.sessionName != "" {
		header.Set(HeaderSessionName, s.sessionName)
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return fmt.Errorf("source closed")
	}
	s.conn = conn
	return nil
}

// readLoop reads frames and reconnects after read failures.
func (s *WSSource) readLoop(ctx context.Context, out chan<- domain.InboundMessage) {
	defer s.wg.Done()
	defer close(out)

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			if !s.reconnect(ctx, reconnectDelay) {
				reconnectDelay = min(reconnectDelay*2, s.config.MaxReconnectDelay)
			} else {
				reconnectDelay = s.config.ReconnectDelay
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Warn("websocket read failed", "error", err, "retry_in", reconnectDelay)
			s.connMu.Lock()
			if s.conn == conn {
				s.conn.Close()
				s.conn = nil
			}
			s.connMu.Unlock()
			continue
		}

		msg, ok := s.decode(message)
		if !ok {
			continue
		}
		select {
		case out <- msg:
		case <-s.done:
			return
		}
	}
}

// reconnect waits delay and dials again. It reports whether a connection
// was established.
func (s *WSSource) reconnect(ctx context.Context, delay time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(delay):
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.connect(dialCtx); err != nil {
		s.logger.Warn("websocket reconnect failed", "error", err)
		return false
	}
	s.logger.Info("websocket reconnected", "endpoint", s.endpoint)
	return true
}

// decode parses a frame and filters it to the configured source.
func (s *WSSource) decode(message []byte) (domain.InboundMessage, bool) {
	var f bridgeFrame
	if err := json.Unmarshal(message, &f); err != nil {
		s.logger.Warn("invalid bridge frame", "error", err)
		return domain.InboundMessage{}, false
	}
	if f.SourceID != s.sourceID {
		return domain.InboundMessage{}, false
	}
	return domain.InboundMessage{
		SourceID:  f.SourceID,
		MessageID: f.MessageID,
		ChatID:    f.ChatID,
		SenderID:  f.SenderID,
		Text:      normalizeText(f.Text, ""),
	}, true
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *WSSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				// A failed ping surfaces as a read error.
				_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout))
			}
			s.connMu.Unlock()
		}
	}
}

// Close closes the connection and waits for the reader to stop.
func (s *WSSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.config.WriteTimeout))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signal-relay/internal/domain"
)

// DefaultPollTimeout is the long-poll timeout in seconds.
const DefaultPollTimeout = 60

// TelegramOptions contains configuration for creating a TelegramSource.
type TelegramOptions struct {
	// APIEndpoint overrides tgbotapi.APIEndpoint (format: base/bot%s/%s).
	APIEndpoint string
	PollTimeout int
	Logger      *slog.Logger
}

// TelegramSource long-polls the Bot API for messages from one sender.
type TelegramSource struct {
	sourceID int64
	bot      *tgbotapi.BotAPI
	opts     TelegramOptions
	logger   *slog.Logger

	closeOnce sync.Once
	stopped   chan struct{}
}

// NewTelegramSource authenticates against the Bot API. An invalid token or
// unreachable API is returned as an error.
func NewTelegramSource(token string, sourceID int64, opts TelegramOptions) (*TelegramSource, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	opts.Logger.Info("telegram bot initialized", "username", bot.Self.UserName)

	return &TelegramSource{
		sourceID: sourceID,
		bot:      bot,
		opts:     opts,
		logger:   opts.Logger,
		stopped:  make(chan struct{}),
	}, nil
}

// Subscribe starts long polling.
func (s *TelegramSource) Subscribe(ctx context.Context) (<-chan domain.InboundMessage, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.opts.PollTimeout
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := s.bot.GetUpdatesChan(u)

	out := make(chan domain.InboundMessage, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case <-s.stopped:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				msg, ok := s.accept(update)
				if !ok {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					s.Close()
					return
				case <-s.stopped:
					return
				}
			}
		}
	}()
	return out, nil
}

// accept filters an update to the configured sender and maps it.
func (s *TelegramSource) accept(update tgbotapi.Update) (domain.InboundMessage, bool) {
	switch {
	case update.Message != nil:
		m := update.Message
		if m.From == nil || m.From.ID != s.sourceID {
			return domain.InboundMessage{}, false
		}
		return fromTelegram(s.sourceID, m), true
	case update.ChannelPost != nil:
		m := update.ChannelPost
		if m.Chat == nil || m.Chat.ID != s.sourceID {
			return domain.InboundMessage{}, false
		}
		return fromTelegram(s.sourceID, m), true
	}
	return domain.InboundMessage{}, false
}

// fromTelegram maps a Bot API message. Channel posts have no From; the
// sending chat is used as sender instead.
func fromTelegram(sourceID int64, m *tgbotapi.Message) domain.InboundMessage {
	msg := domain.InboundMessage{
		SourceID:  sourceID,
		MessageID: int64(m.MessageID),
		Text:      normalizeText(m.Text, m.Caption),
	}
	if m.Chat != nil {
		chatID := m.Chat.ID
		msg.ChatID = &chatID
	}
	switch {
	case m.From != nil:
		senderID := m.From.ID
		msg.SenderID = &senderID
	case m.SenderChat != nil:
		senderID := m.SenderChat.ID
		msg.SenderID = &senderID
	}
	return msg
}

// Close stops polling. It is safe to call more than once.
func (s *TelegramSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopped)
		s.bot.StopReceivingUpdates()
	})
	return nil
}

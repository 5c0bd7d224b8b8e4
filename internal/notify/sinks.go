package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

// LogSink writes events to the application log.
type LogSink struct{}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Notify implements Sink.
func (LogSink) Notify(_ context.Context, e Event) error {
	fields := log.Fields{
		"payment_id":   e.Purchase.PaymentID,
		"external_ref": e.Purchase.ExternalRef,
		"provider":     e.Purchase.Provider,
		"user_id":      e.Purchase.UserID,
		"game_id":      e.Purchase.GameID,
		"location":     e.Purchase.Location,
		"tokens":       e.Purchase.Tokens,
	}
	if e.ReleaseAt != nil {
		fields["release_at"] = e.ReleaseAt.Format(time.RFC3339)
	}
	log.WithFields(fields).Infof("notify: %s", e.Kind)
	return nil
}

// TelegramSink posts events to a staff chat.
type TelegramSink struct {
	bot    *telego.Bot
	chatID int64
	loc    *time.Location
}

// NewTelegramSink creates a sink for the given bot token and chat. Extra
// options are passed to telego (API server, HTTP client).
func NewTelegramSink(token string, chatID int64, loc *time.Location, opts ...telego.BotOption) (*TelegramSink, error) {
	opts = append([]telego.BotOption{telego.WithDiscardLogger()}, opts...)
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID, loc: loc}, nil
}

// Name implements Sink.
func (s *TelegramSink) Name() string { return "telegram" }

// Notify implements Sink.
func (s *TelegramSink) Notify(ctx context.Context, e Event) error {
	if _, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(s.chatID), Text(e, s.loc))); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/telebot.v3"

	"github.com/example/daily-engagement/internal/application"
)

type telegramSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelegramNotifier posts events to one Telegram chat.
type TelegramNotifier struct {
	sender telegramSender
	chatID int64
	log    *slog.Logger
}

// NewTelegramNotifier connects a bot with token and posts to chatID.
func NewTelegramNotifier(token string, chatID int64, logger *slog.Logger) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: telegram token must not be empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("notify: telegram chat id must not be zero")
	}
	bot, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: create telegram bot: %w", err)
	}
	return newTelegramNotifierWithSender(bot, chatID, logger), nil
}

func newTelegramNotifierWithSender(sender telegramSender, chatID int64, logger *slog.Logger) *TelegramNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		log:    logger.With(slog.String("component", "telegram_notifier")),
	}
}

// Notify sends the rendered event text to the chat.
func (n *TelegramNotifier) Notify(ctx context.Context, event application.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.sender.Send(telebot.ChatID(n.chatID), Text(event), &telebot.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		n.log.Error("telegram_notify_err", slog.Any("err", err), slog.String("type", string(event.Type)))
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	return nil
}

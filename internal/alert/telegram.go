// Package alert sends operator notifications over Telegram. Alerts are best
// effort: delivery failures are logged and never affect the relay.
package alert

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramNotifier pushes ban and credential events to an operator chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier creates a notifier. Returns an error when the token is
// rejected; callers typically skip alerting entirely in that case.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("📣 Telegram alerts enabled")
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// NotifyBan reports a rate-limit ban.
func (n *TelegramNotifier) NotifyBan(providerName string, until time.Time) {
	n.send(fmt.Sprintf("🚨 %s rate limited, upstream calls paused until %s",
		providerName, until.Format(time.RFC3339)))
}

// NotifyCredentialFailure reports rejected provider credentials.
func (n *TelegramNotifier) NotifyCredentialFailure(providerName, reason string) {
	n.send(fmt.Sprintf("⚠️ %s credentials rejected: %s (running anonymous)", providerName, reason))
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram alert failed")
	}
}

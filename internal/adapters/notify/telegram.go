package notify

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/adapters/telegram"
	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// TelegramAlerter отправляет оператору уведомления о критичных сбоях через
// Bot API. Канал отделён от MTProto клиента: сбой хранилища должен доходить
// до оператора даже когда основной транспорт деградирует.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

var _ domain.Alerter = (*TelegramAlerter)(nil)

// NewTelegramAlerter создаёт алертер.
func NewTelegramAlerter(token string, chatID int64, log zerolog.Logger) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramAlerter{bot: bot, chatID: chatID, log: log}, nil
}

// Alert отправляет текст в админский чат. Ошибка отправки только логируется:
// алерт не должен ронять конвейер.
func (a *TelegramAlerter) Alert(_ context.Context, text string) {
	for _, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(a.chatID, part)
		start := time.Now()
		_, err := a.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(a.chatID, 10), start, err)
		if err != nil {
			a.log.Error().Err(err).Int64("chat", a.chatID).Msg("notify: не удалось отправить алерт")
			return
		}
	}
}

package domain

import (
	"context"
	"time"
)

// Transport отправляет сообщения через Telegram.
type Transport interface {
	// Forward пересылает исходное сообщение по ссылке ref.
	// Возвращает ErrForwardRestricted, если чат-источник запрещает пересылку.
	Forward(ctx context.Context, ref any, destination string) error
	// SendCopy отправляет копию содержимого новым сообщением без превью ссылок.
	SendCopy(ctx context.Context, destination, body string, ref any) error
	// Connected сообщает о живости соединения с Telegram.
	Connected() bool
}

// MessageRepo сохраняет классифицированные события.
type MessageRepo interface {
	EnsureSchema(ctx context.Context) error
	Append(ctx context.Context, ev NormalizedEvent) (int64, error)
}

// Cache используется для подавления повторной обработки событий.
type Cache interface {
	// Once выполняет fn только если ключ ещё не встречался в течение ttl.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Alerter уведомляет оператора о критичных сбоях.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// Postgres реализует хранилище сообщений на основе pgxpool. Журнал
// append-only: ни обновлений, ни удалений, ни дедупликации.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.MessageRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL DEFAULT 'none',
    first_name TEXT NOT NULL DEFAULT 'none',
    last_name TEXT NOT NULL DEFAULT 'none',
    user_id BIGINT,
    is_bot BOOLEAN NOT NULL DEFAULT FALSE,
    chat_type TEXT NOT NULL DEFAULT 'unknown',
    chat_title TEXT NOT NULL DEFAULT 'none',
    chat_id BIGINT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    date TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)
`

// EnsureSchema создаёт таблицу сообщений, если её ещё нет. Вызывается до
// первой записи, повторные вызовы безопасны.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "messages_ensure_schema", "messages", start, err)
	if err != nil {
		return fmt.Errorf("создание таблицы messages: %w", err)
	}
	return nil
}

// Append добавляет одну строку на вызов и возвращает присвоенный id.
// Повторный вызов с тем же содержимым даёт вторую строку. Отсутствие
// sender_id допустимо и сохраняется как NULL.
func (p *Postgres) Append(ctx context.Context, ev domain.NormalizedEvent) (int64, error) {
	if ev.ChatID == 0 {
		return 0, fmt.Errorf("%w: chat_id", domain.ErrEventIncomplete)
	}
	if ev.OccurredAt.IsZero() {
		return 0, fmt.Errorf("%w: occurred_at", domain.ErrEventIncomplete)
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var senderID sql.NullInt64
	if ev.SenderID != 0 {
		senderID = sql.NullInt64{Int64: ev.SenderID, Valid: true}
	}

	var id int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO messages (username, first_name, last_name, user_id, is_bot, chat_type, chat_title, chat_id, message, date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id
`, ev.SenderUsername, ev.SenderFirstName, ev.SenderLastName, senderID, ev.IsBot, ev.ChatType, ev.ChatTitle, ev.ChatID, ev.Body, ev.OccurredAt).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "messages_insert", "messages", start, err)
	if err != nil {
		return 0, fmt.Errorf("запись сообщения: %w", err)
	}
	return id, nil
}

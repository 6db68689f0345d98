package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// DeliveryConfig задаёт политику повторов доставки.
type DeliveryConfig struct {
	MaxAttempts    int
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
}

const (
	defaultMaxAttempts    = 3
	defaultBackoffCap     = 10 * time.Second
	defaultAttemptTimeout = 30 * time.Second
)

// Deliverer доставляет событие в одно направление: сначала пересылка,
// при запрете пересылки — копия, всё в рамках ограниченного числа попыток
// с экспоненциальной задержкой. Между вызовами состояние не хранится.
type Deliverer struct {
	transport domain.Transport
	log       zerolog.Logger
	cfg       DeliveryConfig
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDeliverer создаёт механизм доставки.
func NewDeliverer(transport domain.Transport, log zerolog.Logger, cfg DeliveryConfig) *Deliverer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	return &Deliverer{
		transport: transport,
		log:       log,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

// Deliver выполняет доставку события в направление. Возвращает терминальный
// итог: успех (возможно через копию) либо последняя ошибка после исчерпания
// попыток. Сбой направления никогда не эскалируется.
func (d *Deliverer) Deliver(ctx context.Context, ev domain.NormalizedEvent, destination string) domain.DeliveryOutcome {
	outcome := domain.DeliveryOutcome{Destination: destination}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		copied, err := d.attempt(ctx, ev, destination)
		if err == nil {
			outcome.Copied = copied
			result := "forwarded"
			if copied {
				result = "copied"
			}
			metrics.ForwardsTotal.WithLabelValues(destination, result).Inc()
			d.log.Info().
				Str("destination", destination).
				Int("attempt", attempt).
				Bool("copied", copied).
				Msg("relay: сообщение доставлено")
			return outcome
		}
		lastErr = err

		if attempt == d.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		wait := d.backoff(attempt)
		d.log.Warn().
			Err(err).
			Str("destination", destination).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("relay: доставка не удалась, повторим")
		metrics.RetriesTotal.Inc()
		if err := d.sleep(ctx, wait); err != nil {
			break
		}
	}

	outcome.Err = lastErr
	metrics.ForwardsTotal.WithLabelValues(destination, "failed").Inc()
	d.log.Error().
		Err(lastErr).
		Str("destination", destination).
		Int("attempts", outcome.Attempts).
		Msg("relay: доставка не удалась окончательно")
	return outcome
}

// attempt — одна попытка: пересылка, при запрете или отсутствии ссылки —
// копия в той же попытке.
// Сбой копии наследует внешний цикл повторов, отдельно она не повторяется.
func (d *Deliverer) attempt(ctx context.Context, ev domain.NormalizedEvent, destination string) (bool, error) {
	if !d.transport.Connected() {
		return false, domain.ErrNotConnected
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	err := d.transport.Forward(attemptCtx, ev.Ref, destination)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrForwardRestricted) && !errors.Is(err, domain.ErrForwardUnavailable) {
		return false, err
	}

	metrics.CopyFallbacksTotal.Inc()
	d.log.Info().
		Str("destination", destination).
		Int64("chat_id", ev.ChatID).
		Msg("relay: пересылка недоступна, отправляем копию")
	if err := d.transport.SendCopy(attemptCtx, destination, ev.Body, ev.Ref); err != nil {
		return false, err
	}
	return true, nil
}

// backoff возвращает min(2^attempt, cap) секунд. Политика единая для
// основного и шаблонных направлений.
func (d *Deliverer) backoff(attempt int) time.Duration {
	wait := time.Second << attempt
	if wait > d.cfg.BackoffCap || wait <= 0 {
		wait = d.cfg.BackoffCap
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

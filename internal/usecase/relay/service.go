package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
	"tg-relay-bot/internal/usecase/rules"
)

// Service — оркестратор конвейера: классификация, доставка в основное
// направление, веер по совпавшим правилам, безусловная запись в хранилище.
// Доставка — рекомендательная, запись — обязательная.
type Service struct {
	log       zerolog.Logger
	registry  atomic.Pointer[rules.Registry]
	deliverer *Deliverer
	repo      domain.MessageRepo
	cache     domain.Cache
	alerter   domain.Alerter
	target    string
	dedupTTL  time.Duration
	sem       chan struct{}
	wg        sync.WaitGroup
}

// ServiceConfig задаёт параметры оркестратора.
type ServiceConfig struct {
	TargetChannel string
	Workers       int
	DedupTTL      time.Duration
}

const defaultWorkers = 8

// NewService создаёт оркестратор. cache и alerter могут быть nil: без кэша
// подавление дублей отключено, без алертера сбои хранилища видны только в
// логах и метриках.
func NewService(log zerolog.Logger, registry *rules.Registry, deliverer *Deliverer, repo domain.MessageRepo, cache domain.Cache, alerter domain.Alerter, cfg ServiceConfig) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	s := &Service{
		log:       log,
		deliverer: deliverer,
		repo:      repo,
		cache:     cache,
		alerter:   alerter,
		target:    cfg.TargetChannel,
		dedupTTL:  cfg.DedupTTL,
		sem:       make(chan struct{}, cfg.Workers),
	}
	s.registry.Store(registry)
	return s
}

// SwapRules атомарно заменяет снапшот правил. Запросы в полёте дорабатывают
// со старым снапшотом и никогда не видят полуобновлённый набор.
func (s *Service) SwapRules(registry *rules.Registry) {
	s.registry.Swap(registry)
}

// Dispatch — колбэк транспорта: одна горутина на событие при ограниченном
// числе воркеров. Медленная доставка одного события не задерживает
// классификацию и запись остальных.
func (s *Service) Dispatch(ctx context.Context, raw domain.RawEvent) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Msg("relay: паника в обработке события")
			}
		}()
		s.Handle(ctx, raw)
	}()
}

// Wait дожидается завершения обработчиков в полёте. Повторы, прерванные
// отменой контекста, теряются — это принятая граница потери данных.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Handle обрабатывает одно событие от начала до конца.
func (s *Service) Handle(ctx context.Context, raw domain.RawEvent) {
	ev, ok := Classify(raw)
	if !ok {
		metrics.EventsTotal.WithLabelValues(metrics.ResultDroppedSelf).Inc()
		return
	}

	registry := s.registry.Load()
	if registry.IsBlocked(ev.ChatID) {
		metrics.EventsTotal.WithLabelValues(metrics.ResultDroppedBlocked).Inc()
		s.log.Info().Int64("chat_id", ev.ChatID).Msg("relay: пропускаем сообщение из заблокированного чата")
		return
	}

	logger := s.log.With().
		Str("event_id", uuid.NewString()).
		Int64("chat_id", ev.ChatID).
		Int64("msg_id", ev.MsgID).
		Logger()

	// run возвращает только ошибку хранилища: кэш снимает ключ при ошибке,
	// и повтор события от транспорта не будет подавлен как дубликат.
	// Сбои доставки терминальны и остаются поглощёнными.
	ran := false
	run := func() error {
		ran = true
		return s.process(ctx, logger, registry, ev)
	}

	if s.cache == nil {
		_ = run()
		return
	}

	key := fmt.Sprintf("relay:seen:%d:%d", ev.ChatID, ev.MsgID)
	err := s.cache.Once(ctx, key, s.dedupTTL, run)
	switch {
	case err != nil && !ran:
		// Кэш недоступен — обрабатываем без подавления дублей,
		// доступность конвейера важнее дедупликации.
		logger.Warn().Err(err).Msg("relay: кэш дедупликации недоступен")
		_ = run()
	case err == nil && !ran:
		metrics.EventsTotal.WithLabelValues(metrics.ResultDroppedDuplicate).Inc()
		logger.Debug().Msg("relay: повторное событие подавлено")
	}
	// err != nil при ran == true — ошибка хранилища, она уже залогирована
	// в process, а ключ дедупликации снят кэшем.
}

// process возвращает ошибку только при сбое записи в хранилище.
func (s *Service) process(ctx context.Context, logger zerolog.Logger, registry *rules.Registry, ev domain.NormalizedEvent) error {
	if s.target != "" {
		s.deliverer.Deliver(ctx, ev, s.target)
	}

	for _, match := range registry.Match(ev.Body) {
		// В копию шаблонного направления уходит совпавшая подстрока,
		// пересылка по-прежнему несёт исходное сообщение целиком.
		secondary := ev
		secondary.Body = match.Matched
		s.deliverer.Deliver(ctx, secondary, match.Destination)
	}

	if _, err := s.repo.Append(ctx, ev); err != nil {
		// В отличие от сбоя доставки здесь событие не записано нигде,
		// поэтому уровень и канал оповещения другие.
		metrics.StorageErrorsTotal.Inc()
		metrics.EventsTotal.WithLabelValues(metrics.ResultStorageFailed).Inc()
		logger.Error().Err(err).Msg("relay: сообщение не записано в хранилище")
		if s.alerter != nil {
			s.alerter.Alert(ctx, fmt.Sprintf("Сообщение из чата %d не записано в хранилище: %v", ev.ChatID, err))
		}
		return err
	}
	metrics.StoredTotal.Inc()
	metrics.EventsTotal.WithLabelValues(metrics.ResultProcessed).Inc()
	return nil
}

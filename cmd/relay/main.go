package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/adapters/mtproto"
	"tg-relay-bot/internal/adapters/notify"
	"tg-relay-bot/internal/adapters/repo"
	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/cache"
	"tg-relay-bot/internal/infra/config"
	"tg-relay-bot/internal/infra/db"
	applog "tg-relay-bot/internal/infra/log"
	"tg-relay-bot/internal/infra/metrics"
	"tg-relay-bot/internal/usecase/relay"
	"tg-relay-bot/internal/usecase/rules"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "relay")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	registry, err := rules.Load(cfg.Relay.RulesFile, cfg.Relay.BlockedChatIDs)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: не удалось загрузить правила маршрутизации")
	}
	logger.Info().Int("rules", registry.Len()).Msg("relay: правила загружены")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: нет подключения к БД")
	}
	defer pool.Close()

	store := repo.NewPostgres(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("relay: не удалось подготовить схему БД")
	}

	var dedup domain.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		dedup = cache.NewRedis(redisClient)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("relay: подавление дублей включено")
	}

	var alerter domain.Alerter
	if cfg.Bot.Token != "" && cfg.Bot.AdminChatID != 0 {
		alerter, err = notify.NewTelegramAlerter(cfg.Bot.Token, cfg.Bot.AdminChatID, logger.With().Str("component", "notify").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("relay: не удалось создать алертер")
		}
	}

	transport := mtproto.NewClient(
		cfg.Telegram.APIID,
		cfg.Telegram.APIHash,
		cfg.Telegram.Phone,
		cfg.Telegram.SessionFile,
		logger.With().Str("component", "mtproto").Logger(),
	)

	deliverer := relay.NewDeliverer(transport, logger, relay.DeliveryConfig{
		MaxAttempts:    cfg.Relay.MaxAttempts,
		BackoffCap:     cfg.Relay.BackoffCap,
		AttemptTimeout: cfg.Relay.AttemptTimeout,
	})
	service := relay.NewService(logger, registry, deliverer, store, dedup, alerter, relay.ServiceConfig{
		TargetChannel: cfg.Relay.TargetChannel,
		Workers:       cfg.Relay.Workers,
		DedupTTL:      cfg.Relay.DedupTTL,
	})

	transport.OnEvent(service.Dispatch)

	// SIGHUP перечитывает правила и атомарно подменяет снапшот.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			fresh, err := rules.Load(cfg.Relay.RulesFile, cfg.Relay.BlockedChatIDs)
			if err != nil {
				logger.Error().Err(err).Msg("relay: перезагрузка правил не удалась, работаем со старыми")
				continue
			}
			service.SwapRules(fresh)
			logger.Info().Int("rules", fresh.Len()).Msg("relay: правила перезагружены")
		}
	}()

	startHealthServer(ctx, transport, logger, cfg.Port)

	logger.Info().Str("target", cfg.Relay.TargetChannel).Msg("relay: запуск")
	if err := transport.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("relay: транспорт остановлен с ошибкой")
	}

	// Повторы в полёте бросаем: состояние доставки не переживает рестарт.
	service.Wait()
	logger.Info().Msg("relay: остановлен")
}

func startHealthServer(ctx context.Context, transport *mtproto.Client, logger zerolog.Logger, port int) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !transport.Connected() {
			http.Error(w, "telegram disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info().Int("port", port).Msg("relay: health сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("relay: health сервер остановлен")
		}
	}()
}

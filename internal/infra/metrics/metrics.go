package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Входящие события по результату обработки",
	}, []string{"result"})

	ForwardsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_forwards_total",
		Help: "Итоги доставки по направлениям",
	}, []string{"destination", "outcome"})

	RetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_delivery_retries_total",
		Help: "Повторные попытки доставки",
	})

	CopyFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_copy_fallbacks_total",
		Help: "Переключения на отправку копии из-за запрета пересылки",
	})

	StoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_stored_total",
		Help: "Сообщения, записанные в хранилище",
	})

	StorageErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_storage_errors_total",
		Help: "Ошибки записи сообщений в хранилище",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// Результаты обработки событий для EventsTotal.
const (
	ResultProcessed        = "processed"
	ResultDroppedSelf      = "dropped_self"
	ResultDroppedBlocked   = "dropped_blocked"
	ResultDroppedDuplicate = "dropped_duplicate"
	ResultStorageFailed    = "storage_failed"
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		EventsTotal,
		ForwardsTotal,
		RetriesTotal,
		CopyFallbacksTotal,
		StoredTotal,
		StorageErrorsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию релея.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		APIID       int    `envconfig:"TG_API_ID"`
		APIHash     string `envconfig:"TG_API_HASH"`
		Phone       string `envconfig:"TG_PHONE"`
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE" default:"relay.session"`
	} `envconfig:""`

	// Bot — учётные данные Bot API для уведомлений оператора.
	Bot struct {
		Token       string `envconfig:"TG_BOT_TOKEN"`
		AdminChatID int64  `envconfig:"ADMIN_CHAT_ID"`
	} `envconfig:""`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	Relay struct {
		TargetChannel  string        `envconfig:"RELAY_TARGET_CHANNEL"`
		RulesFile      string        `envconfig:"RELAY_RULES_FILE" default:"config/patterns.json"`
		BlockedChatIDs []int64       `envconfig:"RELAY_BLOCKED_CHAT_IDS"`
		MaxAttempts    int           `envconfig:"RELAY_MAX_ATTEMPTS" default:"3"`
		BackoffCap     time.Duration `envconfig:"RELAY_BACKOFF_CAP" default:"10s"`
		AttemptTimeout time.Duration `envconfig:"RELAY_ATTEMPT_TIMEOUT" default:"30s"`
		Workers        int           `envconfig:"RELAY_WORKERS" default:"8"`
		DedupTTL       time.Duration `envconfig:"RELAY_DEDUP_TTL" default:"10m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

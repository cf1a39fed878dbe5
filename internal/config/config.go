package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	// IdentitySalt salts the hash that derives conversation ids from
	// channel identities. Raw identities are never stored.
	IdentitySalt string `env:"IDENTITY_SALT,required"`

	// Decision-maker settings
	DeciderProvider string        `env:"DECIDER_PROVIDER" envDefault:"openai"`
	DeciderEnabled  bool          `env:"DECIDER_ENABLED" envDefault:"true"`
	DeciderTimeout  time.Duration `env:"DECIDER_TIMEOUT" envDefault:"10s"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	OpenAIModel     string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuth     string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID  string        `env:"YANDEX_FOLDER_ID"`

	// Per-stage confidence thresholds
	EventThreshold float64 `env:"EVENT_CONFIDENCE_THRESHOLD" envDefault:"0.5"`
	ReplyThreshold float64 `env:"REPLY_CONFIDENCE_THRESHOLD" envDefault:"0.5"`
	ShapeThreshold float64 `env:"SHAPE_CONFIDENCE_THRESHOLD" envDefault:"0.5"`

	// Deduplication
	DedupBackend string        `env:"DEDUP_BACKEND" envDefault:"memory"`
	DedupTTL     time.Duration `env:"DEDUP_TTL" envDefault:"24h"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// Session + audit persistence
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/chatflow.db"`
	AuditFilePath string `env:"AUDIT_FILE_PATH" envDefault:"logs/audit.jsonl"`

	// Conversation limits
	QueueCapacity int           `env:"INTENT_QUEUE_CAPACITY" envDefault:"3"`
	WindowSize    int           `env:"CONTEXT_WINDOW_SIZE" envDefault:"10"`
	Inactivity    time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"30m"`
	Lifetime      time.Duration `env:"SESSION_LIFETIME" envDefault:"24h"`
	SweepSchedule string        `env:"SWEEP_SCHEDULE" envDefault:"@every 1m"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

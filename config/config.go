package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the shared infrastructure configuration loaded from
// environment variables (and an optional .env file).
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	HTTPAddr      string

	// Event stream to the decision layer. Empty brokers disables Kafka.
	KafkaBrokers []string
	KafkaTopic   string

	// Regime alerts. Each non-empty sink is enabled.
	AlertLevel       string
	AlertLog         bool
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("[config] no .env file, using process environment")
	}
	return FromEnv()
}

// FromEnv reads configuration from the current process environment only.
func FromEnv() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/regime.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":9096"),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "regime.events"),

		AlertLevel:       getEnv("ALERT_LEVEL", "WARNING"),
		AlertLog:         getEnv("ALERT_LOG", "") == "true",
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("[config] invalid integer, using default")
		return fallback
	}
	return n
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the relay
type Config struct {
	// Mode
	Debug bool

	// Downstream server
	ListenAddr  string
	StreamRoute string

	// Database (sqlite path or postgres:// DSN)
	DatabasePath string

	// Upstream failure policy
	BanDuration     time.Duration
	CooldownWindow  time.Duration
	CooldownStrikes int
	InitRetries     int
	InitRetryDelay  time.Duration

	// Telegram (optional operator alerts)
	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Debug: getEnvBool("DEBUG", false),

		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		StreamRoute: getEnv("STREAM_ROUTE", "/exchange/trade"),

		DatabasePath: getEnv("DATABASE_PATH", "data/relay.db"),

		BanDuration:     getEnvDuration("BAN_DURATION", 60*time.Second),
		CooldownWindow:  getEnvDuration("COOLDOWN_WINDOW", 30*time.Minute),
		CooldownStrikes: getEnvInt("COOLDOWN_STRIKES", 3),
		InitRetries:     getEnvInt("INIT_RETRIES", 3),
		InitRetryDelay:  getEnvDuration("INIT_RETRY_DELAY", 2*time.Second),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}

	return cfg
}

// ProviderCredentials looks up the credential triple for a provider, e.g.
// BINANCE_API_KEY / BINANCE_API_SECRET / BINANCE_API_PASSPHRASE.
func ProviderCredentials(name string) (apiKey, apiSecret, passphrase string) {
	prefix := strings.ToUpper(name)
	return os.Getenv(prefix + "_API_KEY"),
		os.Getenv(prefix + "_API_SECRET"),
		os.Getenv(prefix + "_API_PASSPHRASE")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

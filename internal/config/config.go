package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	SQLitePath string

	// AdminToken is the shared secret the external admin service
	// presents on moderation calls. Required; admin actions fail
	// closed without it.
	AdminToken string

	HistoryLimit      int
	MaxMessageRunes   int
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration

	CORSOrigins []string
	Debug       bool
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName: getEnv("APP_NAME", "Portal Chat"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		SQLitePath: getEnv("SQLITE_PATH", "portalchat.db"),

		AdminToken: os.Getenv("ADMIN_TOKEN"),

		HistoryLimit:      getEnvAsInt("CHAT_HISTORY_LIMIT", 200),
		MaxMessageRunes:   getEnvAsInt("CHAT_MAX_MESSAGE_RUNES", 2000),
		HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		PresenceTTL:       getEnvAsDuration("PRESENCE_TTL", 90*time.Second),

		Debug: getEnvAsBool("DEBUG", true),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.AdminToken == "" {
		return nil, fmt.Errorf("ADMIN_TOKEN is required")
	}
	if cfg.HistoryLimit <= 0 {
		return nil, fmt.Errorf("CHAT_HISTORY_LIMIT must be positive")
	}
	if cfg.PresenceTTL < cfg.HeartbeatInterval {
		return nil, fmt.Errorf("PRESENCE_TTL must be at least HEARTBEAT_INTERVAL")
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

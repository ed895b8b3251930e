package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	SessionTTL         time.Duration
	SessionCookieName  string
	SessionRedisAddr   string
	SessionRedisPass   string
	SessionRedisDB     int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	EventBrokerURL     string
	EventQueueName     string
}

// LoadAPIConfig constructs an APIConfig from environment variables. A .env
// file in the working directory is applied first when present.
func LoadAPIConfig() APIConfig {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://taskquorum:taskquorum@db:5432/taskquorum?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		SessionTTL:         time.Duration(GetInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		SessionCookieName:  GetString("SESSION_COOKIE_NAME", "tq_session"),
		SessionRedisAddr:   GetString("SESSION_REDIS_ADDR", ""),
		SessionRedisPass:   GetString("SESSION_REDIS_PASSWORD", ""),
		SessionRedisDB:     GetInt("SESSION_REDIS_DB", 0),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		EventBrokerURL:     GetString("EVENT_BROKER_URL", ""),
		EventQueueName:     GetString("EVENT_QUEUE_NAME", "task_events"),
	}
}

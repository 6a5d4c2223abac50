package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	HTTP         HTTPConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Leaderboard  LeaderboardConfig
	Notification NotificationConfig
	Seed         SeedConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// HTTPConfig holds transport guard rails.
type HTTPConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxConcurrency int64
	CORSOrigins    string
}

// PostgresConfig holds DB connection values. An empty DSN selects the in-memory store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level          string
	File           string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// LeaderboardConfig tunes the cached ranking.
type LeaderboardConfig struct {
	CacheTTLSeconds int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom          string
	WebhookURL         string
	OverdueScanMinutes int
}

// SeedConfig controls first-boot user seeding.
type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
	DemoUsers     bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	rps, err := strconv.ParseFloat(getEnv("HTTP_RATE_LIMIT_RPS", "100"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_RATE_LIMIT_RPS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "issue-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		HTTP: HTTPConfig{
			RateLimitRPS:   rps,
			RateLimitBurst: getEnvAsInt("HTTP_RATE_LIMIT_BURST", 200),
			MaxConcurrency: int64(getEnvAsInt("HTTP_MAX_CONCURRENCY", 256)),
			CORSOrigins:    getEnv("HTTP_CORS_ORIGINS", "*"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:          getEnv("LOG_LEVEL", "info"),
			File:           os.Getenv("LOG_FILE"),
			FileMaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			FileMaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5),
			FileMaxAgeDays: getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 14),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Leaderboard: LeaderboardConfig{
			CacheTTLSeconds: getEnvAsInt("LEADERBOARD_CACHE_TTL_SECONDS", 60),
		},
		Notification: NotificationConfig{
			EmailFrom:          getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL:         getEnv("NOTIFY_WEBHOOK_URL", ""),
			OverdueScanMinutes: getEnvAsInt("NOTIFY_OVERDUE_SCAN_MINUTES", 60),
		},
		Seed: SeedConfig{
			AdminEmail:    getEnv("SEED_ADMIN_EMAIL", "admin@devvault.com"),
			AdminPassword: getEnv("SEED_ADMIN_PASSWORD", "admin123"),
			DemoUsers:     getEnvAsBool("SEED_DEMO_USERS", false),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// OverdueScanInterval returns how often overdue issues are reported. Zero disables the scan.
func (n NotificationConfig) OverdueScanInterval() time.Duration {
	if n.OverdueScanMinutes <= 0 {
		return 0
	}
	return time.Duration(n.OverdueScanMinutes) * time.Minute
}

// CacheTTL returns the leaderboard cache lifetime.
func (l LeaderboardConfig) CacheTTL() time.Duration {
	if l.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(l.CacheTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

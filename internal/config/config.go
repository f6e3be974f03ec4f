package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	AppEnv string

	// Server
	ServerPort string

	// Upstream
	BackendURL             string
	UpstreamTimeout        time.Duration
	UpstreamTLSFallback    bool
	UpstreamBreakerEnabled bool
	UpstreamMaxBody        int64

	// Session
	JWTSecret          string
	SessionTTL         time.Duration
	RegisterSessionTTL time.Duration

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Storage
	RedisURL    string
	DatabaseURL string

	// Degradation
	SnapshotTTL     time.Duration
	CleanupInterval time.Duration

	// Verification
	VerificationTTL         time.Duration
	VerificationMaxAttempts int

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitWrite   int
	RateLimitLogin   int

	// Logging
	LogLevel string
}

// LoadDotEnv は.envファイルが存在すれば環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", EnvProduction)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BackendURL = strings.TrimRight(getEnvString("BACKEND_URL", "https://api3.smap.site"), "/")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.UpstreamTLSFallback = getEnvBool("UPSTREAM_TLS_FALLBACK", true)
	cfg.UpstreamBreakerEnabled = getEnvBool("UPSTREAM_BREAKER_ENABLED", true)
	cfg.UpstreamMaxBody = getEnvInt64("UPSTREAM_MAX_BODY", 5242880)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 7*24*time.Hour)
	cfg.RegisterSessionTTL = getEnvDuration("REGISTER_SESSION_TTL", 30*24*time.Hour)
	cfg.CookieSecure = cfg.AppEnv != EnvDevelopment
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.SnapshotTTL = getEnvDuration("SNAPSHOT_TTL", 24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute)
	cfg.VerificationTTL = getEnvDuration("VERIFICATION_TTL", 3*time.Minute)
	cfg.VerificationMaxAttempts = getEnvInt("VERIFICATION_MAX_ATTEMPTS", 5)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// IsDevelopment はローカル開発環境かを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvDuration はtime.ParseDurationの形式に加えて日数（例: 7d）を受け付ける。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return defaultVal
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

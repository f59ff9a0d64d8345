// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Logging
	LogLevel string

	// Poll
	PollBaseInterval  time.Duration
	PollGrowth        float64
	PollFailThreshold int
	PollMaxBackoff    time.Duration
	PollMaxConcurrent int
	PollClaimInterval time.Duration
	PollLease         time.Duration
	ReconcileInterval time.Duration

	// Fetch
	FetchTimeout time.Duration
	FetchMaxSize int64
	EntryMaxSize int
	// FetchAllowPrivate はプライベートアドレスへのフェッチを許可する（開発・テスト用）
	FetchAllowPrivate bool

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string
	// WorkerMetricsPort はworkerが/metricsを公開するポート。空なら公開しない
	WorkerMetricsPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.PollBaseInterval = getEnvDuration("POLL_BASE_INTERVAL", time.Second)
	cfg.PollGrowth = getEnvFloat("POLL_GROWTH", 10)
	cfg.PollFailThreshold = getEnvInt("POLL_FAIL_THRESHOLD", 3)
	cfg.PollMaxBackoff = getEnvDuration("POLL_MAX_BACKOFF", time.Hour)
	cfg.PollMaxConcurrent = getEnvInt("POLL_MAX_CONCURRENT", 10)
	cfg.PollClaimInterval = getEnvDuration("POLL_CLAIM_INTERVAL", 250*time.Millisecond)
	cfg.PollLease = getEnvDuration("POLL_LEASE", 2*time.Minute)
	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 10*time.Minute)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.EntryMaxSize = getEnvInt("ENTRY_MAX_SIZE", 64*1024)
	cfg.FetchAllowPrivate = getEnvBool("FETCH_ALLOW_PRIVATE", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate はポーリング設定の整合性を検証する。
func (c *Config) validate() error {
	if c.PollBaseInterval <= 0 {
		return fmt.Errorf("POLL_BASE_INTERVAL must be positive: %v", c.PollBaseInterval)
	}
	if c.PollGrowth < 1 {
		return fmt.Errorf("POLL_GROWTH must be >= 1: %v", c.PollGrowth)
	}
	if c.PollMaxBackoff <= 0 {
		return fmt.Errorf("POLL_MAX_BACKOFF must be positive: %v", c.PollMaxBackoff)
	}
	if c.PollFailThreshold < 1 {
		return fmt.Errorf("POLL_FAIL_THRESHOLD must be >= 1: %d", c.PollFailThreshold)
	}
	if c.PollLease <= c.FetchTimeout {
		return fmt.Errorf("POLL_LEASE (%v) must be longer than FETCH_TIMEOUT (%v)", c.PollLease, c.FetchTimeout)
	}
	return nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

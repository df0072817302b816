// Package config はアプリケーション設定の読み込みを提供する。
// インフラ設定は環境変数から、トピック定義はYAMLファイルから読み込む。
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

	// Topics
	TopicsFile string

	// Source
	SourceBaseURL      string
	SourceUserAgent    string
	SourceToken        string
	SourceTimeout      time.Duration
	SearchPageSize     int
	StreamPollInterval time.Duration

	// Rate Budget
	RateLowWater    int
	RateSleepBuffer time.Duration
	RateWindow      time.Duration
	RatePerMinute   int

	// Ingestion
	CommentCap       int
	ProgressInterval time.Duration
	StaggerDelay     time.Duration

	// Server
	ServerPort string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TopicsFile = os.Getenv("TOPICS_FILE")
	if cfg.TopicsFile == "" {
		missing = append(missing, "TOPICS_FILE")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SourceBaseURL = getEnvString("SOURCE_BASE_URL", "https://www.reddit.com")
	cfg.SourceUserAgent = getEnvString("SOURCE_USER_AGENT", "Buzztail/1.0 discussion collector")
	cfg.SourceToken = getEnvString("SOURCE_TOKEN", "")
	cfg.SourceTimeout = getEnvDuration("SOURCE_TIMEOUT", 15*time.Second)
	cfg.SearchPageSize = getEnvInt("SEARCH_PAGE_SIZE", 100)
	cfg.StreamPollInterval = getEnvDuration("STREAM_POLL_INTERVAL", 10*time.Second)
	cfg.RateLowWater = getEnvInt("RATE_LOW_WATER", 10)
	cfg.RateSleepBuffer = getEnvDuration("RATE_SLEEP_BUFFER", 5*time.Second)
	cfg.RateWindow = getEnvDuration("RATE_WINDOW", time.Minute)
	cfg.RatePerMinute = getEnvInt("RATE_PER_MINUTE", 60)
	cfg.CommentCap = getEnvInt("COMMENT_CAP", 10)
	cfg.ProgressInterval = getEnvDuration("PROGRESS_INTERVAL", 30*time.Second)
	cfg.StaggerDelay = getEnvDuration("STAGGER_DELAY", time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
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

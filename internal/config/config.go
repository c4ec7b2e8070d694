package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "lakerun.db"
	defaultPollInterval = 5 * time.Second
	defaultMaxWait      = 30 * time.Minute
	defaultHTTPTimeout  = 30 * time.Second

	envListenAddr   = "LAKERUN_LISTEN_ADDR"
	envDBPath       = "LAKERUN_DB_PATH"
	envLogLevel     = "LAKERUN_LOG_LEVEL"
	envPlatformHost = "LAKERUN_PLATFORM_HOST"
	envToken        = "LAKERUN_PLATFORM_TOKEN"
	envWarehouseID  = "LAKERUN_WAREHOUSE_ID"
	envPollInterval = "LAKERUN_POLL_INTERVAL"
	envMaxWait      = "LAKERUN_MAX_WAIT"
	envHTTPTimeout  = "LAKERUN_HTTP_TIMEOUT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	LogLevel     slog.Level
	PlatformHost string
	Token        string
	WarehouseID  string
	PollInterval time.Duration
	MaxWait      time.Duration
	HTTPTimeout  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Durations accept Go duration syntax ("2s", "15m").
func Load() Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		PollInterval: defaultPollInterval,
		MaxWait:      defaultMaxWait,
		HTTPTimeout:  defaultHTTPTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.PlatformHost = os.Getenv(envPlatformHost)
	cfg.Token = os.Getenv(envToken)
	cfg.WarehouseID = os.Getenv(envWarehouseID)
	if v := os.Getenv(envPollInterval); v != "" {
		cfg.PollInterval = parseDuration(v, defaultPollInterval)
	}
	if v := os.Getenv(envMaxWait); v != "" {
		cfg.MaxWait = parseDuration(v, defaultMaxWait)
	}
	if v := os.Getenv(envHTTPTimeout); v != "" {
		cfg.HTTPTimeout = parseDuration(v, defaultHTTPTimeout)
	}

	return cfg
}

// Validate checks that the platform connection settings are usable. The
// warehouse ID stays optional; statement submission fails later if neither
// the config nor the request names one.
func (c Config) Validate() error {
	if c.PlatformHost == "" {
		return errors.New("platform host is required: set " + envPlatformHost)
	}
	if !strings.HasPrefix(c.PlatformHost, "http://") && !strings.HasPrefix(c.PlatformHost, "https://") {
		return fmt.Errorf("platform host must start with http:// or https://, got %q", c.PlatformHost)
	}
	if c.Token == "" {
		return errors.New("platform token is required: set " + envToken)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("max wait must be positive, got %s", c.MaxWait)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

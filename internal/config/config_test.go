package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		envListenAddr, envDBPath, envLogLevel, envPlatformHost,
		envToken, envWarehouseID, envPollInterval, envMaxWait, envHTTPTimeout,
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, defaultPollInterval)
	}
	if cfg.MaxWait != defaultMaxWait {
		t.Errorf("MaxWait = %v, want %v", cfg.MaxWait, defaultMaxWait)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(envListenAddr, ":9999")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envPlatformHost, "https://acme.example.com")
	t.Setenv(envToken, "secret")
	t.Setenv(envWarehouseID, "wh-7")
	t.Setenv(envPollInterval, "2s")
	t.Setenv(envMaxWait, "10m")

	cfg := Load()

	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.PlatformHost != "https://acme.example.com" {
		t.Errorf("PlatformHost = %q", cfg.PlatformHost)
	}
	if cfg.Token != "secret" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.WarehouseID != "wh-7" {
		t.Errorf("WarehouseID = %q, want wh-7", cfg.WarehouseID)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.MaxWait != 10*time.Minute {
		t.Errorf("MaxWait = %v, want 10m", cfg.MaxWait)
	}
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	t.Setenv(envPollInterval, "not-a-duration")
	t.Setenv(envMaxWait, "-5m")

	cfg := Load()
	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("PollInterval = %v, want fallback %v", cfg.PollInterval, defaultPollInterval)
	}
	if cfg.MaxWait != defaultMaxWait {
		t.Errorf("MaxWait = %v, want fallback %v", cfg.MaxWait, defaultMaxWait)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		PlatformHost: "https://acme.example.com",
		Token:        "secret",
		PollInterval: time.Second,
		MaxWait:      time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing host", func(c *Config) { c.PlatformHost = "" }, "platform host"},
		{"bare host", func(c *Config) { c.PlatformHost = "acme.example.com" }, "http"},
		{"missing token", func(c *Config) { c.Token = "" }, "token"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll interval"},
		{"zero max wait", func(c *Config) { c.MaxWait = 0 }, "max wait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SMTPConfig holds the outbound mail settings used by invitation delivery.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	Encryption  string // "none", "ssl", "starttls"
}

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	FrontendDir  string
	JWTSecret    string

	// Authentication guard knobs
	LockoutThreshold int
	LockoutMinutes   int
	LoginRatePerMin  int

	// Audit retention window, in days. High/critical entries are kept
	// regardless.
	RetentionDays int

	// Resolution cache capacity. Zero keeps the default.
	CacheSize int

	// Shoutrrr URLs that receive security alerts (comma-separated env var).
	AlertURLs []string

	SMTP SMTPConfig
}

// Load reads env vars and falls back to defaults so the server can boot with
// zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:      getEnv("TRELLIS_ENV", "development"),
		HTTPPort:         getEnv("TRELLIS_HTTP_PORT", "8080"),
		DatabasePath:     getEnv("TRELLIS_DB_PATH", filepath.Join("data", "trellis.db")),
		FrontendDir:      getEnv("TRELLIS_FRONTEND_DIR", filepath.Clean(filepath.Join("..", "frontend", "dist"))),
		JWTSecret:        getEnv("TRELLIS_JWT_SECRET", ""),
		LockoutThreshold: getEnvInt("TRELLIS_LOCKOUT_THRESHOLD", 5),
		LockoutMinutes:   getEnvInt("TRELLIS_LOCKOUT_MINUTES", 15),
		LoginRatePerMin:  getEnvInt("TRELLIS_LOGIN_RATE_PER_MIN", 30),
		RetentionDays:    getEnvInt("TRELLIS_AUDIT_RETENTION_DAYS", 365),
		CacheSize:        getEnvInt("TRELLIS_CACHE_SIZE", 0),
		SMTP: SMTPConfig{
			Host:        getEnv("TRELLIS_SMTP_HOST", ""),
			Port:        getEnvInt("TRELLIS_SMTP_PORT", 587),
			Username:    getEnv("TRELLIS_SMTP_USERNAME", ""),
			Password:    getEnv("TRELLIS_SMTP_PASSWORD", ""),
			FromAddress: getEnv("TRELLIS_SMTP_FROM", ""),
			Encryption:  getEnv("TRELLIS_SMTP_ENCRYPTION", "starttls"),
		},
	}

	if urls := getEnv("TRELLIS_ALERT_URLS", ""); urls != "" {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.AlertURLs = append(cfg.AlertURLs, u)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

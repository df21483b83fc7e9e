// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	UploadDir   string

	// MaxAttachmentBytes is the upload size ceiling. A file of exactly
	// this size is accepted; one byte over is rejected.
	MaxAttachmentBytes int64

	// ChatPollInterval is the refresh period for the focused
	// conversation; SessionPollInterval for the session list.
	ChatPollInterval    time.Duration
	SessionPollInterval time.Duration

	// ArchiveAfter is how long a closed session sits before the
	// retention worker archives it.
	ArchiveAfter time.Duration
}

const defaultMaxAttachmentBytes = 5 << 20 // 5 MiB

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", ""),
		DBPath:              getEnv("DB_PATH", "./data/chatdesk.db"),
		UploadDir:           getEnv("UPLOAD_DIR", "./data/uploads"),
		MaxAttachmentBytes:  getEnvInt64("MAX_ATTACHMENT_BYTES", defaultMaxAttachmentBytes),
		ChatPollInterval:    getEnvDuration("CHAT_POLL_INTERVAL", 2*time.Second),
		SessionPollInterval: getEnvDuration("SESSION_POLL_INTERVAL", 5*time.Second),
		ArchiveAfter:        getEnvDuration("ARCHIVE_AFTER", 30*24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("MAX_ATTACHMENT_BYTES must be > 0")
	}
	if c.ChatPollInterval <= 0 {
		return fmt.Errorf("CHAT_POLL_INTERVAL must be > 0")
	}
	if c.SessionPollInterval <= 0 {
		return fmt.Errorf("SESSION_POLL_INTERVAL must be > 0")
	}
	if c.ArchiveAfter <= 0 {
		return fmt.Errorf("ARCHIVE_AFTER must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

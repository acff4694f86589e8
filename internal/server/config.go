// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the Anogram realtime service.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the fixed-window rate limiting parameters applied
// per connection and action.
type RateLimitConfig struct {
	Actions int
	Window  time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port             string
	AllowedOrigins   []string
	MaxMessageSize   int64
	MaxContentLength int
	RateLimit        RateLimitConfig
	DatabasePath     string
	JWTSecret        string
	EncryptionSecret string
	ShutdownTimeout  time.Duration
}

var (
	configMu     sync.RWMutex
	activeConfig Config
	activePolicy originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":3000",
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		MaxMessageSize:   65536,
		MaxContentLength: 10000,
		RateLimit: RateLimitConfig{
			Actions: 60,
			Window:  time.Minute,
		},
		DatabasePath:    "anogram.db",
		ShutdownTimeout: 10 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":3000"
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 65536
	}

	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 10000
	}

	if cfg.RateLimit.Actions <= 0 {
		cfg.RateLimit.Actions = 60
	}

	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "anogram.db"
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	policy, canonical := compileOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = canonical

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activePolicy = policy

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set. Missing
// secrets are replaced with ephemeral random ones so the server can start,
// at the cost of tokens and stored content not surviving a restart.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if maxContent := os.Getenv("MAX_CONTENT_LENGTH"); maxContent != "" {
		cfg.MaxContentLength = parseIntValue(maxContent, cfg.MaxContentLength)
	}

	if actions := os.Getenv("RATE_LIMIT_ACTIONS"); actions != "" {
		cfg.RateLimit.Actions = parseIntValue(actions, cfg.RateLimit.Actions)
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		cfg.RateLimit.Window = parseSeconds(window, cfg.RateLimit.Window)
	}

	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.DatabasePath = path
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
		log.Println("JWT_SECRET not set; generated an ephemeral secret")
	}

	cfg.EncryptionSecret = os.Getenv("ENCRYPTION_SECRET")
	if cfg.EncryptionSecret == "" {
		cfg.EncryptionSecret = randomSecret()
		log.Println("ENCRYPTION_SECRET not set; generated an ephemeral secret")
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("Failed to generate random secret: %v", err)
	}
	return hex.EncodeToString(buf)
}

// Package config loads runtime settings for the relay from environment
// variables, with a .env file honored in development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimitConfig defines per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds all server settings.
type Config struct {
	Port           string
	Env            string
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      RateLimitConfig

	// FixedRoomID pins the room page to one well-known room. Empty (the
	// default) gives every new visitor a freshly generated room.
	FixedRoomID string
	// HistoryLimit caps each room's retained message log; 0 is unbounded.
	HistoryLimit int
	// RoomIDLength is the length of generated room identifiers.
	RoomIDLength int
}

// Default returns the configuration used when no environment overrides are
// present.
func Default() *Config {
	return &Config{
		Port:           ":8080",
		Env:            "development",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 4096,
		SendBuffer:     256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		RoomIDLength: 4,
	}
}

// Load reads configuration from the environment, falling back to defaults
// for anything unset. A .env file is loaded first if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Default()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Port = port
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64(maxSize, cfg.MaxMessageSize)
	}
	if buffer := os.Getenv("SEND_BUFFER"); buffer != "" {
		cfg.SendBuffer = parseInt(buffer, cfg.SendBuffer)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseInt(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	cfg.FixedRoomID = os.Getenv("FIXED_ROOM_ID")
	if limit := os.Getenv("HISTORY_LIMIT"); limit != "" {
		cfg.HistoryLimit = parseInt(limit, cfg.HistoryLimit)
	}
	if length := os.Getenv("ROOM_ID_LENGTH"); length != "" {
		cfg.RoomIDLength = parseInt(length, cfg.RoomIDLength)
	}

	return cfg
}

// IsDevelopment reports whether the relay runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseInt64(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
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

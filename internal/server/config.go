package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration settings.
type Config struct {
	// ChatAddr is the TCP address of the line protocol listener.
	ChatAddr string
	// HTTPAddr is the admin HTTP address. Empty disables the admin surface.
	HTTPAddr string
	Env      string
	LogLevel string

	// AllowedOrigins restricts WebSocket upgrades. "*" allows any origin.
	AllowedOrigins []string
	// MaxMessageSize bounds one inbound protocol line in bytes.
	MaxMessageSize int
	// SendBuffer is the number of outbound messages queued per connection.
	SendBuffer int

	KeepAliveInterval time.Duration
	IdleThreshold     time.Duration
	ShutdownTimeout   time.Duration

	BuildingFile string
	UsersFile    string
	RedisURL     string
}

func defaultConfig() Config {
	return Config{
		ChatAddr: ":6666",
		HTTPAddr: ":8080",
		Env:      "development",
		LogLevel: "info",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:    4096,
		SendBuffer:        256,
		KeepAliveInterval: time.Second,
		IdleThreshold:     60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// sanitizeConfig replaces invalid values with their defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.ChatAddr == "" {
		cfg.ChatAddr = def.ChatAddr
	}
	if cfg.Env == "" {
		cfg.Env = def.Env
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = def.IdleThreshold
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, loading a
// .env file first when one exists. Unset or invalid values keep their
// defaults.
func NewConfigFromEnv() *Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if addr := os.Getenv("CHAT_ADDR"); addr != "" {
		cfg.ChatAddr = addr
	}

	// An explicitly empty HTTP_ADDR turns the admin surface off.
	if addr, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(addr)
	}

	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseIntValue(maxSize, cfg.MaxMessageSize)
	}

	if buffer := os.Getenv("SEND_BUFFER"); buffer != "" {
		cfg.SendBuffer = parseIntValue(buffer, cfg.SendBuffer)
	}

	if interval := os.Getenv("KEEPALIVE_INTERVAL"); interval != "" {
		cfg.KeepAliveInterval = parseSeconds(interval, cfg.KeepAliveInterval)
	}

	if threshold := os.Getenv("IDLE_THRESHOLD"); threshold != "" {
		cfg.IdleThreshold = parseSeconds(threshold, cfg.IdleThreshold)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	cfg.BuildingFile = os.Getenv("BUILDING_FILE")
	cfg.UsersFile = os.Getenv("USERS_FILE")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	return &cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
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

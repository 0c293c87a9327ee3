// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendSQL    = "sql"
	BackendMemory = "memory"
)

// Model backends.
const (
	ModelOpenAI  = "openai"
	ModelGRPC    = "grpc"
	ModelOffline = "offline"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	CORSOrigins []string
	Store       StoreConfig
	AI          AIConfig
	Callback    CallbackConfig
	Transcript  TranscriptConfig
}

// StoreConfig selects and configures session persistence.
type StoreConfig struct {
	Backend       string
	RedisURL      string
	SQLDriver     string
	SQLDSN        string
	SessionTTL    time.Duration
	KeyPrefix     string
	SweepInterval time.Duration
}

// AIConfig configures the question and analysis model.
type AIConfig struct {
	Backend     string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	TopP        float64
	Timeout     time.Duration
	GRPCAddr    string
}

// CallbackConfig configures the completion callback.
type CallbackConfig struct {
	URL     string
	Timeout time.Duration
}

// TranscriptConfig controls NDJSON session transcripts.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("APP_ENV", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: splitList(getEnv("CORS_ALLOW_ORIGINS", "*")),
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", BackendRedis)),
			RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			SQLDriver:     getEnv("SQL_DRIVER", "sqlite"),
			SQLDSN:        getEnv("SQL_DSN", "./data/rca.db"),
			SessionTTL:    time.Duration(getEnvInt("SESSION_TTL_SECONDS", 1800)) * time.Second,
			KeyPrefix:     getEnv("SESSION_KEY_PREFIX", "rca:session:"),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		},
		AI: AIConfig{
			Backend:     strings.ToLower(getEnv("MODEL_BACKEND", ModelOpenAI)),
			APIKey:      getEnv("GROQ_API_KEY", ""),
			BaseURL:     getEnv("AI_BASE_URL", ""),
			Model:       getEnv("AI_MODEL", "openai/gpt-oss-20b"),
			Temperature: getEnvFloat("AI_TEMPERATURE", 0.3),
			TopP:        getEnvFloat("AI_TOP_P", 0.85),
			Timeout:     getEnvDuration("AI_TIMEOUT", 60*time.Second),
			GRPCAddr:    getEnv("MODEL_GRPC_ADDR", "localhost:50051"),
		},
		Callback: CallbackConfig{
			URL:     getEnv("EXTERNAL_CALLBACK_URL", ""),
			Timeout: getEnvDuration("CALLBACK_TIMEOUT", 5*time.Second),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/transcripts"),
			QueueSize: getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 256),
		},
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
	switch c.Store.Backend {
	case BackendRedis, BackendMemory:
	case BackendSQL:
		if c.Store.SQLDSN == "" {
			return fmt.Errorf("SQL_DSN cannot be empty when STORE_BACKEND=sql")
		}
		if c.Store.SQLDriver != "sqlite" && c.Store.SQLDriver != "postgres" {
			return fmt.Errorf("SQL_DRIVER must be sqlite or postgres, got %q", c.Store.SQLDriver)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be redis, sql or memory, got %q", c.Store.Backend)
	}
	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be > 0")
	}
	if c.Store.KeyPrefix == "" {
		return fmt.Errorf("SESSION_KEY_PREFIX cannot be empty")
	}
	switch c.AI.Backend {
	case ModelOpenAI, ModelOffline:
	case ModelGRPC:
		if c.AI.GRPCAddr == "" {
			return fmt.Errorf("MODEL_GRPC_ADDR cannot be empty when MODEL_BACKEND=grpc")
		}
	default:
		return fmt.Errorf("MODEL_BACKEND must be openai, grpc or offline, got %q", c.AI.Backend)
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 1 {
		return fmt.Errorf("AI_TEMPERATURE must be within [0, 1]")
	}
	if c.AI.TopP < 0 || c.AI.TopP > 1 {
		return fmt.Errorf("AI_TOP_P must be within [0, 1]")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "dev" || c.Env == "development"
}

// HasAPIKey reports whether a provider key is configured.
func (c *Config) HasAPIKey() bool {
	return c.AI.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

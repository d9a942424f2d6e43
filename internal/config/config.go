// Package config provides environment configuration for the pipeline server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// JWT settings
	JWTSecret string

	// Generation settings
	LLMProvider     string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	LLMModel        string
	SystemPrompt    string

	// Dispatcher settings
	Workers            int
	MaxRetries         int
	RetryBackoffBase   time.Duration
	RetryBackoffCap    time.Duration
	GenerationTimeout  time.Duration
	ProcessingDeadline time.Duration
	SweepInterval      time.Duration
	ConfirmationTTL    time.Duration

	// External gateway settings
	GatewayAPIURL   string
	GatewayAPIToken string

	// NATS settings (event publishing; optional)
	NATSURL   string
	NATSToken string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Generation
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", ""),
		SystemPrompt:    getEnv("SYSTEM_PROMPT", ""),

		// Dispatcher
		Workers:            getIntEnv("PIPELINE_WORKERS", 8),
		MaxRetries:         getIntEnv("GENERATION_MAX_RETRIES", 3),
		RetryBackoffBase:   getDurationEnv("GENERATION_BACKOFF_BASE", time.Second),
		RetryBackoffCap:    getDurationEnv("GENERATION_BACKOFF_CAP", 8*time.Second),
		GenerationTimeout:  getDurationEnv("GENERATION_TIMEOUT", 25*time.Second),
		ProcessingDeadline: getDurationEnv("PROCESSING_DEADLINE", 30*time.Second),
		SweepInterval:      getDurationEnv("SWEEP_INTERVAL", 3*time.Second),
		ConfirmationTTL:    getDurationEnv("CONFIRMATION_TTL", 5*time.Minute),

		// External gateway
		GatewayAPIURL:   getEnv("GATEWAY_API_URL", ""),
		GatewayAPIToken: getEnv("GATEWAY_API_TOKEN", ""),

		// NATS
		NATSURL:   getEnv("NATS_URL", ""),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package config loads the server's environment-driven configuration —
// the platform convention is plain env vars, no config-file library.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	NATS          NATSConfig
	Redis         RedisConfig
	LLM           LLMConfig
	Auth          AuthConfig
	Telemetry     TelemetryConfig
	Orchestration OrchestrationConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NATSConfig holds the event-bridge broker settings.
type NATSConfig struct {
	URL string
}

// RedisConfig holds the cache/rate-limit store settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LLMConfig holds the provider API keys the agent node's AgentExecutor
// needs.
type LLMConfig struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// AuthConfig holds the auth surface's settings: JWT signing, the tenant
// anonymous/OAuth principals land in, and the OAuth app credentials.
type AuthConfig struct {
	Enabled            bool
	JWTSecret          string
	DefaultTenantID    string
	OAuthRedirectURL   string
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
}

// TelemetryConfig holds tracing settings; an empty endpoint leaves
// tracing off.
type TelemetryConfig struct {
	OTLPEndpoint string
}

// OrchestrationConfig bounds the spawn tree per tenant policy.
type OrchestrationConfig struct {
	MaxChildrenPerParent         int
	MaxSubtreeDepth              int
	MaxConcurrentChildrenPerRoot int
	DelegationTokenSecret        string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "appuser"),
			Password: getEnv("DB_PASSWORD", "apppass"),
			Database: getEnv("DB_NAME", "appdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		LLM: LLMConfig{
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		},
		Auth: AuthConfig{
			Enabled:            getEnvBool("AUTH_ENABLED", false),
			JWTSecret:          getEnv("JWT_SECRET", "default-secret-change-in-production"),
			DefaultTenantID:    getEnv("DEFAULT_TENANT_ID", ""),
			OAuthRedirectURL:   getEnv("OAUTH_REDIRECT_URL", ""),
			GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
			GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
		Orchestration: OrchestrationConfig{
			MaxChildrenPerParent:         getEnvInt("MAX_CHILDREN_PER_PARENT", 50),
			MaxSubtreeDepth:              getEnvInt("MAX_SUBTREE_DEPTH", 5),
			MaxConcurrentChildrenPerRoot: getEnvInt("MAX_CONCURRENT_CHILDREN_PER_ROOT", 100),
			DelegationTokenSecret:        getEnv("DELEGATION_TOKEN_SECRET", ""),
		},
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true") || value == "1"
	}
	return defaultValue
}

// ServerAddr returns the server address
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

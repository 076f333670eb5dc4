// Package config loads the switchboard application configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// domainPattern matches the http/https service URLs switchboard accepts.
var domainPattern = regexp.MustCompile(`^http(s?)://`)

// Config holds the application configuration
type Config struct {
	// Direct Line connection settings
	Token          string
	Domain         string
	ConversationID string
	BotAgent       string

	// Identity used for outbound activities
	UserID   string
	UserName string

	// Token persistence (enabled when both are set)
	SecretKeyBase string
	TokenDBPath   string

	// Health check server
	HealthCheckPort int // Port for health check HTTP server (0 = disabled)
}

// LoadFromEnv loads configuration from environment variables.
// Connection credentials are required; persistence and health settings are
// optional.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}

	// Required: initial bearer token
	cfg.Token = os.Getenv("SWITCHBOARD_TOKEN")
	if cfg.Token == "" {
		return nil, fmt.Errorf("SWITCHBOARD_TOKEN environment variable is required")
	}

	// Required: service domain
	cfg.Domain = os.Getenv("SWITCHBOARD_DOMAIN")
	if cfg.Domain == "" {
		return nil, fmt.Errorf("SWITCHBOARD_DOMAIN environment variable is required")
	}
	if !domainPattern.MatchString(cfg.Domain) {
		return nil, fmt.Errorf("SWITCHBOARD_DOMAIN must start with http:// or https://, got: %s", cfg.Domain)
	}

	// Required: user id for outbound activities
	cfg.UserID = os.Getenv("SWITCHBOARD_USER_ID")
	if cfg.UserID == "" {
		return nil, fmt.Errorf("SWITCHBOARD_USER_ID environment variable is required")
	}

	// Optional: display name, conversation resume, bot agent suffix
	cfg.UserName = os.Getenv("SWITCHBOARD_USER_NAME")
	cfg.ConversationID = os.Getenv("SWITCHBOARD_CONVERSATION_ID")
	cfg.BotAgent = os.Getenv("SWITCHBOARD_BOT_AGENT")

	// Optional: token persistence (both variables required together)
	cfg.TokenDBPath = os.Getenv("TOKEN_DB_PATH")
	cfg.SecretKeyBase = os.Getenv("SECRET_KEY_BASE")
	if cfg.TokenDBPath != "" && cfg.SecretKeyBase == "" {
		return nil, fmt.Errorf("SECRET_KEY_BASE is required when TOKEN_DB_PATH is set")
	}
	if cfg.SecretKeyBase != "" && cfg.TokenDBPath == "" {
		return nil, fmt.Errorf("TOKEN_DB_PATH is required when SECRET_KEY_BASE is set")
	}

	// Optional: health check port (0 = disabled)
	if healthPortStr := os.Getenv("HEALTH_CHECK_PORT"); healthPortStr != "" {
		healthPort, err := strconv.Atoi(healthPortStr)
		if err != nil {
			return nil, fmt.Errorf("invalid HEALTH_CHECK_PORT: %w", err)
		}
		if healthPort < 0 || healthPort > 65535 {
			return nil, fmt.Errorf("HEALTH_CHECK_PORT must be between 0 and 65535")
		}
		cfg.HealthCheckPort = healthPort
	}

	return cfg, nil
}

// PersistenceEnabled reports whether the encrypted token store is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.TokenDBPath != "" && c.SecretKeyBase != ""
}

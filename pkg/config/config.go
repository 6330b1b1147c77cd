package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/observability"
)

// DefaultIssuerURL is the production Helmholtz AAI issuer.
const DefaultIssuerURL = "https://login.helmholtz.de/oauth2"

// Config holds all bridge configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	OIDC          OIDCConfig
	Policy        PolicyConfig
	Sessions      SessionConfig
	Webhook       WebhookConfig
	Maintenance   MaintenanceConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// OIDCConfig holds the client registration with the AAI.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// PolicyConfig holds the access policy settings.
type PolicyConfig struct {
	// AllowedVOs restricts logins to users with at least one matching
	// entitlement. Empty means every VO is admitted.
	AllowedVOs []*regexp.Regexp

	// EnforceUniqueEmail denies logins whose email already belongs to a
	// different local account.
	EnforceUniqueEmail bool
}

// SessionConfig holds session lifetime and cookie settings.
type SessionConfig struct {
	TTL           time.Duration
	SecureCookies bool
}

// WebhookConfig holds the optional event forwarder target. An empty URL
// disables forwarding.
type WebhookConfig struct {
	URL    string
	Secret string
}

// MaintenanceConfig holds the cron schedules of the background jobs.
type MaintenanceConfig struct {
	// SessionCleanupSchedule removes expired sessions. Empty disables the
	// job.
	SessionCleanupSchedule string

	// EmptyVOCleanupSchedule removes VOs without members. Empty disables
	// the job.
	EmptyVOCleanupSchedule string

	// KeepVOs protects matching entitlements from empty-VO removal.
	KeepVOs []*regexp.Regexp
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	allowedVOs, err := getEnvPatterns("AAI_ALLOWED_VOS")
	if err != nil {
		return nil, err
	}
	keepVOs, err := getEnvPatterns("AAI_KEEP_VOS")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("AAI_HOST", "0.0.0.0"),
			Port:            getEnv("AAI_PORT", "8080"),
			ReadTimeout:     getEnvDuration("AAI_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AAI_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AAI_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AAI_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("AAI_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("AAI_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("AAI_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("AAI_POSTGRES_IDLE_CONNS", 5),
		},
		OIDC: OIDCConfig{
			IssuerURL:    getEnv("AAI_ISSUER_URL", DefaultIssuerURL),
			ClientID:     getEnv("AAI_CLIENT_ID", ""),
			ClientSecret: getEnv("AAI_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("AAI_REDIRECT_URL", ""),
		},
		Policy: PolicyConfig{
			AllowedVOs:         allowedVOs,
			EnforceUniqueEmail: getEnvBool("AAI_ENFORCE_UNIQUE_EMAIL", true),
		},
		Sessions: SessionConfig{
			TTL:           getEnvDuration("AAI_SESSION_TTL", 24*time.Hour),
			SecureCookies: getEnvBool("AAI_SECURE_COOKIES", true),
		},
		Webhook: WebhookConfig{
			URL:    getEnv("AAI_WEBHOOK_URL", ""),
			Secret: getEnv("AAI_WEBHOOK_SECRET", ""),
		},
		Maintenance: MaintenanceConfig{
			SessionCleanupSchedule: getEnv("AAI_SESSION_CLEANUP_SCHEDULE", "@hourly"),
			EmptyVOCleanupSchedule: getEnv("AAI_EMPTY_VO_CLEANUP_SCHEDULE", ""),
			KeepVOs:                keepVOs,
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("AAI_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("AAI_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.OIDC.IssuerURL == "" {
		return fmt.Errorf("issuer URL is required")
	}
	if c.OIDC.ClientID == "" {
		return fmt.Errorf("OIDC client id is required")
	}
	if c.OIDC.ClientSecret == "" {
		return fmt.Errorf("OIDC client secret is required")
	}
	if c.OIDC.RedirectURL == "" {
		return fmt.Errorf("OIDC redirect URL is required")
	}

	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required when a webhook URL is set")
	}

	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvPatterns parses a comma-separated list of regular expressions.
func getEnvPatterns(key string) ([]*regexp.Regexp, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}

	var patterns []*regexp.Regexp
	for _, raw := range strings.Split(value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		pattern, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern in %s: %w", key, err)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

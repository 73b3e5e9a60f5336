// Package config defines the global configuration structure for the CareBase
// platform. Configuration is loaded once at process start and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating code
// from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"carebase/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the CareBase platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"carebase-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Security SecurityConfig
	Notify   NotifyConfig

	// Build Metadata (injected via ldflags, not env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URL of the dashboard app, used in invitation links (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`
	// Soft request deadline applied by middleware.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AuthConfig holds session management parameters.
type AuthConfig struct {
	SessionKey SecretString  `envconfig:"SESSION_KEY" validate:"required,min=32"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"168h"`
	InviteTTL  time.Duration `envconfig:"INVITE_TTL" default:"72h"`
}

// SecurityConfig holds CORS and request-log redaction settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// NotifyConfig holds settings for outbound webhook notification delivery.
type NotifyConfig struct {
	UserAgent      string        `envconfig:"NOTIFY_USER_AGENT" default:"CareBase-Notify/1.0"`
	DefaultTimeout time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
	MaxRetries     int           `envconfig:"NOTIFY_MAX_RETRIES" default:"3"`

	// OfflineThreshold is how long a device may go without a heartbeat before
	// the watchdog raises a device-offline notification.
	OfflineThreshold time.Duration `envconfig:"DEVICE_OFFLINE_THRESHOLD" default:"90m"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Build metadata injected at link time via
// -ldflags "-X carebase/internal/config.version=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// LoadErrorType categorizes configuration loading failures to aid debugging.
type LoadErrorType string

const (
	// ErrParsing indicates a failure when parsing environment variable
	// values into their target types.
	ErrParsing LoadErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation LoadErrorType = "VALIDATION_FAILED"
)

// LoadError is a diagnostic error type returned by Load to aid debugging.
type LoadError struct {
	Type    LoadErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load resolves, parses, and validates the full configuration.
// A missing .env file is not an error; missing required variables are.
func Load() (*Config, error) {
	// All timestamps in the system are UTC; enforcing it here prevents
	// subtle drift between the API and the database.
	time.Local = time.UTC

	// Best-effort dotenv load for local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &LoadError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig runs the struct validation rules declared via `validate` tags.
func validateConfig(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	// SecretString redacts itself via Stringer; validate the raw value.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if s, ok := field.Interface().(SecretString); ok {
			return s.Unmask()
		}
		return nil
	}, SecretString(""))

	if err := v.Struct(cfg); err != nil {
		return &LoadError{
			Type:    ErrValidation,
			Message: "configuration failed validation",
			Err:     err,
		}
	}
	return nil
}

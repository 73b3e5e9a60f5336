// Package core provides the API chassis for the CareBase platform.
// It creates a chi router and enforces cross-cutting concerns -- security,
// logging, and error handling -- before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carebase/internal/config"
	"carebase/internal/types"
)

// Authenticator decouples the HTTP layer from the auth service, allowing for
// easy mocking in tests.
type Authenticator interface {
	// ResolveToken resolves a raw bearer token to an Actor.
	//
	// Distinct error codes:
	//   - ErrCodeAuthTokenInvalid if the token is malformed or unknown.
	//   - ErrCodeAuthSessionExpired if the session exists but has expired.
	//   - ErrCodeAuthAccountRetired if the staff member has been retired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RouteRegistrar registers a group of domain routes on a chi router.
// Handler packages provide registrars so core never imports them.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the CareBase API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator

	// V1RouteRegistrars is populated by the application entry point before
	// MountRoutes is called.
	V1RouteRegistrars []RouteRegistrar

	// DB is closed during Shutdown when set (satisfied by *pgxpool.Pool).
	DB interface{ Close() }

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources: the database
// pool is closed after in-flight requests have drained.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.DB != nil {
		s.DB.Close()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}

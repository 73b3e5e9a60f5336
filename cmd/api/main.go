// Package main is the entry point for the CareBase API server.
//
// It loads configuration, connects the PostgreSQL pool, wires the domain
// handlers onto the core chassis (middleware, routing, health checks), and
// serves HTTP until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carebase/internal/api/handlers"
	"carebase/internal/auth"
	"carebase/internal/billing"
	"carebase/internal/config"
	"carebase/internal/core"
	"carebase/internal/db"
	"carebase/internal/external"
	"carebase/internal/notifications"
	"carebase/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("carebase API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	// Repositories.
	staffRepo := db.NewStaffRepository(pool)
	sessionRepo := db.NewSessionRepository(pool)
	clientRepo := db.NewClientRepository(pool)
	deviceRepo := db.NewDeviceRepository(pool)
	inviteRepo := db.NewInvitationRepository(pool)
	notifRepo := db.NewNotificationRepository(pool)
	orgRepo := db.NewOrganizationRepository(pool)
	subRepo := db.NewSubscriptionRepository(pool)
	invoiceRepo := db.NewInvoiceRepository(pool)
	auditRepo := db.NewAuditRepository(pool)
	dashboardStore := db.NewDashboardStore(pool)

	// Domain services.
	authService := auth.NewService(auth.ServiceConfig{
		StaffRepo:   staffRepo,
		SessionRepo: sessionRepo,
		SessionTTL:  cfg.Auth.SessionTTL,
		Logger:      logger,
	})
	catalog := billing.NewStaticCatalog()
	engine := billing.NewPricingEngine(catalog)
	reporter := billing.NewDashboardReporter(dashboardStore)

	webhook := external.NewWebhookNotifier(cfg.Notify, cfg.Auth.SessionKey.Unmask(), logger)
	dispatcher := notifications.NewDispatcher(notifRepo, orgRepo, webhook, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.DB = pool
	srv.Authenticator = &serviceAuthenticator{service: authService}

	// Handlers. Role guards come from the server so middleware and handlers
	// share one enforcement path.
	guard := handlers.RoleGuard(srv.RequireRole)

	authHandler := handlers.NewAuthHandler(authService, staffRepo, auditRepo, srv.Validator, logger)
	orgHandler := handlers.NewOrganizationHandler(orgRepo, auditRepo, srv.Validator, logger)
	staffHandler := handlers.NewStaffHandler(
		staffRepo, inviteRepo, sessionRepo, orgRepo, catalog,
		&auth.CryptoTokenGenerator{}, authService,
		auditRepo, srv.Validator, logger,
		handlers.StaffHandlerConfig{
			InviteTTL:    cfg.Auth.InviteTTL,
			DashboardURL: cfg.Server.DashboardURL,
		},
	)
	clientHandler := handlers.NewClientHandler(clientRepo, auditRepo, srv.Validator, logger)
	deviceHandler := handlers.NewDeviceHandler(deviceRepo, auditRepo, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(
		subRepo, invoiceRepo, orgRepo, dashboardStore,
		engine, catalog, reporter,
		dispatcher, auditRepo,
		srv.Validator, logger,
	)
	notifHandler := handlers.NewNotificationHandler(notifRepo, logger)
	auditHandler := handlers.NewAuditHandler(auditRepo, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		authHandler.Routes(),
		orgHandler.Routes(guard),
		staffHandler.Routes(guard),
		clientHandler.Routes(),
		deviceHandler.Routes(guard),
		billingHandler.Routes(guard),
		notifHandler.Routes(),
		auditHandler.Routes(guard),
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// serviceAuthenticator adapts auth.Service to the core.Authenticator contract.
type serviceAuthenticator struct {
	service *auth.Service
}

func (a *serviceAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	staff, _, err := a.service.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &types.Actor{
		ID:             staff.ID,
		Type:           types.ActorTypeStaff,
		OrganizationID: staff.OrganizationID,
		Role:           staff.Role,
	}, nil
}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

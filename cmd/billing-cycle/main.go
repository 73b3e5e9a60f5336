// Package main is the billing cycle job. It runs once per invocation,
// invoicing every active subscription whose billing period has elapsed, then
// exits. Scheduling is external (cron or a container scheduler).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carebase/internal/billing"
	"carebase/internal/config"
	"carebase/internal/db"
	"carebase/internal/external"
	"carebase/internal/notifications"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel).With("job", "billing-cycle")
	logger.Info("billing cycle starting", "environment", cfg.Environment, "version", cfg.Build.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	pool, err := db.NewPool(poolCtx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	subRepo := db.NewSubscriptionRepository(pool)
	orgRepo := db.NewOrganizationRepository(pool)
	invoiceRepo := db.NewInvoiceRepository(pool)
	notifRepo := db.NewNotificationRepository(pool)
	dashboardStore := db.NewDashboardStore(pool)

	webhook := external.NewWebhookNotifier(cfg.Notify, cfg.Auth.SessionKey.Unmask(), logger)
	dispatcher := notifications.NewDispatcher(notifRepo, orgRepo, webhook, logger)

	engine := billing.NewPricingEngine(billing.NewStaticCatalog())
	runner := billing.NewCycleRunner(subRepo, orgRepo, dashboardStore, invoiceRepo, engine, dispatcher, logger)

	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("billing cycle: %w", err)
	}

	logger.Info("billing cycle finished",
		"processed", result.Processed,
		"invoiced", result.Invoiced,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	if result.Failed > 0 {
		return fmt.Errorf("billing cycle completed with %d failed organizations", result.Failed)
	}
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

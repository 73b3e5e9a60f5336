// Package main is the device offline watchdog. It runs once per invocation,
// raising a critical notification for every active device whose heartbeat is
// older than the configured threshold, then exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	logger := newLogger(cfg.LogLevel).With("job", "device-watchdog")
	logger.Info("device watchdog starting",
		"environment", cfg.Environment,
		"offline_threshold", cfg.Notify.OfflineThreshold.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	pool, err := db.NewPool(poolCtx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	deviceRepo := db.NewDeviceRepository(pool)
	notifRepo := db.NewNotificationRepository(pool)
	orgRepo := db.NewOrganizationRepository(pool)

	webhook := external.NewWebhookNotifier(cfg.Notify, cfg.Auth.SessionKey.Unmask(), logger)
	dispatcher := notifications.NewDispatcher(notifRepo, orgRepo, webhook, logger)

	threshold := time.Now().UTC().Add(-cfg.Notify.OfflineThreshold)
	stale, err := deviceRepo.ListStale(ctx, threshold)
	if err != nil {
		return fmt.Errorf("listing stale devices: %w", err)
	}

	var raised int
	for _, device := range stale {
		lastSeen := device.CreatedAt
		if device.LastSeenAt != nil {
			lastSeen = *device.LastSeenAt
		}

		n := notifications.DeviceOffline(device.OrganizationID, device, lastSeen)
		if err := dispatcher.Dispatch(ctx, n); err != nil {
			logger.Error("failed to raise offline notification",
				"device_id", device.ID,
				"organization_id", device.OrganizationID,
				"error", err,
			)
			continue
		}
		raised++
	}

	logger.Info("device watchdog finished", "stale", len(stale), "raised", raised)
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

// Package main is the maintenance janitor. It runs once per invocation,
// purging expired sessions and marking stale invitations as expired, then
// exits.
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

	logger := newLogger(cfg.LogLevel).With("job", "janitor")
	logger.Info("janitor starting", "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	pool, err := db.NewPool(poolCtx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	sessions, err := db.NewSessionRepository(pool).DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("purging expired sessions: %w", err)
	}

	invitations, err := db.NewInvitationRepository(pool).ExpireAllStale(ctx)
	if err != nil {
		return fmt.Errorf("expiring stale invitations: %w", err)
	}

	logger.Info("janitor finished",
		"sessions_purged", sessions,
		"invitations_expired", invitations,
	)
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

// Command edupulse runs the realtime engine headless: it connects with
// the stored session, keeps the notification feed and presence map in
// sync, and logs activity. UI front ends embed the engine instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/edupulse/edupulse/internal/credential"
	"github.com/edupulse/edupulse/internal/engine"
	"github.com/edupulse/edupulse/internal/feed"
	"github.com/edupulse/edupulse/internal/model"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	loginToken := flag.String("login", "", "store a fresh session token and exit")
	loginUser := flag.String("user", "", "user id for -login")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, *loginToken, *loginUser, logger); err != nil {
		logger.Error("edupulse failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, loginToken, loginUser string, logger *slog.Logger) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	margin := time.Duration(cfg.Credential.ExpiryMarginSec) * time.Second
	monitor := credential.NewMonitor(credential.KeyringStore{}, margin, logger)

	if loginToken != "" {
		if loginUser == "" {
			return fmt.Errorf("-login requires -user")
		}
		if err := monitor.Save(credential.Session{Token: loginToken, UserID: loginUser}); err != nil {
			return err
		}
		exp, err := credential.TokenExpiry(loginToken)
		if err != nil {
			return fmt.Errorf("stored, but token looks wrong: %w", err)
		}
		logger.Info("session stored", "user_id", loginUser, "expires", exp)
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	dbDir := filepath.Join(home, ".local", "share", "edupulse")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	persist, err := feed.NewPersistStore(filepath.Join(dbDir, "feed.db"), logger)
	if err != nil {
		return err
	}
	defer persist.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, monitor, persist, logger)

	loggedOut := make(chan string, 1)
	monitor.OnLogout(func(reason string) {
		select {
		case loggedOut <- reason:
		default:
		}
	})

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine (log in with -login): %w", err)
	}
	logger.Info("engine running", "server", cfg.Server.BaseURL)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			eng.Stop()
			return nil
		case reason := <-loggedOut:
			eng.Stop()
			return fmt.Errorf("session ended: %s", reason)
		case <-ticker.C:
			logger.Info("feed status",
				"total", eng.Feed().Len(),
				"unread", eng.Feed().UnreadCount(),
				"unread_system", eng.Feed().UnreadCount(model.KindSystem),
				"unread_tasks", eng.Feed().UnreadCount(model.KindTaskAssigned, model.KindSubmission),
				"online_peers", len(eng.Presence().OnlineIDs()),
			)
		}
	}
}

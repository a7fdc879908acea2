// Command sweeper expires exchanges that stayed idle before acceptance.
// It runs once and exits, so it can be scheduled by cron or a job runner.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"skillbarter/config"
	"skillbarter/db"
	"skillbarter/exchange"
	"skillbarter/negotiation"
	"skillbarter/notify"
	"skillbarter/timeline"
)

const runTimeout = 5 * time.Minute

func main() {
	configDir := pflag.String("config-dir", ".", "directory holding app.env")
	expireAfter := pflag.Duration("expire-after", 0, "idle period before expiry; overrides EXPIRE_AFTER")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *expireAfter > 0 {
		cfg.ExpireAfter = *expireAfter
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).With("service", "skillbarter-sweeper")

	if err := run(cfg, logger); err != nil {
		logger.Error("sweep failed", "operation", "expire_idle", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, ApplicationName: "skillbarter-sweeper"})
	if err != nil {
		return err
	}
	defer pool.Close()

	notifier, closeNotifier, err := notify.Build(ctx, cfg.NotifyOptions(), logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	svc := exchange.NewService(pool, exchange.NewRepository(pool), negotiation.NewRepository(pool), timeline.NewStore(pool), notifier, logger)
	cutoff := time.Now().UTC().Add(-cfg.ExpireAfter)
	n, err := svc.ExpireIdle(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("idle exchanges expired", "operation", "expire_idle", "expired", n, "cutoff", cutoff)
	return nil
}

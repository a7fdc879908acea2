package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"skillbarter/auth"
	"skillbarter/config"
	"skillbarter/db"
	"skillbarter/dispute"
	"skillbarter/exchange"
	"skillbarter/negotiation"
	"skillbarter/notify"
	"skillbarter/profile"
	"skillbarter/timeline"
)

func main() {
	configDir := pflag.String("config-dir", ".", "directory holding app.env")
	skipMigrate := pflag.Bool("skip-migrate", false, "do not apply database migrations at start")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, "skillbarter-api")

	if err := run(cfg, !*skipMigrate, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level, service string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).With("service", service)
}

func run(cfg config.Config, migrateUp bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrateUp {
		if err := db.Migrate(cfg.MigrationURL, cfg.DatabaseURL); err != nil {
			return err
		}
		logger.Info("migrations applied", "source", cfg.MigrationURL)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, ApplicationName: "skillbarter-api"})
	if err != nil {
		return err
	}
	defer pool.Close()

	notifier, closeNotifier, err := notify.Build(ctx, cfg.NotifyOptions(), logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	exchanges := exchange.NewRepository(pool)
	sessions := negotiation.NewRepository(pool)
	disputes := dispute.NewRepository(pool)
	profiles := profile.NewRepository(pool)
	history := timeline.NewStore(pool)

	negotiationService := negotiation.NewService(pool, sessions, exchanges, disputes, profiles, history, notifier, logger)
	server := &Server{
		authService:        auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
		exchangeService:    exchange.NewService(pool, exchanges, sessions, history, notifier, logger),
		negotiationService: negotiationService,
		disputeService:     dispute.NewService(pool, disputes, exchanges, negotiationService, profiles, history, notifier, logger),
		profileService:     profile.NewService(profiles),
		logger:             logger,
		requestTimeout:     cfg.RequestTimeout,
	}

	httpServer := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ServerAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

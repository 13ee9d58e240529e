package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"resume-renderer/internal/config"
	"resume-renderer/internal/http/server"
	"resume-renderer/internal/infra/chrome"
	"resume-renderer/internal/infra/logging"
	"resume-renderer/internal/infra/stats"
	"resume-renderer/internal/infra/tokens"
	"resume-renderer/internal/render"
)

func main() {
	cfg := config.Load()
	applyEnv(&cfg)

	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	logging.SetLogLevel(cfg.Logger.Level)

	var rec *stats.Recorder
	if cfg.Cache.StatsEnabled && cfg.Cache.RedisHost != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.StatsDB,
		})
		defer rdb.Close()
		rec = stats.NewRecorder(rdb)
	}

	idleConnsClosed := make(chan struct{})

	store := tokens.NewStore(cfg.Auth.Postgres)
	defer store.Close()
	if err := store.Load(context.Background()); err != nil {
		logging.Error("Failed to load API tokens", "error", err)
	}
	go store.RefreshPeriodically(cfg.Auth.ReloadInterval, idleConnsClosed)

	session := chrome.NewSession(cfg, chrome.NewLauncher(cfg))
	defer session.Shutdown()

	renderer, err := render.NewRenderer(session, cfg)
	if err != nil {
		logging.Error("Renderer setup failed", "error", err)
		os.Exit(1)
	}

	app, err := server.New(server.Deps{
		Config:   cfg,
		Renderer: renderer,
		Session:  session,
		Stats:    rec,
		Tokens:   store,
	})
	if err != nil {
		logging.Error("Server setup failed", "error", err)
		os.Exit(1)
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)

	startServer(app, cfg, sigint, idleConnsClosed, func() {
		if err := session.Shutdown(); err != nil {
			logging.Warn("Browser shutdown failed", "error", err)
		}
	})
	<-idleConnsClosed
}

// applyEnv lets common container variables override file settings.
func applyEnv(cfg *config.Config) {
	if cfg.PDF.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.PDF.ChromePath = v
		}
	}
}

// startServer starts the Fiber app and blocks until a shutdown signal arrives.
func startServer(app *fiber.App, cfg config.Config, sigint <-chan os.Signal, idleConnsClosed chan struct{}, onStop func()) {
	go func() {
		logging.Info("Server listening", "addr", cfg.Server.Host+cfg.Server.Port)
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}
	if onStop != nil {
		onStop()
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradepit/internal/api"
	"tradepit/internal/archive"
	"tradepit/internal/auth"
	"tradepit/internal/config"
	"tradepit/internal/db"
	"tradepit/internal/game"
	"tradepit/internal/metrics"

	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	if cfg.AdminSecretDefault {
		logger.Warn("PIT_ADMIN_SECRET is not set, using the built-in default")
	}

	gate, err := auth.NewAdminGate(cfg.AdminSecret, cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("admin gate init failed", "err", err)
		os.Exit(1)
	}
	if cfg.TokenSecret == "" {
		logger.Info("PIT_TOKEN_SECRET is not set, admin tokens will not survive a restart")
	}

	reg := metrics.New()
	hub := api.NewHub(logger, reg)
	publishers := game.Publishers{hub}

	var sink *archive.Sink
	if cfg.ArchiveDatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.ArchiveDatabaseURL)
		if err != nil {
			logger.Error("archive db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := archive.EnsureSchema(ctx, pool); err != nil {
			logger.Error("archive schema init failed", "err", err)
			os.Exit(1)
		}
		sink = archive.NewSink(pool, logger)
		sink.Start(ctx)
		publishers = append(publishers, sink)
		logger.Info("session archive enabled")
	}

	engine := game.NewEngine(game.Options{
		Rules:         cfg.Rules,
		Logger:        logger,
		Publisher:     publishers,
		Recorder:      reg,
		Authenticator: gate,
	})

	go hub.Run(ctx)

	server := api.New(logger, engine, gate, hub, reg.Handler())
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	rules := engine.Rules()
	logger.Info("tradepit server listening",
		"addr", cfg.Addr,
		"session_seconds", rules.SessionSeconds,
		"countdown_seconds", rules.CountdownSeconds,
		"loss_limit", rules.LossLimit,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}

	engine.Shutdown()
	if sink != nil {
		sink.Wait()
	}
	logger.Info("tradepit server stopped")
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

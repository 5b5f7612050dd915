package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"portalchat/internal/config"
	"portalchat/internal/httpserver"
	"portalchat/internal/presence"
	"portalchat/internal/service"
	"portalchat/internal/store/sqlite"
	"portalchat/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var zl *zap.Logger
	if cfg.Debug {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	// Initialize database
	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	// Repositories
	msgRepo := sqlite.NewMessageRepo(db)
	reactionRepo := sqlite.NewReactionRepo(db)
	banRepo := sqlite.NewBanRepo(db)
	reportRepo := sqlite.NewReportRepo(db)
	nameRepo := sqlite.NewDeviceNameRepo(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Presence registry with its stale-session reaper
	reg := presence.NewRegistry(logger, cfg.PresenceTTL)
	go reg.Run(ctx)

	// Services
	moderationSvc := service.NewModerationService(logger, banRepo, reportRepo, nameRepo, msgRepo, reg)
	chatSvc := service.NewChatService(logger, msgRepo, reactionRepo, moderationSvc, cfg.HistoryLimit, cfg.MaxMessageRunes)
	reactionSvc := service.NewReactionService(logger, reactionRepo, msgRepo, moderationSvc)

	if err := chatSvc.Restore(ctx); err != nil {
		logger.Fatalf("failed to restore message tail: %v", err)
	}

	// Connection hub plus the room's fan-out goroutine
	hub := ws.NewHub()
	broadcaster := ws.NewBroadcaster(logger, hub, reg, reactionSvc, moderationSvc)
	go broadcaster.Run(ctx)

	// Build HTTP router
	router := httpserver.NewRouter(cfg, logger, reg, hub, chatSvc, reactionSvc, moderationSvc)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Infow("starting chat server", "addr", cfg.HTTPAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown failed: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"lobbycast/internal/app"
	"lobbycast/internal/config"
	"lobbycast/internal/logger"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	bootLogger, err := logger.New("info", false)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		bootLogger.Fatal("failed to create logger", zap.Error(err))
	}
	defer lg.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to start", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: a.Router,
	}

	go func() {
		lg.Info("server starting",
			zap.String("address", cfg.Server.Address),
			zap.Bool("devLogin", cfg.Auth.DevLogin),
			zap.Bool("mongo", cfg.Mongo.URI != ""),
			zap.Bool("redis", cfg.Redis.Addr != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("listen and serve", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server forced to shutdown", zap.Error(err))
	}
	a.Close(shutdownCtx)

	lg.Info("server exited")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"savings-service/internal/config"
	"savings-service/internal/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Savings: No .env file found, relying on system env vars")
	}

	cfg := config.Load()
	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to start savings service", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("savings service starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("storage", cfg.StorageDriver))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}
}

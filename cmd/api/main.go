package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"asset-census-api/internal"
	"asset-census-api/internal/config"
	"asset-census-api/internal/photos"
	"asset-census-api/internal/store"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	cfg, err := config.LoadAndValidate()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := store.Open(ctx, cfg.DatabaseURL, cfg.MigrationsDir, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	ph, err := photos.NewFS(cfg.PhotoDir, cfg.PhotoMaxBytes)
	if err != nil {
		st.Close()
		return fmt.Errorf("init photo storage: %w", err)
	}

	srv, err := internal.NewServer(ctx, cfg, st, ph, logger)
	if err != nil {
		st.Close()
		return fmt.Errorf("init server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Configuration loaded",
		zap.String("http_address", cfg.HTTPAddr),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.String("photo_dir", cfg.PhotoDir),
		zap.String("jwt_issuer", cfg.JWTIssuer),
		zap.Duration("jwt_expiry", cfg.JWTExpiry),
		zap.Bool("metrics", cfg.EnableMetrics))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("address", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := srv.Close(shutdownCtx); err != nil {
			logger.Error("store close error", zap.Error(err))
		}
		logger.Info("Server stopped")
		return nil
	})

	return g.Wait()
}

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

	"actionrecorder/backend/internal/api/handlers"
	"actionrecorder/backend/internal/api/routes"
	"actionrecorder/backend/internal/config"
	"actionrecorder/backend/internal/coordinator"
	"actionrecorder/backend/internal/recorder"
	"actionrecorder/backend/internal/retry"
	"actionrecorder/backend/internal/services"
	"actionrecorder/backend/internal/store"
	"actionrecorder/backend/pkg/chrome"
	"actionrecorder/backend/pkg/database"
	"actionrecorder/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Encoding, cfg.Server.Mode)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Recorder exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg, zlog)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close(db)

	hub := handlers.NewHub(zlog.Named("ws"))
	defer hub.Close()

	host := recorder.NewHost(recorder.Config{
		Logger: zlog.Named("browser"),
		Chrome: chrome.Options{
			ExecPath: cfg.Chrome.ExecPath,
			Headless: cfg.Chrome.HeadlessMode,
			Width:    cfg.Chrome.Width,
			Height:   cfg.Chrome.Height,
		},
		StartURL:     cfg.Chrome.StartURL,
		PollInterval: cfg.Recorder.PollInterval,
		DedupWindow:  cfg.Recorder.DedupWindow,
	})

	coord := coordinator.New(host, coordinator.Config{
		Logger:       zlog.Named("coordinator"),
		Store:        store.New(db),
		Publisher:    hub,
		ProbeTimeout: cfg.Recorder.ProbeTimeout,
		Inject:       retry.Policy{Retries: cfg.Recorder.InjectRetries, Delay: cfg.Recorder.InjectBackoff},
		ReadyDelay:   cfg.Recorder.ReadyDelay,
	})
	hub.GenerateFrom(coord.Actions)
	if err := coord.Restore(ctx); err != nil {
		zlog.Warn("Failed to restore recorder state", zap.Error(err))
	}

	if err := host.Start(ctx, coord); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer host.Close()
	defer coord.Close()
	zlog.Info("Browser started", zap.String("start_url", cfg.Chrome.StartURL))

	liveness := services.NewLivenessService(coord, zlog.Named("liveness"), cfg.Recorder.ProbeTimeout*5)
	if err := liveness.Start(cfg.Recorder.LivenessSpec); err != nil {
		return fmt.Errorf("start liveness sweep: %w", err)
	}
	defer liveness.Stop()

	gin.SetMode(cfg.Server.Mode)
	h := handlers.New(coord, host, handlers.Auth{
		Secret:       cfg.JWT.Secret,
		ExpireTime:   cfg.JWT.ExpireTime,
		PasswordHash: cfg.JWT.PasswordHash,
	}, zlog.Named("api"))
	router := routes.SetupRoutes(h, hub, cfg.JWT.Secret, cfg.JWT.PasswordHash != "")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	zlog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("Server shutdown failed", zap.Error(err))
	}
	zlog.Info("Server shutdown complete")
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-planner/internal/app"
	"github.com/arnavshah/shift-planner/internal/config"
	"github.com/arnavshah/shift-planner/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("PLANNER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Load .env if it exists
	envFile := config.LoadDotEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	if envFile != "" {
		zl.Debug("loaded env file", zap.String("path", envFile))
	}

	if cfg.Release() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(cfg.Server.Mode)
	}

	a, err := app.Build(cfg, zl, app.Options{Quiet: cfg.Release()})
	if err != nil {
		zl.Fatal("build service", zap.Error(err))
	}
	if err := a.Start(); err != nil {
		zl.Fatal("start sweep", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.Engine,
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		zl.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("could not run server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server shutdown", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		zl.Error("close storage", zap.Error(err))
	}
}

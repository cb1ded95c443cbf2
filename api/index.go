package handler

import (
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/shift-planner/internal/app"
	"github.com/arnavshah/shift-planner/internal/config"
	"github.com/arnavshah/shift-planner/internal/logger"
)

var (
	once    sync.Once
	engine  http.Handler
	initErr error
)

func setup() {
	// Load .env if it exists (for local testing with vercel dev)
	config.LoadDotEnv()

	cfg, err := config.Load("")
	if err != nil {
		initErr = err
		return
	}
	zl, err := logger.New(cfg.Log)
	if err != nil {
		initErr = err
		return
	}

	gin.SetMode(gin.ReleaseMode)
	// functions are short lived, so expiry runs through POST /api/sweep
	a, err := app.Build(cfg, zl, app.Options{})
	if err != nil {
		initErr = err
		return
	}
	engine = a.Engine
}

// Handler is the entry point for Vercel Go Runtime
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(setup)
	if initErr != nil {
		log.Printf("planner init: %v", initErr)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	engine.ServeHTTP(w, r)
}

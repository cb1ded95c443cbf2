// Package app wires configuration, storage, the planning core and the HTTP
// routes into one runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arnavshah/shift-planner/internal/config"
	"github.com/arnavshah/shift-planner/internal/metrics"
	"github.com/arnavshah/shift-planner/pkg/auth"
	"github.com/arnavshah/shift-planner/pkg/database"
	"github.com/arnavshah/shift-planner/pkg/handlers"
	"github.com/arnavshah/shift-planner/pkg/router"
	"github.com/arnavshah/shift-planner/pkg/scheduler"
	"github.com/arnavshah/shift-planner/pkg/store"
)

// App is a wired service
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	DB      *gorm.DB
	Planner *scheduler.Planner
	Engine  *gin.Engine

	cron *cron.Cron
}

// Options tunes Build
type Options struct {
	// Registry receives the planner metrics; nil uses a fresh registry
	Registry *prometheus.Registry
	// Quiet drops the gin request logger
	Quiet bool
}

// Build opens storage, seeds the admin account and mounts the routes. The
// sweep is not started; call Start for that.
func Build(cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}

	var (
		repo store.Repository
		dir  store.Directory
	)
	switch cfg.StorageDriver() {
	case config.DriverMemory:
		mem := store.NewMemory()
		repo, dir = mem, mem
	default:
		r := database.NewRepository(db, policy.Location)
		repo, dir = r, r
	}
	log.Info("storage ready", zap.String("driver", cfg.StorageDriver()))

	authn := auth.New(cfg.Auth)
	created, err := authn.EnsureAdminExists(db, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("ensure admin: %w", err)
	}
	if created {
		log.Info("admin account created", zap.String("username", cfg.Auth.AdminUsername))
	}

	var (
		collector metrics.Collector = metrics.NewNop()
		gatherer  prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := opts.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		collector = metrics.NewPrometheus(reg, cfg.Metrics.Namespace)
		gatherer = reg
	}

	planner := scheduler.New(repo, policy,
		scheduler.WithLogger(log.Named("planner")),
		scheduler.WithMetrics(collector),
	)
	h := handlers.New(db, planner, dir, authn, cfg.RateLimit, log.Named("http"))

	return &App{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Planner: planner,
		Engine:  router.New(h, router.Options{Gatherer: gatherer, Quiet: opts.Quiet}),
	}, nil
}

// Start schedules the expiry sweep when it is enabled
func (a *App) Start() error {
	if !a.Config.Sweep.Enabled {
		return nil
	}
	a.cron = cron.New(cron.WithLocation(a.Planner.Policy().Location))
	_, err := a.cron.AddFunc(a.Config.Sweep.Schedule, a.sweep)
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", a.Config.Sweep.Schedule, err)
	}
	a.cron.Start()
	a.Log.Info("expiry sweep scheduled", zap.String("schedule", a.Config.Sweep.Schedule))
	return nil
}

func (a *App) sweep() {
	res, err := a.Planner.SweepExpirations(context.Background(), time.Now())
	if err != nil {
		a.Log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if n := len(res.ExpiredAssignments) + len(res.ExpiredSwaps); n > 0 {
		a.Log.Info("expiry sweep",
			zap.Int("assignments", len(res.ExpiredAssignments)),
			zap.Int("swaps", len(res.ExpiredSwaps)),
		)
	}
}

// Close stops the sweep, waiting for a running one, and closes the database
func (a *App) Close() error {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

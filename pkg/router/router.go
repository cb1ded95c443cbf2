// Package router mounts the HTTP routes on a gin engine.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arnavshah/shift-planner/pkg/handlers"
)

// Version is reported by the root route
const Version = "1.0.0"

// Options tunes the engine
type Options struct {
	// Gatherer serves /metrics; nil leaves the route out
	Gatherer prometheus.Gatherer
	// Quiet drops the request logger
	Quiet bool
}

// New builds the engine with every route
func New(h *handlers.Handler, opts Options) *gin.Engine {
	r := gin.New()
	if !opts.Quiet {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Shift Planner API",
			"version": Version,
		})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/admin/login", h.Login)

	// Admin Endpoints
	admin := r.Group("/admin")
	admin.Use(h.AuthMiddleware())
	{
		admin.POST("/keys", h.GenerateKey)
		admin.GET("/keys", h.ListKeys)
		admin.PUT("/keys/:id", h.UpdateKeyLimit)
		admin.DELETE("/keys/:id", h.RevokeKey)
		admin.GET("/usage/:id", h.GetUsage)

		admin.PUT("/users/:id", h.PutUser)
		admin.PUT("/teams/:id", h.PutTeam)
		admin.PUT("/templates/:id", h.PutTemplate)
		admin.PUT("/skills/:id", h.PutSkill)
	}

	// Planning Endpoints
	api := r.Group("/api")
	api.Use(h.APIKeyMiddleware())
	{
		api.POST("/planning/runs", h.RunPlanning)
		api.GET("/planning/runs", h.ListRuns)
		api.POST("/planning/batch", h.RunBatch)

		api.POST("/templates/validate", h.ValidateTemplate)
		api.GET("/templates/:id/expand", h.ExpandTemplate)

		api.POST("/assignments/:id/confirm", h.ConfirmAssignment)
		api.POST("/assignments/:id/decline", h.DeclineAssignment)
		api.POST("/assignments/:id/complete", h.CompleteAssignment)
		api.POST("/assignments/:id/cancel", h.CancelAssignment)
		api.GET("/assignments/:id/history", h.AssignmentHistory)

		api.POST("/swaps", h.SubmitSwap)
		api.POST("/swaps/:id/evaluate", h.EvaluateSwap)
		api.POST("/sweep", h.Sweep)

		api.GET("/ledger/:user_id", h.GetLedger)
		api.GET("/usage", h.GetMyUsage)
	}

	return r
}

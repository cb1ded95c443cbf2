package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arnavshah/shift-planner/pkg/database"
	"github.com/arnavshah/shift-planner/pkg/models"
)

// usageDelta collects what one request did, flushed by recordUsage
type usageDelta struct {
	runs        int
	assignments int
	gaps        int
}

// countRuns adds planning run results to the request's usage
func countRuns(c *gin.Context, runs ...models.RunSummary) {
	raw, ok := c.Get(ctxUsage)
	if !ok {
		return
	}
	u := raw.(*usageDelta)
	for _, r := range runs {
		u.runs++
		u.assignments += len(r.NewAssignments)
		u.gaps += len(r.Gaps)
	}
}

// recordUsage records API usage in the database using an efficient upsert
func (h *Handler) recordUsage(c *gin.Context) {
	apiKeyRaw, exists := c.Get(ctxAPIKey)
	if !exists {
		return
	}
	apiKey := apiKeyRaw.(*database.APIKey)
	delta := &usageDelta{}
	if raw, ok := c.Get(ctxUsage); ok {
		delta = raw.(*usageDelta)
	}

	// Use OnConflict for a single-query upsert (supported by both Postgres and SQLite)
	err := h.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_count": gorm.Expr("request_count + ?", 1),
			"runs":          gorm.Expr("runs + ?", delta.runs),
			"assignments":   gorm.Expr("assignments + ?", delta.assignments),
			"gaps":          gorm.Expr("gaps + ?", delta.gaps),
		}),
	}).Create(&database.APIUsage{
		KeyID:        apiKey.ID,
		Date:         h.today(),
		RequestCount: 1,
		Runs:         delta.runs,
		Assignments:  delta.assignments,
		Gaps:         delta.gaps,
	}).Error
	if err != nil {
		h.Log.Warn("record api usage", zap.Uint("key_id", apiKey.ID), zap.Error(err))
	}
}

// GetMyUsage returns usage stats for the authenticated API key
func (h *Handler) GetMyUsage(c *gin.Context) {
	apiKeyRaw, exists := c.Get(ctxAPIKey)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "API Key context missing"})
		return
	}
	apiKey := apiKeyRaw.(*database.APIKey)

	var usage []database.APIUsage
	if err := h.DB.Where("key_id = ?", apiKey.ID).Order("date desc").Limit(30).Find(&usage).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch usage details"})
		return
	}

	// Calculate totals
	var totalRequests, totalRuns, totalAssignments, totalGaps int64
	for _, u := range usage {
		totalRequests += int64(u.RequestCount)
		totalRuns += int64(u.Runs)
		totalAssignments += int64(u.Assignments)
		totalGaps += int64(u.Gaps)
	}

	c.JSON(http.StatusOK, gin.H{
		"key_name":      apiKey.Name,
		"rate_limit":    apiKey.RateLimit,
		"usage_history": usage,
		"totals": gin.H{
			"requests":    totalRequests,
			"runs":        totalRuns,
			"assignments": totalAssignments,
			"gaps":        totalGaps,
		},
	})
}

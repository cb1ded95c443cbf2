package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-planner/pkg/auth"
	"github.com/arnavshah/shift-planner/pkg/database"
	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/scheduler"
)

// Login handles admin login
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	token, err := h.Auth.Login(h.DB, req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		h.Log.Error("admin login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// GenerateKey creates a new API key using the HMAC strategy
func (h *Handler) GenerateKey(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		RateLimit int    `json:"rate_limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.RateLimit == 0 {
		req.RateLimit = defaultKeyQuota
	}

	key, err := h.Auth.GenerateHMACKey(req.Name)
	if err != nil {
		badRequest(c, err)
		return
	}

	apiKey := database.APIKey{
		Key:        key,
		Name:       req.Name,
		KeyPreview: auth.KeyPreview(key),
		RateLimit:  req.RateLimit,
	}
	if err := h.DB.Create(&apiKey).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Could not create key record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   apiKey.ID,
		"name": req.Name,
		"key":  key,
	})
}

// ListKeys returns all API keys
func (h *Handler) ListKeys(c *gin.Context) {
	var keys []database.APIKey
	if err := h.DB.Order("id").Find(&keys).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not list keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func keyID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return 0, false
	}
	return uint(id), true
}

// RevokeKey deletes an API key record. The HMAC key itself stays valid
// until the master secret rotates; it is re-tracked on next use.
func (h *Handler) RevokeKey(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}
	res := h.DB.Delete(&database.APIKey{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not delete key"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}
	h.dropLimiter(id)
	c.JSON(http.StatusOK, gin.H{"message": "Key revoked"})
}

// UpdateKeyLimit updates the daily request quota of a key
func (h *Handler) UpdateKeyLimit(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}
	var req struct {
		RateLimit int `json:"rate_limit" form:"rate_limit"`
	}

	// Try JSON first, then Form/Query
	if err := c.ShouldBindJSON(&req); err != nil {
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate_limit is required"})
			return
		}
	}
	if req.RateLimit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate limit"})
		return
	}

	res := h.DB.Model(&database.APIKey{}).Where("id = ?", id).Update("rate_limit", req.RateLimit)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not update key limit"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}
	h.dropLimiter(id)
	c.JSON(http.StatusOK, gin.H{"message": "Rate limit updated successfully"})
}

// GetUsage returns usage stats for a key
func (h *Handler) GetUsage(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}
	var usage []database.APIUsage
	if err := h.DB.Where("key_id = ?", id).Order("date desc").Limit(30).Find(&usage).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch usage details"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

// bindWithID binds the body and makes the path id authoritative
func bindWithID(c *gin.Context, v any, setID func(string) string) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, err)
		return false
	}
	if bodyID := setID(c.Param("id")); bodyID != "" && bodyID != c.Param("id") {
		badRequest(c, errors.New("id in body does not match the path"))
		return false
	}
	return true
}

// PutUser creates or replaces a user with its skills, availability, limits
// and counters
func (h *Handler) PutUser(c *gin.Context) {
	var u models.User
	if !bindWithID(c, &u, func(id string) string { prev := u.ID; u.ID = id; return prev }) {
		return
	}
	if err := h.Directory.SaveUser(c.Request.Context(), &u); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// PutTeam creates or replaces a team and its memberships
func (h *Handler) PutTeam(c *gin.Context) {
	var t models.Team
	if !bindWithID(c, &t, func(id string) string { prev := t.ID; t.ID = id; return prev }) {
		return
	}
	if err := h.Directory.SaveTeam(c.Request.Context(), &t); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// PutTemplate validates and stores a shift template
func (h *Handler) PutTemplate(c *gin.Context) {
	var t models.ShiftTemplate
	if !bindWithID(c, &t, func(id string) string { prev := t.ID; t.ID = id; return prev }) {
		return
	}
	if err := scheduler.ValidateTemplate(t, h.Planner.Policy().Handover); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.Directory.SaveTemplate(c.Request.Context(), &t); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// PutSkill creates or replaces a skill in the catalog
func (h *Handler) PutSkill(c *gin.Context) {
	var s models.Skill
	if !bindWithID(c, &s, func(id string) string { prev := s.ID; s.ID = id; return prev }) {
		return
	}
	if s.Weight < 0 {
		badRequest(c, errors.New("weight must not be negative"))
		return
	}
	if err := h.Directory.SaveSkill(c.Request.Context(), &s); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

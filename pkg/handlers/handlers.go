package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/arnavshah/shift-planner/internal/config"
	"github.com/arnavshah/shift-planner/pkg/auth"
	"github.com/arnavshah/shift-planner/pkg/database"
	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/scheduler"
	"github.com/arnavshah/shift-planner/pkg/store"
)

// Context keys set by the middlewares
const (
	ctxUsername = "username"
	ctxAPIKey   = "apiKey"
	ctxClientID = "clientID"
	ctxUsage    = "usage"
)

// defaultKeyQuota is the daily request quota of keys created on first use
const defaultKeyQuota = 10000

// Handler contains dependencies for the route handlers
type Handler struct {
	DB        *gorm.DB
	Planner   *scheduler.Planner
	Directory store.Directory
	Auth      *auth.Authenticator
	Log       *zap.Logger

	rateLimit config.RateLimitConfig
	limiters  *xsync.MapOf[uint, *rate.Limiter]
	now       func() time.Time
}

// New wires a Handler. db holds API keys, usage and admins; planner and dir
// serve the planning endpoints.
func New(db *gorm.DB, planner *scheduler.Planner, dir store.Directory, authn *auth.Authenticator, rl config.RateLimitConfig, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		DB:        db,
		Planner:   planner,
		Directory: dir,
		Auth:      authn,
		Log:       log,
		rateLimit: rl,
		limiters:  xsync.NewMapOf[uint, *rate.Limiter](),
		now:       time.Now,
	}
}

func bearer(c *gin.Context) string {
	token := c.GetHeader("Authorization")
	// Strip "Bearer " if present
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = token[7:]
	}
	return token
}

// AuthMiddleware verifies the JWT token for admin routes
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := h.Auth.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

// APIKeyMiddleware verifies the HMAC API key, tracks the key record and
// enforces its per-second rate and daily quota. The request is counted in
// the key's usage once the handler has run.
func (h *Handler) APIKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := bearer(c)
		if key == "" {
			key = c.GetHeader("X-API-Key")
		}
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API Key required"})
			return
		}

		clientID, err := h.Auth.VerifyHMACKey(key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API Key signature"})
			return
		}

		apiKey, err := h.Auth.TrackAPIKey(h.DB, key, clientID, defaultKeyQuota)
		if err != nil {
			h.Log.Error("track api key", zap.String("client", clientID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Could not load API key"})
			return
		}

		if !h.limiter(apiKey.ID).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		if exceeded, err := h.quotaExceeded(apiKey); err != nil {
			h.Log.Error("read api usage", zap.Uint("key_id", apiKey.ID), zap.Error(err))
		} else if exceeded {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Daily quota exceeded"})
			return
		}

		c.Set(ctxAPIKey, apiKey)
		c.Set(ctxClientID, clientID)
		c.Set(ctxUsage, &usageDelta{})
		c.Next()

		h.recordUsage(c)
	}
}

func (h *Handler) limiter(keyID uint) *rate.Limiter {
	if l, ok := h.limiters.Load(keyID); ok {
		return l
	}
	l, _ := h.limiters.LoadOrStore(keyID, rate.NewLimiter(rate.Limit(h.rateLimit.RPS), h.rateLimit.Burst))
	return l
}

// dropLimiter forgets a key's limiter after its record changed
func (h *Handler) dropLimiter(keyID uint) {
	h.limiters.Delete(keyID)
}

func (h *Handler) quotaExceeded(apiKey *database.APIKey) (bool, error) {
	if apiKey.RateLimit <= 0 {
		return false, nil
	}
	var usage database.APIUsage
	err := h.DB.Where("key_id = ? AND date = ?", apiKey.ID, h.today()).Limit(1).Find(&usage).Error
	if err != nil {
		return false, err
	}
	return usage.RequestCount >= apiKey.RateLimit, nil
}

func (h *Handler) today() string {
	return h.now().Format(time.DateOnly)
}

// respondError maps core and storage errors onto HTTP statuses
func (h *Handler) respondError(c *gin.Context, err error) {
	var ve *scheduler.ValidationError
	switch {
	case errors.As(err, &ve) && ve.Reason == scheduler.ReasonNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": ve.Error(), "reason": ve.Reason})
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ve.Error(), "reason": ve.Reason})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrContention), errors.Is(err, store.ErrOptimisticLock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// parseTime accepts a date ("2006-01-02", midnight in the planning
// location) or an RFC 3339 timestamp
func (h *Handler) parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, h.Planner.Policy().Location); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: expected YYYY-MM-DD or RFC 3339, got %q", field, s)
	}
	return t.In(h.Planner.Policy().Location), nil
}

func (h *Handler) parsePeriod(from, to string) (models.Period, error) {
	f, err := h.parseTime("from", from)
	if err != nil {
		return models.Period{}, err
	}
	t, err := h.parseTime("to", to)
	if err != nil {
		return models.Period{}, err
	}
	return models.Period{From: f, To: t}, nil
}

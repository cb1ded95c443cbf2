package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnavshah/shift-planner/internal/config"
	"github.com/arnavshah/shift-planner/internal/metrics"
	"github.com/arnavshah/shift-planner/pkg/auth"
	"github.com/arnavshah/shift-planner/pkg/database"
	"github.com/arnavshah/shift-planner/pkg/handlers"
	"github.com/arnavshah/shift-planner/pkg/scheduler"
	"github.com/arnavshah/shift-planner/pkg/store"
)

func newHandler(t *testing.T, collector metrics.Collector) *handlers.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.Open(config.StorageConfig{Path: filepath.Join(t.TempDir(), "planner.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	mem := store.NewMemory()
	planner := scheduler.New(mem, scheduler.Policy{Location: time.UTC}, scheduler.WithMetrics(collector))
	authn := auth.New(config.AuthConfig{JWTSecret: "jwt", MasterSecret: "master"})
	return handlers.New(db, planner, mem, authn, config.RateLimitConfig{RPS: 100, Burst: 100}, nil)
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoot(t *testing.T) {
	r := New(newHandler(t, nil), Options{Quiet: true})

	w := get(r, "/")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, Version, body["version"])

	assert.Equal(t, http.StatusNotFound, get(r, "/metrics").Code, "metrics are off without a gatherer")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg, "planner")
	collector.IncrementSwapOutcome("accepted")

	r := New(newHandler(t, collector), Options{Gatherer: reg, Quiet: true})
	w := get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "planner_")
	assert.Contains(t, w.Body.String(), `status="accepted"`)
}

func TestRoutesRequireCredentials(t *testing.T) {
	r := New(newHandler(t, nil), Options{Quiet: true})

	for _, path := range []string{"/admin/keys", "/api/usage", "/api/ledger/alice", "/api/planning/runs?team_id=ops", "/api/assignments/a1/history"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, get(r, path).Code)
		})
	}
}

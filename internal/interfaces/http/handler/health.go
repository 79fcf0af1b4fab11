package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// Pinger is implemented by the database handle
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckFunc probes one dependency for readiness
type CheckFunc func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	db     Pinger
	checks map[string]CheckFunc
	now    func() time.Time
}

// NewHealthHandler creates a HealthHandler that always checks the database
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, checks: make(map[string]CheckFunc), now: time.Now}
}

// AddCheck registers an extra readiness probe, e.g. redis
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.checks[name] = check
}

// Health serves GET /health. It only reports that the process is up.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   h.now().Format(time.RFC3339),
	})
}

// Ready serves GET /ready: 503 when any dependency fails its probe
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	results := gin.H{"database": "ok"}
	healthy := true
	if err := h.db.Ping(ctx); err != nil {
		logger.GetGinLogger(c).Warn("Readiness check failed", zap.String("check", "database"), zap.Error(err))
		results["database"] = "error"
		healthy = false
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logger.GetGinLogger(c).Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = "error"
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !healthy {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"time":   h.now().Format(time.RFC3339),
		"checks": results,
	})
}

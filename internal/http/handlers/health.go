package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"taskd/internal/db"

	"github.com/gin-gonic/gin"
)

// Store is the storage view the health endpoints need
type Store interface {
	Ping(ctx context.Context) error
	PoolStat() db.PoolStat
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store     Store
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Store, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Pool      *PoolResponse     `json:"pool,omitempty"`
}

type PoolResponse struct {
	MaxConns       int32 `json:"max_conns"`
	TotalConns     int32 `json:"total_conns"`
	IdleConns      int32 `json:"idle_conns"`
	AcquiredConns  int32 `json:"acquired_conns"`
	ActiveSessions int64 `json:"active_sessions"`
}

// Liveness returns simple alive status (for k8s liveness probe)
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness returns detailed health status (for k8s readiness probe)
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Database check
	if err := h.store.Ping(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	// Memory check
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	checks["memory_alloc_mb"] = formatMB(m.Alloc)

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	st := h.store.PoolStat()
	c.JSON(statusCode, HealthResponse{
		Status:    status,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Pool: &PoolResponse{
			MaxConns:       st.MaxConns,
			TotalConns:     st.TotalConns,
			IdleConns:      st.IdleConns,
			AcquiredConns:  st.AcquiredConns,
			ActiveSessions: st.ActiveSessions,
		},
	})
}

// Health reports whether the database answers
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	// Quick database ping
	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"detail": "database unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func formatMB(bytes uint64) string {
	mb := float64(bytes) / 1024 / 1024
	return fmt.Sprintf("%.2f", mb)
}

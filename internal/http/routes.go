package http

import (
	"time"

	"taskd/internal/http/handlers"
	"taskd/internal/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
)

// RouterConfig carries what the router needs besides the services
type RouterConfig struct {
	Version       string
	APIRateLimit  int
	APIRateWindow time.Duration
	// Redis holds shared rate-limit counters; nil keeps them in memory
	Redis *redis.Client
}

// Service is the task service plus the storage checks used by health endpoints
type Service interface {
	handlers.TaskService
	handlers.Store
}

// NewRouter builds the gin engine with middleware and all routes registered
func NewRouter(svc Service, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	RegisterRoutes(r, svc, cfg)
	return r
}

func RegisterRoutes(r *gin.Engine, svc Service, cfg RouterConfig) {
	h := handlers.NewHandler(svc, cfg.Version)
	healthHandler := handlers.NewHealthHandler(svc, cfg.Version)

	// Health checks and metrics (no rate limiting)
	r.GET("/", h.Root)
	r.GET("/health", healthHandler.Health)
	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateWindow, cfg.Redis)
	tasks := r.Group("/tasks")
	tasks.Use(limiter.Middleware())
	{
		tasks.POST("", h.CreateTask)
		tasks.GET("", h.ListTasks)
		tasks.GET("/:id", h.GetTask)
		tasks.PATCH("/:id", h.UpdateTask)
		tasks.DELETE("/:id", h.DeleteTask)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"detail": "Not Found"})
	})
}

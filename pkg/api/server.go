package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskqueue/pkg/api/middleware"
	"taskqueue/pkg/coordinator"
)

// Server encapsulates the HTTP API surface over the coordinator:
// submit, status, inspect, and cancel, plus metrics exposition and
// health.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	coordinator *coordinator.Coordinator
}

// Config holds API server configuration.
type Config struct {
	Port        string
	Coordinator *coordinator.Coordinator
	Logger      *zap.Logger
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("taskqueue-api"))
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:      router,
		log:         logger,
		coordinator: cfg.Coordinator,
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", s.submitJob)
			jobs.POST("/batch", s.submitBatch)
			jobs.GET("/:id", s.getJob)
			jobs.PATCH("/:id/priority", s.updatePriority)
			jobs.DELETE("/:id", s.cancelJob)
		}

		v1.GET("/stats", s.getStats)

		dlq := v1.Group("/dlq")
		{
			dlq.GET("", s.listDLQ)
			dlq.POST("/:id/requeue", s.requeueFromDLQ)
		}

		cluster := v1.Group("/cluster")
		{
			cluster.GET("/workers", s.listWorkers)
			cluster.POST("/workers", s.registerWorker)
			cluster.POST("/workers/:id/heartbeat", s.workerHeartbeat)
		}
	}
}

// healthCheck reports whether the coordinator is wired in.
func (s *Server) healthCheck(c *gin.Context) {
	healthy := s.coordinator != nil
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":    map[bool]string{true: "healthy", false: "degraded"}[healthy],
		"timestamp": time.Now().UTC(),
	})
}

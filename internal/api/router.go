// Package api exposes the operational HTTP surface: health, run progress,
// checkpoint inspection and Prometheus metrics. The process does no
// request-path coordination over HTTP; workers talk to the database
// directly and this API is read-only.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/gridscrape/coordinator/internal/checkpoint"
	"github.com/gridscrape/coordinator/internal/config"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/metrics"
	"github.com/gridscrape/coordinator/internal/queue"
)

const healthCheckTimeout = 2 * time.Second

// Pinger reports database liveness for the health endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Router wires the HTTP handlers to the coordination services.
type Router struct {
	db          Pinger
	detector    *queue.Detector
	checkpoints *checkpoint.Manager
	metrics     *metrics.Metrics
	cfg         config.ServerConfig
	log         logger.Logger
}

// NewRouter creates the API router.
func NewRouter(db Pinger, detector *queue.Detector, checkpoints *checkpoint.Manager, m *metrics.Metrics, cfg config.ServerConfig, log logger.Logger) *Router {
	return &Router{
		db:          db,
		detector:    detector,
		checkpoints: checkpoints,
		metrics:     m,
		cfg:         cfg,
		log:         log,
	}
}

// Engine builds the gin engine with middleware and routes.
func (r *Router) Engine(debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(r.requestLogger())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	engine.GET("/healthz", r.health)
	if r.metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/runs/:run_id/stats", r.getRunStats)
		v1.GET("/runs/:run_id/status", r.getRunStatus)
		v1.GET("/runs/:run_id/checkpoints", r.getRunCheckpoints)
		v1.GET("/runs/:run_id/timing", r.getRunTiming)
	}

	return engine
}

// NewServer builds the HTTP server around the engine.
func (r *Router) NewServer(debug bool) *http.Server {
	return &http.Server{
		Addr:         r.cfg.Address,
		Handler:      r.Engine(debug),
		ReadTimeout:  r.cfg.ReadTimeout,
		WriteTimeout: r.cfg.WriteTimeout,
	}
}

// health reports process and database liveness.
// GET /healthz
func (r *Router) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "degraded",
			"database": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridscrape/coordinator/internal/logger"
)

// getRunStats returns raw item counts for a run.
// GET /api/v1/runs/:run_id/stats
func (r *Router) getRunStats(c *gin.Context) {
	runID := c.Param("run_id")

	_, stats, err := r.detector.Status(c.Request.Context(), runID)
	if err != nil {
		r.log.Error("failed to load run stats", logger.String("run_id", runID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":    runID,
		"stats":     stats,
		"total":     stats.Total(),
		"terminal":  stats.Terminal(),
		"remaining": stats.Remaining(),
	})
}

// getRunStatus classifies the run: complete, has_work, empty_retryable
// or stuck.
// GET /api/v1/runs/:run_id/status
func (r *Router) getRunStatus(c *gin.Context) {
	runID := c.Param("run_id")

	state, stats, err := r.detector.Status(c.Request.Context(), runID)
	if err != nil {
		r.log.Error("failed to classify run", logger.String("run_id", runID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to classify run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":    runID,
		"state":     state,
		"remaining": stats.Remaining(),
		"progress":  stats.TerminalFraction(),
	})
}

// getRunCheckpoints lists recorded pipeline steps for a run.
// GET /api/v1/runs/:run_id/checkpoints
func (r *Router) getRunCheckpoints(c *gin.Context) {
	runID := c.Param("run_id")

	steps, err := r.checkpoints.Steps(c.Request.Context(), runID)
	if err != nil {
		r.log.Error("failed to list checkpoints", logger.String("run_id", runID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list checkpoints"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"steps":  steps,
		"count":  len(steps),
	})
}

// getRunTiming aggregates recorded step durations for a run.
// GET /api/v1/runs/:run_id/timing
func (r *Router) getRunTiming(c *gin.Context) {
	runID := c.Param("run_id")

	timing, err := r.checkpoints.Timing(c.Request.Context(), runID)
	if err != nil {
		r.log.Error("failed to aggregate timing", logger.String("run_id", runID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate timing"})
		return
	}

	c.JSON(http.StatusOK, timing)
}

package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridscrape/coordinator/internal/logger"
)

// requestLogger logs one structured line per request.
func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		r.log.Debug("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)))
	}
}

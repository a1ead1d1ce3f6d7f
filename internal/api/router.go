package api

import (
	"strconv"
	"time"

	"github.com/XavierBriggs/Delphi/internal/logging"
	"github.com/XavierBriggs/Delphi/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine with every route registered
func NewRouter(svc QueryService, log *logging.Logger) *gin.Engine {
	if log == nil {
		log = logging.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), instrument(log.With("component", "http")))

	h := NewHandler(svc)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/snapshots/:marketKey", h.GetSnapshot)
	v1.POST("/snapshots/bulk", h.GetBulk)
	v1.GET("/markets", h.ListMarkets)
	v1.GET("/games", h.GetGames)
	v1.GET("/stats/cache", h.GetCacheStats)
	v1.GET("/stats/usage", h.GetUsageStats)
	v1.DELETE("/cache", h.ClearCache)

	return r
}

// instrument records request metrics and logs each request
func instrument(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)

		metrics.RecordHTTPRequest(route, strconv.Itoa(status), duration)
		log.Debug("http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", duration,
		)
	}
}

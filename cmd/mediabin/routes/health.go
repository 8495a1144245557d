package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lgulliver/mediabin/internal/pool"
)

// HealthRoutes sets up the health check. The service stays up with any
// number of sessions online; only an empty online set reports 503.
func HealthRoutes(router gin.IRoutes, reporter StatusReporter) {
	router.GET("/health", func(c *gin.Context) {
		status := reporter.Status()

		code := http.StatusOK
		if status.State == pool.StateUnavailable {
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":  status.State,
			"service": "mediabin",
			"size":    status.Size,
			"online":  status.Online,
			"time":    time.Now().UTC(),
		})
	})
}

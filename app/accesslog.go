package app

import (
	"log"
	"strconv"
	"time"

	"Gin_postgres_redis_loan_manager/metrics"

	"github.com/gin-gonic/gin"
)

// AccessLog writes one line per request, failed ones included.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		actor := "-"
		if id := CurrentIdentity(c); id != nil {
			actor = id.User.ID
		}
		log.Printf("%s %s %d %s actor=%s origin=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start).Round(time.Microsecond), actor, c.ClientIP())
	}
}

// Observe records request latency by route template, not raw path.
func Observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"tollgate.io/tollgate/internal/pkg/metrics"
)

// Metrics records every request in the HTTP counters and histogram, labelled
// by route template so ids do not explode cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

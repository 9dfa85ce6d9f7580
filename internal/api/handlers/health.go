package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/pkg/logger"
)

// HealthResponse is the probe body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GetLiveness handles GET /healthz.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// GetReadiness handles GET /readyz.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := map[string]string{"database": "ok"}
	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			logger.Warn("Readiness check failed", zap.String("check", "database"), zap.Error(err))
			checks["database"] = "error"
			c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Checks: checks})
			return
		}
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetGate handles GET /gates/{validation_run_id}.
func (s *Server) GetGate(c *gin.Context) {
	gate, err := s.ledger.Gate(c.Request.Context(), c.Param("validation_run_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gate)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tollgate.io/tollgate/internal/api/middleware"
	"tollgate.io/tollgate/internal/usecase"
)

// SubmitOutcome handles POST /outcomes: the validation system reports a
// finished run and every workflow of the owner is evaluated against it.
func (s *Server) SubmitOutcome(c *gin.Context) {
	var input usecase.OutcomeInput
	if err := bindJSON(c, &input); err != nil {
		_ = c.Error(err)
		return
	}
	out, err := s.outcomes.Execute(c.Request.Context(), middleware.Actor(c), input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

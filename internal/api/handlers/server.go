// Package handlers implements the HTTP API on top of the governance services.
//
// Handlers never render errors themselves: they call c.Error and the
// ErrorHandler middleware maps AppErrors to status codes.
//
// Import Path: tollgate.io/tollgate/internal/api/handlers
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"tollgate.io/tollgate/internal/api/middleware"
	"tollgate.io/tollgate/internal/governance/approval"
	"tollgate.io/tollgate/internal/governance/policy"
	"tollgate.io/tollgate/internal/usecase"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	policies *policy.Store
	ledger   *approval.Ledger
	outcomes *usecase.HandleOutcomeUseCase
	db       Pinger
	now      func() time.Time
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Policies *policy.Store
	Ledger   *approval.Ledger
	Outcomes *usecase.HandleOutcomeUseCase
	DB       Pinger
	// Clock is used for priority tiers; defaults to time.Now.
	Clock func() time.Time
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Server{
		policies: deps.Policies,
		ledger:   deps.Ledger,
		outcomes: deps.Outcomes,
		db:       deps.DB,
		now:      now,
	}
}

// RegisterRoutes mounts the authenticated API on rg. Authentication must
// already be installed on rg.
func (s *Server) RegisterRoutes(rg gin.IRoutes) {
	write := middleware.RequirePermission(middleware.PermWorkflowWrite)
	submit := middleware.RequirePermission(middleware.PermOutcomeSubmit)
	decide := middleware.RequirePermission(middleware.PermDecide)

	rg.GET("/workflows", s.ListWorkflows)
	rg.POST("/workflows", write, s.CreateWorkflow)
	rg.GET("/workflows/:workflow_id", s.GetWorkflow)
	rg.PATCH("/workflows/:workflow_id", write, s.UpdateWorkflow)
	rg.DELETE("/workflows/:workflow_id", write, s.DeleteWorkflow)

	rg.POST("/outcomes", submit, s.SubmitOutcome)

	rg.POST("/requests", submit, s.OpenRequest)
	rg.GET("/requests/pending", s.ListPendingRequests)
	rg.GET("/requests/history", s.ListRequestHistory)
	rg.GET("/requests/:request_id", s.GetRequest)
	rg.GET("/requests/:request_id/decisions", s.ListDecisions)
	rg.POST("/requests/:request_id/approve", decide, s.ApproveRequest)
	rg.POST("/requests/:request_id/reject", decide, s.RejectRequest)

	rg.GET("/gates/:validation_run_id", s.GetGate)
}

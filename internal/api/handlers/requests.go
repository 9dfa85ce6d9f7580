package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tollgate.io/tollgate/internal/api/middleware"
	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/governance/approval"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
)

// OpenRequest handles POST /requests. Reopening the same run returns the
// existing request.
func (s *Server) OpenRequest(c *gin.Context) {
	var body RequestOpenBody
	if err := bindJSON(c, &body); err != nil {
		_ = c.Error(err)
		return
	}
	req, err := s.ledger.Open(c.Request.Context(), approval.OpenParams{
		WorkflowID:      body.WorkflowID,
		ValidationRunID: body.ValidationRunID,
		PRValidationID:  body.PRValidationID,
		RequestedBy:     middleware.Actor(c),
		Context:         body.Context,
		ExpiresAt:       body.ExpiresAt,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// ListPendingRequests handles GET /requests/pending.
func (s *Server) ListPendingRequests(c *gin.Context) {
	filter, err := listFilter(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	list, err := s.ledger.ListPending(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	now := s.now()
	views := make([]RequestView, 0, len(list))
	for _, req := range list {
		views = append(views, RequestView{
			ApprovalRequest: req,
			Priority:        approval.PriorityTier(req.CreatedAt, now),
		})
	}
	c.JSON(http.StatusOK, newList(views))
}

// ListRequestHistory handles GET /requests/history.
func (s *Server) ListRequestHistory(c *gin.Context) {
	filter, err := listFilter(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Statuses = append(filter.Statuses, domain.RequestStatus(part))
			}
		}
	}
	list, err := s.ledger.ListHistory(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newList(list))
}

// GetRequest handles GET /requests/{request_id}.
func (s *Server) GetRequest(c *gin.Context) {
	req, err := s.ledger.Get(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ListDecisions handles GET /requests/{request_id}/decisions.
func (s *Server) ListDecisions(c *gin.Context) {
	list, err := s.ledger.ListDecisions(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newList(list))
}

// ApproveRequest handles POST /requests/{request_id}/approve.
func (s *Server) ApproveRequest(c *gin.Context) {
	s.decide(c, domain.DecisionApproved)
}

// RejectRequest handles POST /requests/{request_id}/reject.
func (s *Server) RejectRequest(c *gin.Context) {
	s.decide(c, domain.DecisionRejected)
}

// decide records a decision for the authenticated actor. A body approver_id
// must name the same actor.
func (s *Server) decide(c *gin.Context, kind domain.DecisionKind) {
	var body DecisionBody
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			_ = c.Error(invalidBody(err))
			return
		}
	}

	actor := middleware.Actor(c)
	if id := strings.TrimSpace(body.ApproverID); id != "" && id != actor {
		_ = c.Error(apperrors.Forbidden(apperrors.CodeApproverMismatch, "approver_id must match the authenticated user").
			WithParams(map[string]interface{}{"approver_id": id}))
		return
	}

	result, err := s.ledger.Decide(c.Request.Context(), approval.DecideParams{
		RequestID:  c.Param("request_id"),
		ApproverID: actor,
		Decision:   kind,
		Comment:    body.Comment,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request":   result.Request,
		"decision":  result.Decision,
		"approvals": result.Approvals,
	})
}

func listFilter(c *gin.Context) (approval.ListFilter, error) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return approval.ListFilter{}, err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return approval.ListFilter{}, err
	}
	return approval.ListFilter{
		OwnerID:    c.Query("owner_id"),
		WorkflowID: c.Query("workflow_id"),
		ApproverID: c.Query("approver_id"),
		Limit:      limit,
		Offset:     offset,
	}, nil
}

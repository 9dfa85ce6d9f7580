package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tollgate.io/tollgate/internal/api/middleware"
)

// ListWorkflows handles GET /workflows.
func (s *Server) ListWorkflows(c *gin.Context) {
	list, err := s.policies.List(c.Request.Context(), c.Query("owner_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	views := make([]WorkflowView, 0, len(list))
	for _, wf := range list {
		views = append(views, toWorkflowView(wf))
	}
	c.JSON(http.StatusOK, newList(views))
}

// CreateWorkflow handles POST /workflows.
func (s *Server) CreateWorkflow(c *gin.Context) {
	var body WorkflowCreateBody
	if err := bindJSON(c, &body); err != nil {
		_ = c.Error(err)
		return
	}
	wf, err := body.toDomain()
	if err != nil {
		_ = c.Error(err)
		return
	}
	created, err := s.policies.Create(c.Request.Context(), middleware.Actor(c), wf)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toWorkflowView(created))
}

// GetWorkflow handles GET /workflows/{workflow_id}.
func (s *Server) GetWorkflow(c *gin.Context) {
	wf, err := s.policies.Get(c.Request.Context(), c.Param("workflow_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toWorkflowView(wf))
}

// UpdateWorkflow handles PATCH /workflows/{workflow_id}.
func (s *Server) UpdateWorkflow(c *gin.Context) {
	var body WorkflowPatchBody
	if err := bindJSON(c, &body); err != nil {
		_ = c.Error(err)
		return
	}
	patch, err := body.toDomain()
	if err != nil {
		_ = c.Error(err)
		return
	}
	wf, err := s.policies.Update(c.Request.Context(), middleware.Actor(c), c.Param("workflow_id"), patch)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toWorkflowView(wf))
}

// DeleteWorkflow handles DELETE /workflows/{workflow_id}.
func (s *Server) DeleteWorkflow(c *gin.Context) {
	if err := s.policies.Delete(c.Request.Context(), middleware.Actor(c), c.Param("workflow_id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

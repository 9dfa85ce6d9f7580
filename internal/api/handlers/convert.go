package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tollgate.io/tollgate/internal/domain"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
)

// WorkflowView is the wire form of a workflow: the TTL travels as a Go
// duration string.
type WorkflowView struct {
	*domain.Workflow
	RequestTTL string `json:"request_ttl,omitempty"`
}

func toWorkflowView(wf *domain.Workflow) WorkflowView {
	v := WorkflowView{Workflow: wf}
	if wf.RequestTTL > 0 {
		v.RequestTTL = wf.RequestTTL.String()
	}
	return v
}

// WorkflowCreateBody is the POST /workflows payload.
type WorkflowCreateBody struct {
	OwnerID             string                `json:"owner_id"`
	Name                string                `json:"name"`
	Description         string                `json:"description"`
	TriggerOnValidation bool                  `json:"trigger_on_validation"`
	MinSeverity         domain.Severity       `json:"min_severity"`
	MaxViolations       *int                  `json:"max_violations"`
	RequiredApprovers   int                   `json:"required_approvers"`
	Approvers           []string              `json:"approvers"`
	AutoApproveOnPass   bool                  `json:"auto_approve_on_pass"`
	BlockMerge          bool                  `json:"block_merge"`
	NotifyOnRequest     bool                  `json:"notify_on_request"`
	NotifyOnApproval    bool                  `json:"notify_on_approval"`
	RequestTTL          string                `json:"request_ttl"`
	Status              domain.WorkflowStatus `json:"status"`
}

func (b WorkflowCreateBody) toDomain() (domain.Workflow, error) {
	ttl, err := parseTTL(b.RequestTTL)
	if err != nil {
		return domain.Workflow{}, err
	}
	minSeverity := b.MinSeverity
	if minSeverity == "" {
		minSeverity = domain.SeverityInfo
	}
	return domain.Workflow{
		OwnerID:             b.OwnerID,
		Name:                b.Name,
		Description:         b.Description,
		TriggerOnValidation: b.TriggerOnValidation,
		MinSeverity:         minSeverity,
		MaxViolations:       b.MaxViolations,
		RequiredApprovers:   b.RequiredApprovers,
		Approvers:           b.Approvers,
		AutoApproveOnPass:   b.AutoApproveOnPass,
		BlockMerge:          b.BlockMerge,
		NotifyOnRequest:     b.NotifyOnRequest,
		NotifyOnApproval:    b.NotifyOnApproval,
		RequestTTL:          ttl,
		Status:              b.Status,
	}, nil
}

// nullableInt tells an absent field apart from an explicit null.
type nullableInt struct {
	Set   bool
	Value *int
}

func (n *nullableInt) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// WorkflowPatchBody is the PATCH /workflows/{id} payload. max_violations:
// null and request_ttl: "" clear the value.
type WorkflowPatchBody struct {
	Name                *string                `json:"name"`
	Description         *string                `json:"description"`
	TriggerOnValidation *bool                  `json:"trigger_on_validation"`
	MinSeverity         *domain.Severity       `json:"min_severity"`
	MaxViolations       nullableInt            `json:"max_violations"`
	RequiredApprovers   *int                   `json:"required_approvers"`
	Approvers           *[]string              `json:"approvers"`
	AutoApproveOnPass   *bool                  `json:"auto_approve_on_pass"`
	BlockMerge          *bool                  `json:"block_merge"`
	NotifyOnRequest     *bool                  `json:"notify_on_request"`
	NotifyOnApproval    *bool                  `json:"notify_on_approval"`
	RequestTTL          *string                `json:"request_ttl"`
	Status              *domain.WorkflowStatus `json:"status"`
}

func (b WorkflowPatchBody) toDomain() (domain.WorkflowPatch, error) {
	patch := domain.WorkflowPatch{
		Name:                b.Name,
		Description:         b.Description,
		TriggerOnValidation: b.TriggerOnValidation,
		MinSeverity:         b.MinSeverity,
		RequiredApprovers:   b.RequiredApprovers,
		Approvers:           b.Approvers,
		AutoApproveOnPass:   b.AutoApproveOnPass,
		BlockMerge:          b.BlockMerge,
		NotifyOnRequest:     b.NotifyOnRequest,
		NotifyOnApproval:    b.NotifyOnApproval,
		Status:              b.Status,
	}
	if b.MaxViolations.Set {
		if b.MaxViolations.Value == nil {
			patch.ClearMaxViolations = true
		} else {
			patch.MaxViolations = b.MaxViolations.Value
		}
	}
	if b.RequestTTL != nil {
		ttl, err := parseTTL(*b.RequestTTL)
		if err != nil {
			return domain.WorkflowPatch{}, err
		}
		if ttl == 0 {
			patch.ClearRequestTTL = true
		} else {
			patch.RequestTTL = &ttl
		}
	}
	return patch, nil
}

func parseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, apperrors.Validation(apperrors.FieldError{
			Field: "request_ttl", Code: "format", Message: "must be a duration such as 72h",
		})
	}
	return d, nil
}

// RequestView adds the age-based priority tier to pending listings.
type RequestView struct {
	*domain.ApprovalRequest
	Priority string `json:"priority,omitempty"`
}

// DecisionBody is the optional approve/reject payload.
type DecisionBody struct {
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment"`
}

// RequestOpenBody is the POST /requests payload.
type RequestOpenBody struct {
	WorkflowID      string     `json:"workflow_id"`
	ValidationRunID string     `json:"validation_run_id"`
	PRValidationID  string     `json:"pr_validation_id"`
	Context         string     `json:"context"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items}
}

func invalidBody(err error) error {
	return apperrors.Wrap(err, apperrors.CodeInvalidRequestField, "invalid request body", http.StatusBadRequest)
}

// bindJSON decodes a required body.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return invalidBody(err)
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.Validation(apperrors.FieldError{
			Field: name, Code: "format", Message: "must be a non-negative integer",
		})
	}
	return v, nil
}

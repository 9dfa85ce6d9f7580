// Package domain provides the approval domain model for Tollgate.
//
// Types here carry no storage or transport concerns; repositories and
// handlers convert to and from them.
//
// Import Path: tollgate.io/tollgate/internal/domain
package domain

import (
	"math"
	"strings"
	"time"

	apperrors "tollgate.io/tollgate/internal/pkg/errors"
)

// Severity is the ordered violation severity: info < warning < error.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Rank returns the ordinal of the severity, or -1 if unrecognized.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the three recognized levels.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// AtLeast reports whether s is at or above floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Valid() && floor.Valid() && s.Rank() >= floor.Rank()
}

// Severities lists all levels in ascending order.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityError}

// WorkflowStatus is the lifecycle status of a workflow.
type WorkflowStatus string

const (
	WorkflowActive   WorkflowStatus = "active"
	WorkflowInactive WorkflowStatus = "inactive"
)

// Valid reports whether the status is recognized.
func (s WorkflowStatus) Valid() bool {
	return s == WorkflowActive || s == WorkflowInactive
}

// Workflow is an administrator-defined approval policy.
type Workflow struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Trigger condition.
	TriggerOnValidation bool     `json:"trigger_on_validation"`
	MinSeverity         Severity `json:"min_severity"`
	MaxViolations       *int     `json:"max_violations,omitempty"`

	// Consensus requirement.
	RequiredApprovers int `json:"required_approvers"`
	// Approvers, when non-empty, restricts who may decide.
	Approvers []string `json:"approvers,omitempty"`

	AutoApproveOnPass bool `json:"auto_approve_on_pass"`
	BlockMerge        bool `json:"block_merge"`
	NotifyOnRequest   bool `json:"notify_on_request"`
	NotifyOnApproval  bool `json:"notify_on_approval"`

	// RequestTTL is the default lifetime of requests opened without an
	// explicit deadline. Zero means no expiration.
	RequestTTL time.Duration `json:"request_ttl,omitempty"`

	Status    WorkflowStatus `json:"status"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// IsActive reports whether the workflow may be evaluated and may open requests.
func (w *Workflow) IsActive() bool {
	return w != nil && w.Status == WorkflowActive && w.DeletedAt == nil
}

// IsDeleted reports whether the workflow was soft-deleted.
func (w *Workflow) IsDeleted() bool {
	return w != nil && w.DeletedAt != nil
}

// IsDesignatedApprover reports whether actor may decide on this workflow's
// requests. An empty approver list designates everyone.
func (w *Workflow) IsDesignatedApprover(actor string) bool {
	if len(w.Approvers) == 0 {
		return true
	}
	for _, a := range w.Approvers {
		if a == actor {
			return true
		}
	}
	return false
}

// maxCount bounds counters persisted as 32-bit integer columns.
const maxCount = math.MaxInt32

// Normalize trims free-text fields and fills defaults. The approver list is
// rebuilt so the caller's slice is never written to.
func (w *Workflow) Normalize() {
	w.Name = strings.TrimSpace(w.Name)
	w.OwnerID = strings.TrimSpace(w.OwnerID)
	w.Description = strings.TrimSpace(w.Description)
	w.MinSeverity = Severity(strings.ToLower(strings.TrimSpace(string(w.MinSeverity))))
	if w.Status == "" {
		w.Status = WorkflowActive
	}
	approvers := make([]string, 0, len(w.Approvers))
	seen := make(map[string]struct{}, len(w.Approvers))
	for _, a := range w.Approvers {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		approvers = append(approvers, a)
	}
	w.Approvers = approvers
}

// Validate checks the workflow invariants and returns a ValidationError
// listing every violated field, or nil.
func (w *Workflow) Validate() error {
	var fields []apperrors.FieldError
	if w.OwnerID == "" {
		fields = append(fields, apperrors.FieldError{Field: "owner_id", Code: "required", Message: "must not be empty"})
	}
	if w.Name == "" {
		fields = append(fields, apperrors.FieldError{Field: "name", Code: "required", Message: "must not be empty"})
	}
	switch {
	case w.RequiredApprovers < 1:
		fields = append(fields, apperrors.FieldError{Field: "required_approvers", Code: "min", Message: "must be at least 1"})
	case w.RequiredApprovers > maxCount:
		fields = append(fields, apperrors.FieldError{Field: "required_approvers", Code: "max", Message: "must not exceed 2147483647"})
	}
	if !w.MinSeverity.Valid() {
		fields = append(fields, apperrors.FieldError{Field: "min_severity", Code: "enum", Message: "must be one of info, warning, error"})
	}
	if w.MaxViolations != nil {
		switch {
		case *w.MaxViolations < 0:
			fields = append(fields, apperrors.FieldError{Field: "max_violations", Code: "min", Message: "must not be negative"})
		case *w.MaxViolations > maxCount:
			fields = append(fields, apperrors.FieldError{Field: "max_violations", Code: "max", Message: "must not exceed 2147483647"})
		}
	}
	switch {
	case w.RequestTTL < 0 || (w.RequestTTL > 0 && w.RequestTTL < time.Second):
		fields = append(fields, apperrors.FieldError{Field: "request_ttl", Code: "min", Message: "must be at least one second"})
	case w.RequestTTL%time.Second != 0:
		fields = append(fields, apperrors.FieldError{Field: "request_ttl", Code: "whole_seconds", Message: "must be a whole number of seconds"})
	}
	if !w.Status.Valid() {
		fields = append(fields, apperrors.FieldError{Field: "status", Code: "enum", Message: "must be active or inactive"})
	}
	if len(fields) == 0 {
		return nil
	}
	return apperrors.Validation(fields...)
}

// WorkflowPatch is a partial update. Nil fields are left unchanged; the
// Clear* flags reset optional values to null.
type WorkflowPatch struct {
	Name                *string         `json:"name,omitempty"`
	Description         *string         `json:"description,omitempty"`
	TriggerOnValidation *bool           `json:"trigger_on_validation,omitempty"`
	MinSeverity         *Severity       `json:"min_severity,omitempty"`
	MaxViolations       *int            `json:"max_violations,omitempty"`
	ClearMaxViolations  bool            `json:"clear_max_violations,omitempty"`
	RequiredApprovers   *int            `json:"required_approvers,omitempty"`
	Approvers           *[]string       `json:"approvers,omitempty"`
	AutoApproveOnPass   *bool           `json:"auto_approve_on_pass,omitempty"`
	BlockMerge          *bool           `json:"block_merge,omitempty"`
	NotifyOnRequest     *bool           `json:"notify_on_request,omitempty"`
	NotifyOnApproval    *bool           `json:"notify_on_approval,omitempty"`
	RequestTTL          *time.Duration  `json:"request_ttl,omitempty"`
	ClearRequestTTL     bool            `json:"clear_request_ttl,omitempty"`
	Status              *WorkflowStatus `json:"status,omitempty"`
}

// Apply returns a copy of w with the patch applied.
func (p WorkflowPatch) Apply(w Workflow) Workflow {
	if p.Name != nil {
		w.Name = *p.Name
	}
	if p.Description != nil {
		w.Description = *p.Description
	}
	if p.TriggerOnValidation != nil {
		w.TriggerOnValidation = *p.TriggerOnValidation
	}
	if p.MinSeverity != nil {
		w.MinSeverity = *p.MinSeverity
	}
	if p.ClearMaxViolations {
		w.MaxViolations = nil
	} else if p.MaxViolations != nil {
		v := *p.MaxViolations
		w.MaxViolations = &v
	}
	if p.RequiredApprovers != nil {
		w.RequiredApprovers = *p.RequiredApprovers
	}
	if p.Approvers != nil {
		w.Approvers = append([]string(nil), (*p.Approvers)...)
	}
	if p.AutoApproveOnPass != nil {
		w.AutoApproveOnPass = *p.AutoApproveOnPass
	}
	if p.BlockMerge != nil {
		w.BlockMerge = *p.BlockMerge
	}
	if p.NotifyOnRequest != nil {
		w.NotifyOnRequest = *p.NotifyOnRequest
	}
	if p.NotifyOnApproval != nil {
		w.NotifyOnApproval = *p.NotifyOnApproval
	}
	if p.ClearRequestTTL {
		w.RequestTTL = 0
	} else if p.RequestTTL != nil {
		w.RequestTTL = *p.RequestTTL
	}
	if p.Status != nil {
		w.Status = *p.Status
	}
	return w
}

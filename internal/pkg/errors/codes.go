package errors

import (
	"fmt"
	"net/http"
)

// Error codes are machine-readable; messages stay in English and are never
// parsed by clients.

// Workflow (policy) error codes.
const (
	CodeWorkflowNotFound     = "WORKFLOW_NOT_FOUND"
	CodeWorkflowNameTaken    = "WORKFLOW_NAME_TAKEN"
	CodeWorkflowHasPending   = "WORKFLOW_HAS_PENDING_REQUESTS"
	CodeWorkflowNotActivated = "WORKFLOW_INACTIVE"
)

// Approval request error codes.
const (
	CodeRequestNotFound    = "REQUEST_NOT_FOUND"
	CodeRequestNotPending  = "REQUEST_NOT_PENDING"
	CodeDuplicateDecision  = "DUPLICATE_DECISION"
	CodeApproverNotAllowed = "APPROVER_NOT_DESIGNATED"
	CodeApproverMismatch   = "APPROVER_MISMATCH"
)

// Validation error codes.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
)

// Auth error codes.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
)

// Internal-only codes. Never surfaced to API callers.
const (
	CodeNotificationFailed = "NOTIFICATION_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Convenience constructors using predefined codes.

// ErrWorkflowNotFoundf creates a workflow not found error.
func ErrWorkflowNotFoundf(workflowID string) *AppError {
	return NotFound(CodeWorkflowNotFound, "workflow not found").
		WithParams(map[string]interface{}{"workflow_id": workflowID})
}

// ErrWorkflowInactivef is returned when a request is opened against an
// inactive or deleted workflow. It is a 404: callers cannot tell an inactive
// workflow apart from a missing one.
func ErrWorkflowInactivef(workflowID string) *AppError {
	return NotFound(CodeWorkflowNotActivated, "workflow is not active").
		WithParams(map[string]interface{}{"workflow_id": workflowID})
}

// ErrRequestNotFoundf creates an approval request not found error.
func ErrRequestNotFoundf(requestID string) *AppError {
	return NotFound(CodeRequestNotFound, "approval request not found").
		WithParams(map[string]interface{}{"request_id": requestID})
}

// ErrRequestNotPendingf is returned when a decision targets a terminal request.
func ErrRequestNotPendingf(requestID, status string) *AppError {
	return Conflict(CodeRequestNotPending, fmt.Sprintf("approval request is %s", status)).
		WithParams(map[string]interface{}{"request_id": requestID, "status": status})
}

// ErrDuplicateDecisionf is returned when an approver decides twice.
func ErrDuplicateDecisionf(requestID, approverID string) *AppError {
	return Conflict(CodeDuplicateDecision, "approver has already decided on this request").
		WithParams(map[string]interface{}{"request_id": requestID, "approver_id": approverID})
}

// ErrNotificationFailed wraps a dispatcher failure. Logged, never returned to callers.
func ErrNotificationFailed(err error) *AppError {
	return Wrap(err, CodeNotificationFailed, "notification dispatch failed", http.StatusBadGateway)
}

// Validation builds a 400 error carrying field-level details.
func Validation(fieldErrors ...FieldError) *AppError {
	msg := "validation failed"
	if len(fieldErrors) == 1 {
		msg = fieldErrors[0].Field + ": " + fieldErrors[0].Message
	}
	return BadRequest(CodeValidationFailed, msg).WithFieldErrors(fieldErrors)
}

package domain

import "time"

// RequestStatus is the lifecycle status of an approval request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
)

// Valid reports whether the status is recognized.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected, RequestExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected || s == RequestExpired
}

// DecisionKind is an approver's vote.
type DecisionKind string

const (
	DecisionApproved DecisionKind = "approved"
	DecisionRejected DecisionKind = "rejected"
)

// Valid reports whether the decision is recognized.
func (d DecisionKind) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ApprovalRequest is a gate instance opened against a workflow for a single
// validation run or PR validation.
type ApprovalRequest struct {
	ID              string        `json:"id"`
	WorkflowID      string        `json:"workflow_id"`
	ValidationRunID string        `json:"validation_run_id,omitempty"`
	PRValidationID  string        `json:"pr_validation_id,omitempty"`
	RequestedBy     string        `json:"requested_by,omitempty"`
	Status          RequestStatus `json:"status"`
	// RequiredApprovers and BlockMerge are copied from the workflow when the
	// request is opened; later workflow edits do not change them.
	RequiredApprovers int        `json:"required_approvers"`
	BlockMerge        bool       `json:"block_merge"`
	AutoApproved      bool       `json:"auto_approved"`
	Context           string     `json:"context,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// IsPending reports whether the request still accepts decisions.
func (r *ApprovalRequest) IsPending() bool {
	return r != nil && r.Status == RequestPending
}

// IsOverdue reports whether a pending request's deadline has passed.
func (r *ApprovalRequest) IsOverdue(now time.Time) bool {
	return r.IsPending() && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// ApprovalDecision is one approver's append-only vote on a request.
type ApprovalDecision struct {
	ID         string       `json:"id"`
	RequestID  string       `json:"request_id"`
	ApproverID string       `json:"approver_id"`
	Decision   DecisionKind `json:"decision"`
	Comment    string       `json:"comment,omitempty"`
	DecidedAt  time.Time    `json:"decided_at"`
}

// Resolve applies the consensus rule after a decision has been appended.
// approvals is the number of distinct approvals recorded for the request,
// including the latest one.
func Resolve(required, approvals int, latest DecisionKind) RequestStatus {
	if approvals >= required {
		return RequestApproved
	}
	if latest == DecisionRejected {
		return RequestRejected
	}
	return RequestPending
}

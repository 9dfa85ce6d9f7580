// Package repository defines persistence for workflows, approval requests and
// decisions. Two implementations exist: postgres (pgx) and sqlite (modernc).
//
// Query methods mirror what a sqlc Querier would expose: one method per
// statement, no business rules. State-machine rules live in the approval
// ledger, which runs them inside Store.InTx.
//
// Import Path: tollgate.io/tollgate/internal/repository
package repository

import (
	"context"
	"errors"
	"time"

	"tollgate.io/tollgate/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("repository: duplicate")
)

// WorkflowFilter selects workflows for listing.
type WorkflowFilter struct {
	OwnerID        string
	IncludeDeleted bool
	ActiveOnly     bool
}

// RequestFilter selects approval requests for listing.
type RequestFilter struct {
	OwnerID    string
	WorkflowID string
	// ApproverID narrows pending listings to requests the approver may still
	// decide, and history listings to requests the approver decided.
	ApproverID string
	Statuses   []domain.RequestStatus
	// IncludeAutoApproved keeps synthesized approvals in the result.
	IncludeAutoApproved bool
	Limit               int
	Offset              int
}

// DefaultListLimit caps listings when the caller passes no limit.
const DefaultListLimit = 100

// MaxListLimit caps listings regardless of the requested limit.
const MaxListLimit = 500

// Normalized returns the filter with limit and offset clamped.
func (f RequestFilter) Normalized() RequestFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Querier is the statement-level persistence API.
type Querier interface {
	InsertWorkflow(ctx context.Context, wf *domain.Workflow) error
	// UpdateWorkflow rewrites a non-deleted workflow. ErrNotFound otherwise.
	UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	// LockWorkflow reads a workflow and holds a row lock until the
	// transaction ends. Opening a request and deleting the workflow both take
	// it, so a request is never opened against a workflow being deleted.
	LockWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*domain.Workflow, error)
	SoftDeleteWorkflow(ctx context.Context, id string, at time.Time) error
	CountPendingRequests(ctx context.Context, workflowID string) (int, error)

	// InsertRequest returns ErrDuplicate when (workflow_id, validation_run_id)
	// already exists.
	InsertRequest(ctx context.Context, req *domain.ApprovalRequest) error
	GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	// LockRequest reads the request and holds a row lock until the
	// transaction ends.
	LockRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	FindRequestByRun(ctx context.Context, workflowID, validationRunID string) (*domain.ApprovalRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]*domain.ApprovalRequest, error)
	ListRequestsByRun(ctx context.Context, validationRunID string) ([]*domain.ApprovalRequest, error)
	ListOverdueRequests(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error)
	// ResolveRequest moves a pending request to a terminal status. It reports
	// false when the request was no longer pending.
	ResolveRequest(ctx context.Context, id string, to domain.RequestStatus, at time.Time) (bool, error)
	// ExpireRequest moves a pending request whose deadline is at or before now
	// to expired. It reports false when the request was resolved first.
	ExpireRequest(ctx context.Context, id string, now time.Time) (bool, error)

	// InsertDecision returns ErrDuplicate when the approver already decided.
	InsertDecision(ctx context.Context, d *domain.ApprovalDecision) error
	ListDecisions(ctx context.Context, requestID string) ([]*domain.ApprovalDecision, error)
	CountApprovals(ctx context.Context, requestID string) (int, error)
}

// Store is a Querier with transaction and lifecycle control.
type Store interface {
	Querier
	// InTx runs fn in a single transaction. fn must use the Querier it is
	// given, never the Store.
	InTx(ctx context.Context, fn func(q Querier) error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

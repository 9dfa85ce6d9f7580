package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tollgate.io/tollgate/internal/domain"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/repository"
)

// ListFilter narrows request listings.
type ListFilter struct {
	OwnerID    string
	WorkflowID string
	// ApproverID: for pending listings, requests the approver may still
	// decide; for history, requests the approver decided.
	ApproverID string
	// Statuses applies to history only; empty means every terminal status.
	Statuses []domain.RequestStatus
	Limit    int
	Offset   int
}

// Get returns one request.
func (l *Ledger) Get(ctx context.Context, requestID string) (*domain.ApprovalRequest, error) {
	req, err := l.repo.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrRequestNotFoundf(requestID)
		}
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}
	return req, nil
}

// ListPending returns pending requests, oldest first. Synthesized
// auto-approvals never appear here.
func (l *Ledger) ListPending(ctx context.Context, filter ListFilter) ([]*domain.ApprovalRequest, error) {
	list, err := l.repo.ListRequests(ctx, repository.RequestFilter{
		OwnerID:    filter.OwnerID,
		WorkflowID: filter.WorkflowID,
		ApproverID: strings.TrimSpace(filter.ApproverID),
		Statuses:   []domain.RequestStatus{domain.RequestPending},
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return list, nil
}

// ListHistory returns resolved requests, newest first, auto-approvals
// included.
func (l *Ledger) ListHistory(ctx context.Context, filter ListFilter) ([]*domain.ApprovalRequest, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []domain.RequestStatus{domain.RequestApproved, domain.RequestRejected, domain.RequestExpired}
	}
	for _, s := range statuses {
		if !s.IsTerminal() {
			return nil, apperrors.Validation(apperrors.FieldError{
				Field: "status", Code: "enum", Message: "must be approved, rejected or expired",
			})
		}
	}

	list, err := l.repo.ListRequests(ctx, repository.RequestFilter{
		OwnerID:             filter.OwnerID,
		WorkflowID:          filter.WorkflowID,
		ApproverID:          strings.TrimSpace(filter.ApproverID),
		Statuses:            statuses,
		IncludeAutoApproved: true,
		Limit:               filter.Limit,
		Offset:              filter.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list request history: %w", err)
	}
	return list, nil
}

// ListDecisions returns the decisions recorded on a request in order.
func (l *Ledger) ListDecisions(ctx context.Context, requestID string) ([]*domain.ApprovalDecision, error) {
	if _, err := l.Get(ctx, requestID); err != nil {
		return nil, err
	}
	list, err := l.repo.ListDecisions(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list decisions of %s: %w", requestID, err)
	}
	return list, nil
}

// GateStatus summarises the merge gate of a validation run.
type GateStatus struct {
	ValidationRunID string                    `json:"validation_run_id"`
	Blocked         bool                      `json:"blocked"`
	Pending         int                       `json:"pending"`
	Approved        int                       `json:"approved"`
	Rejected        int                       `json:"rejected"`
	Expired         int                       `json:"expired"`
	Requests        []*domain.ApprovalRequest `json:"requests"`
}

// Gate reports whether a validation run may proceed. The run is blocked
// while any blockMerge request is not approved; requests without blockMerge
// are advisory.
func (l *Ledger) Gate(ctx context.Context, validationRunID string) (*GateStatus, error) {
	validationRunID = strings.TrimSpace(validationRunID)
	if validationRunID == "" {
		return nil, apperrors.Validation(apperrors.FieldError{
			Field: "validation_run_id", Code: "required", Message: "must not be empty",
		})
	}

	list, err := l.repo.ListRequestsByRun(ctx, validationRunID)
	if err != nil {
		return nil, fmt.Errorf("list requests of run %s: %w", validationRunID, err)
	}

	gate := &GateStatus{ValidationRunID: validationRunID, Requests: list}
	for _, req := range list {
		switch req.Status {
		case domain.RequestPending:
			gate.Pending++
		case domain.RequestApproved:
			gate.Approved++
		case domain.RequestRejected:
			gate.Rejected++
		case domain.RequestExpired:
			gate.Expired++
		}
		if req.BlockMerge && req.Status != domain.RequestApproved {
			gate.Blocked = true
		}
	}
	if gate.Requests == nil {
		gate.Requests = []*domain.ApprovalRequest{}
	}
	return gate, nil
}

// PriorityTier ranks a pending request by how long it has waited.
func PriorityTier(createdAt, now time.Time) string {
	days := int(now.Sub(createdAt).Hours() / 24)
	switch {
	case days >= 7:
		return "urgent"
	case days >= 4:
		return "warning"
	default:
		return "normal"
	}
}

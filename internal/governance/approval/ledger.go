// Package approval implements the Request Ledger: approval requests, their
// append-only decisions and the consensus rule that resolves them.
//
// State machine: pending → approved | rejected (consensus), pending → expired
// (sweeper). Terminal statuses are final.
//
// Every transition runs in one repository transaction that holds the request
// row lock and finishes with a compare-and-swap on status = 'pending'.
// Notifications are published after commit and never undo a transition.
//
// Import Path: tollgate.io/tollgate/internal/governance/approval
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/governance/audit"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/pkg/logger"
	"tollgate.io/tollgate/internal/pkg/metrics"
	"tollgate.io/tollgate/internal/repository"
)

// SystemActor is recorded as the actor of sweeper-driven transitions.
const SystemActor = "system:sweeper"

// Notifier publishes request lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, eventType domain.EventType, req *domain.ApprovalRequest, wf *domain.Workflow, actor string)
}

// Authorizer decides whether an actor may record a decision on a request.
// A non-nil error (normally a 403 AppError) refuses the decision.
type Authorizer interface {
	CanDecide(ctx context.Context, wf *domain.Workflow, req *domain.ApprovalRequest, approverID string) error
}

// DesignatedApprovers allows anyone when the workflow names no approvers,
// otherwise only the named ones.
type DesignatedApprovers struct{}

// CanDecide implements Authorizer.
func (DesignatedApprovers) CanDecide(_ context.Context, wf *domain.Workflow, req *domain.ApprovalRequest, approverID string) error {
	if wf.IsDesignatedApprover(approverID) {
		return nil
	}
	return apperrors.Forbidden(apperrors.CodeApproverNotAllowed, "approver is not designated for this workflow").
		WithParams(map[string]interface{}{"request_id": req.ID, "approver_id": approverID})
}

// Ledger is the Request Ledger.
type Ledger struct {
	repo       repository.Store
	notifier   Notifier
	authorizer Authorizer
	audit      *audit.Logger
	now        func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNotifier sets the lifecycle notifier.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithAuthorizer replaces the default DesignatedApprovers policy.
func WithAuthorizer(a Authorizer) Option {
	return func(l *Ledger) { l.authorizer = a }
}

// WithAudit sets the audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(l *Ledger) { l.audit = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger over repo.
func NewLedger(repo repository.Store, opts ...Option) *Ledger {
	l := &Ledger{
		repo:       repo,
		authorizer: DesignatedApprovers{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

func (l *Ledger) notify(ctx context.Context, eventType domain.EventType, req *domain.ApprovalRequest, wf *domain.Workflow, actor string) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, eventType, req, wf, actor)
}

// OpenParams are the inputs for opening a request.
type OpenParams struct {
	WorkflowID      string
	ValidationRunID string
	PRValidationID  string
	RequestedBy     string
	Context         string
	// ExpiresAt overrides the workflow's request TTL.
	ExpiresAt *time.Time
}

func (p *OpenParams) normalize() {
	p.WorkflowID = strings.TrimSpace(p.WorkflowID)
	p.ValidationRunID = strings.TrimSpace(p.ValidationRunID)
	p.PRValidationID = strings.TrimSpace(p.PRValidationID)
	p.RequestedBy = strings.TrimSpace(p.RequestedBy)
}

func (p *OpenParams) validate(now time.Time) error {
	var fields []apperrors.FieldError
	if p.WorkflowID == "" {
		fields = append(fields, apperrors.FieldError{Field: "workflow_id", Code: "required", Message: "must not be empty"})
	}
	if p.ValidationRunID == "" && p.PRValidationID == "" {
		fields = append(fields, apperrors.FieldError{
			Field: "validation_run_id", Code: "required",
			Message: "validation_run_id or pr_validation_id is required",
		})
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		fields = append(fields, apperrors.FieldError{Field: "expires_at", Code: "future", Message: "must be in the future"})
	}
	if len(fields) == 0 {
		return nil
	}
	return apperrors.Validation(fields...)
}

// Open creates a pending request for a workflow. It is idempotent on
// (workflow, validation run): an existing request for the pair is returned
// as-is, whatever its status.
func (l *Ledger) Open(ctx context.Context, params OpenParams) (*domain.ApprovalRequest, error) {
	return l.open(ctx, params, false)
}

// AutoApprove records an already-approved request with no decisions for a
// workflow whose outcome passed. It is idempotent on the same key as Open.
func (l *Ledger) AutoApprove(ctx context.Context, params OpenParams) (*domain.ApprovalRequest, error) {
	params.ExpiresAt = nil
	return l.open(ctx, params, true)
}

func (l *Ledger) open(ctx context.Context, params OpenParams, autoApprove bool) (*domain.ApprovalRequest, error) {
	params.normalize()
	now := l.timestamp()
	if err := params.validate(now); err != nil {
		return nil, err
	}

	var (
		req     *domain.ApprovalRequest
		wf      *domain.Workflow
		created bool
	)
	err := l.repo.InTx(ctx, func(q repository.Querier) error {
		var err error
		wf, err = q.LockWorkflow(ctx, params.WorkflowID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrWorkflowNotFoundf(params.WorkflowID)
			}
			return fmt.Errorf("get workflow %s: %w", params.WorkflowID, err)
		}
		if !wf.IsActive() {
			return apperrors.ErrWorkflowInactivef(params.WorkflowID)
		}

		if params.ValidationRunID != "" {
			existing, err := q.FindRequestByRun(ctx, wf.ID, params.ValidationRunID)
			if err == nil {
				req = existing
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("find request for run %s: %w", params.ValidationRunID, err)
			}
		}

		req, err = newRequest(wf, params, now, autoApprove)
		if err != nil {
			return err
		}
		if err := q.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		// A concurrent Open for the same run won the unique index.
		if errors.Is(err, repository.ErrDuplicate) && params.ValidationRunID != "" {
			existing, findErr := l.repo.FindRequestByRun(ctx, params.WorkflowID, params.ValidationRunID)
			if findErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if !created {
		logger.Debug("Approval request already exists",
			zap.String("request_id", req.ID),
			zap.String("workflow_id", req.WorkflowID),
			zap.String("validation_run_id", req.ValidationRunID),
		)
		return req, nil
	}

	if autoApprove {
		metrics.RecordRequestOpened("auto_approved")
		metrics.RecordResolution(string(domain.RequestApproved))
		if l.audit != nil {
			l.audit.LogDecision(ctx, req.ID, "auto_approved", params.RequestedBy, string(req.Status))
		}
		if wf.NotifyOnApproval {
			l.notify(ctx, domain.EventRequestResolved, req, wf, "")
		}
	} else {
		metrics.RecordRequestOpened("pending")
		if l.audit != nil {
			l.audit.LogAction(ctx, "request.open", audit.ResourceRequest, req.ID, params.RequestedBy, nil)
		}
		if wf.NotifyOnRequest {
			l.notify(ctx, domain.EventRequestCreated, req, wf, params.RequestedBy)
		}
	}

	logger.Info("Approval request opened",
		zap.String("request_id", req.ID),
		zap.String("workflow_id", req.WorkflowID),
		zap.String("validation_run_id", req.ValidationRunID),
		zap.String("status", string(req.Status)),
		zap.Bool("auto_approved", req.AutoApproved),
	)
	return req, nil
}

func newRequest(wf *domain.Workflow, params OpenParams, now time.Time, autoApprove bool) (*domain.ApprovalRequest, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}
	req := &domain.ApprovalRequest{
		ID:                id.String(),
		WorkflowID:        wf.ID,
		ValidationRunID:   params.ValidationRunID,
		PRValidationID:    params.PRValidationID,
		RequestedBy:       params.RequestedBy,
		Status:            domain.RequestPending,
		RequiredApprovers: wf.RequiredApprovers,
		BlockMerge:        wf.BlockMerge,
		Context:           params.Context,
		CreatedAt:         now,
	}
	switch {
	case autoApprove:
		req.Status = domain.RequestApproved
		req.AutoApproved = true
		req.ResolvedAt = &now
	case params.ExpiresAt != nil:
		at := params.ExpiresAt.UTC().Truncate(time.Microsecond)
		req.ExpiresAt = &at
	case wf.RequestTTL > 0:
		at := now.Add(wf.RequestTTL)
		req.ExpiresAt = &at
	}
	return req, nil
}

// DecideParams are the inputs for recording a decision.
type DecideParams struct {
	RequestID  string
	ApproverID string
	Decision   domain.DecisionKind
	Comment    string
}

// DecideResult reports the recorded decision and the request after the
// consensus rule ran.
type DecideResult struct {
	Request   *domain.ApprovalRequest
	Decision  *domain.ApprovalDecision
	Approvals int
}

// Decide appends an approver's decision and applies the consensus rule:
// once the number of distinct approvals reaches the captured threshold the
// request is approved; otherwise a rejection resolves it as rejected.
//
// A pending request past its deadline still accepts decisions until the
// sweeper expires it.
func (l *Ledger) Decide(ctx context.Context, params DecideParams) (*DecideResult, error) {
	params.RequestID = strings.TrimSpace(params.RequestID)
	params.ApproverID = strings.TrimSpace(params.ApproverID)
	params.Decision = domain.DecisionKind(strings.ToLower(strings.TrimSpace(string(params.Decision))))

	var fields []apperrors.FieldError
	if params.ApproverID == "" {
		fields = append(fields, apperrors.FieldError{Field: "approver_id", Code: "required", Message: "must not be empty"})
	}
	if !params.Decision.Valid() {
		fields = append(fields, apperrors.FieldError{Field: "decision", Code: "enum", Message: "must be approved or rejected"})
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation(fields...)
	}

	now := l.timestamp()
	var (
		result DecideResult
		wf     *domain.Workflow
	)
	err := l.repo.InTx(ctx, func(q repository.Querier) error {
		req, err := q.LockRequest(ctx, params.RequestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrRequestNotFoundf(params.RequestID)
			}
			return fmt.Errorf("lock request %s: %w", params.RequestID, err)
		}
		wf, err = q.GetWorkflow(ctx, req.WorkflowID)
		if err != nil {
			return fmt.Errorf("get workflow %s: %w", req.WorkflowID, err)
		}

		if err := l.authorizer.CanDecide(ctx, wf, req, params.ApproverID); err != nil {
			return err
		}
		if !req.IsPending() {
			return apperrors.ErrRequestNotPendingf(req.ID, string(req.Status))
		}

		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate decision id: %w", err)
		}
		decision := &domain.ApprovalDecision{
			ID:         id.String(),
			RequestID:  req.ID,
			ApproverID: params.ApproverID,
			Decision:   params.Decision,
			Comment:    params.Comment,
			DecidedAt:  now,
		}
		if err := q.InsertDecision(ctx, decision); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.ErrDuplicateDecisionf(req.ID, params.ApproverID)
			}
			return fmt.Errorf("insert decision: %w", err)
		}

		approvals, err := q.CountApprovals(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("count approvals of %s: %w", req.ID, err)
		}

		next := domain.Resolve(req.RequiredApprovers, approvals, params.Decision)
		if next.IsTerminal() {
			ok, err := q.ResolveRequest(ctx, req.ID, next, now)
			if err != nil {
				return fmt.Errorf("resolve request %s: %w", req.ID, err)
			}
			if !ok {
				return apperrors.ErrRequestNotPendingf(req.ID, "resolved")
			}
			req.Status = next
			req.ResolvedAt = &now
		}

		result = DecideResult{Request: req, Decision: decision, Approvals: approvals}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req := result.Request
	metrics.RecordDecision(string(params.Decision))
	if l.audit != nil {
		l.audit.LogDecision(ctx, req.ID, string(params.Decision), params.ApproverID, string(req.Status))
	}
	logger.Info("Approval decision recorded",
		zap.String("request_id", req.ID),
		zap.String("workflow_id", req.WorkflowID),
		zap.String("approver", params.ApproverID),
		zap.String("decision", string(params.Decision)),
		zap.Int("approvals", result.Approvals),
		zap.Int("required", req.RequiredApprovers),
		zap.String("status", string(req.Status)),
	)

	if req.Status.IsTerminal() {
		metrics.RecordResolution(string(req.Status))
		if wf.NotifyOnApproval {
			l.notify(ctx, domain.EventRequestResolved, req, wf, params.ApproverID)
		}
	}
	return &result, nil
}

// Approve records an approval.
func (l *Ledger) Approve(ctx context.Context, requestID, approverID, comment string) (*DecideResult, error) {
	return l.Decide(ctx, DecideParams{RequestID: requestID, ApproverID: approverID, Decision: domain.DecisionApproved, Comment: comment})
}

// Reject records a rejection.
func (l *Ledger) Reject(ctx context.Context, requestID, approverID, comment string) (*DecideResult, error) {
	return l.Decide(ctx, DecideParams{RequestID: requestID, ApproverID: approverID, Decision: domain.DecisionRejected, Comment: comment})
}

// Expire moves a pending request whose deadline is at or before now to
// expired. It reports false, without error, when the request was resolved
// first or its deadline has not passed.
func (l *Ledger) Expire(ctx context.Context, requestID string, now time.Time) (bool, error) {
	now = now.UTC().Truncate(time.Microsecond)
	var (
		req *domain.ApprovalRequest
		wf  *domain.Workflow
	)
	expired := false
	err := l.repo.InTx(ctx, func(q repository.Querier) error {
		var err error
		req, err = q.LockRequest(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrRequestNotFoundf(requestID)
			}
			return fmt.Errorf("lock request %s: %w", requestID, err)
		}
		if !req.IsOverdue(now) {
			return nil
		}

		ok, err := q.ExpireRequest(ctx, requestID, now)
		if err != nil {
			return fmt.Errorf("expire request %s: %w", requestID, err)
		}
		if !ok {
			return nil
		}
		wf, err = q.GetWorkflow(ctx, req.WorkflowID)
		if err != nil {
			return fmt.Errorf("get workflow %s: %w", req.WorkflowID, err)
		}
		req.Status = domain.RequestExpired
		req.ResolvedAt = &now
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	metrics.RecordResolution(string(domain.RequestExpired))
	if l.audit != nil {
		l.audit.LogAction(ctx, "request.expired", audit.ResourceRequest, req.ID, SystemActor, nil)
	}
	logger.Info("Approval request expired",
		zap.String("request_id", req.ID),
		zap.String("workflow_id", req.WorkflowID),
		zap.Timep("expires_at", req.ExpiresAt),
	)
	if wf.NotifyOnApproval {
		l.notify(ctx, domain.EventRequestExpired, req, wf, SystemActor)
	}
	return true, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/repository"
)

const workflowColumns = `id, owner_id, name, description, trigger_on_validation, min_severity,
	max_violations, required_approvers, approvers, auto_approve_on_pass, block_merge,
	notify_on_request, notify_on_approval, request_ttl_seconds, status, created_by,
	created_at, updated_at, deleted_at`

const requestColumns = `r.id, r.workflow_id, r.validation_run_id, r.pr_validation_id, r.requested_by,
	r.status, r.required_approvers, r.block_merge, r.auto_approved, r.context,
	r.expires_at, r.created_at, r.resolved_at`

const decisionColumns = `id, request_id, approver_id, decision, comment, decided_at`

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var (
		wf        domain.Workflow
		maxViol   *int32
		approvers []byte
		ttl       *int64
		severity  string
		status    string
	)
	err := row.Scan(
		&wf.ID, &wf.OwnerID, &wf.Name, &wf.Description, &wf.TriggerOnValidation, &severity,
		&maxViol, &wf.RequiredApprovers, &approvers, &wf.AutoApproveOnPass, &wf.BlockMerge,
		&wf.NotifyOnRequest, &wf.NotifyOnApproval, &ttl, &status, &wf.CreatedBy,
		&wf.CreatedAt, &wf.UpdatedAt, &wf.DeletedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	wf.MinSeverity = domain.Severity(severity)
	wf.Status = domain.WorkflowStatus(status)
	if maxViol != nil {
		v := int(*maxViol)
		wf.MaxViolations = &v
	}
	if ttl != nil {
		wf.RequestTTL = time.Duration(*ttl) * time.Second
	}
	if len(approvers) > 0 {
		if err := json.Unmarshal(approvers, &wf.Approvers); err != nil {
			return nil, fmt.Errorf("decode approvers: %w", err)
		}
	}
	if len(wf.Approvers) == 0 {
		wf.Approvers = nil
	}
	return &wf, nil
}

func scanRequest(row pgx.Row) (*domain.ApprovalRequest, error) {
	var (
		req    domain.ApprovalRequest
		runID  *string
		prID   *string
		status string
	)
	err := row.Scan(
		&req.ID, &req.WorkflowID, &runID, &prID, &req.RequestedBy,
		&status, &req.RequiredApprovers, &req.BlockMerge, &req.AutoApproved, &req.Context,
		&req.ExpiresAt, &req.CreatedAt, &req.ResolvedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	req.Status = domain.RequestStatus(status)
	if runID != nil {
		req.ValidationRunID = *runID
	}
	if prID != nil {
		req.PRValidationID = *prID
	}
	return &req, nil
}

func scanDecision(row pgx.Row) (*domain.ApprovalDecision, error) {
	var (
		d    domain.ApprovalDecision
		kind string
	)
	if err := row.Scan(&d.ID, &d.RequestID, &d.ApproverID, &kind, &d.Comment, &d.DecidedAt); err != nil {
		return nil, mapErr(err)
	}
	d.Decision = domain.DecisionKind(kind)
	return &d, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func ttlSeconds(d time.Duration) interface{} {
	if d <= 0 {
		return nil
	}
	return int64(d / time.Second)
}

func approversJSON(approvers []string) (string, error) {
	if approvers == nil {
		approvers = []string{}
	}
	b, err := json.Marshal(approvers)
	if err != nil {
		return "", fmt.Errorf("encode approvers: %w", err)
	}
	return string(b), nil
}

// InsertWorkflow inserts a new workflow row.
func (q *Queries) InsertWorkflow(ctx context.Context, wf *domain.Workflow) error {
	approvers, err := approversJSON(wf.Approvers)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		wf.ID, wf.OwnerID, wf.Name, wf.Description, wf.TriggerOnValidation, string(wf.MinSeverity),
		wf.MaxViolations, wf.RequiredApprovers, approvers, wf.AutoApproveOnPass, wf.BlockMerge,
		wf.NotifyOnRequest, wf.NotifyOnApproval, ttlSeconds(wf.RequestTTL), string(wf.Status), wf.CreatedBy,
		wf.CreatedAt, wf.UpdatedAt, wf.DeletedAt,
	)
	return mapErr(err)
}

// UpdateWorkflow rewrites the mutable columns of a live workflow.
func (q *Queries) UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	approvers, err := approversJSON(wf.Approvers)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE workflows SET
			name = $2, description = $3, trigger_on_validation = $4, min_severity = $5,
			max_violations = $6, required_approvers = $7, approvers = $8::jsonb,
			auto_approve_on_pass = $9, block_merge = $10, notify_on_request = $11,
			notify_on_approval = $12, request_ttl_seconds = $13, status = $14, updated_at = $15
		WHERE id = $1 AND deleted_at IS NULL`,
		wf.ID, wf.Name, wf.Description, wf.TriggerOnValidation, string(wf.MinSeverity),
		wf.MaxViolations, wf.RequiredApprovers, approvers,
		wf.AutoApproveOnPass, wf.BlockMerge, wf.NotifyOnRequest,
		wf.NotifyOnApproval, ttlSeconds(wf.RequestTTL), string(wf.Status), wf.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetWorkflow returns a workflow, deleted or not.
func (q *Queries) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	return scanWorkflow(q.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id))
}

// LockWorkflow returns a workflow with FOR UPDATE. Only meaningful inside InTx.
func (q *Queries) LockWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	return scanWorkflow(q.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1 FOR UPDATE`, id))
}

// ListWorkflows returns workflows ordered by creation time.
func (q *Queries) ListWorkflows(ctx context.Context, filter repository.WorkflowFilter) ([]*domain.Workflow, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.ActiveOnly {
		where = append(where, "status = 'active'")
	}
	sql := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at, id"

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// SoftDeleteWorkflow stamps deleted_at on a live workflow.
func (q *Queries) SoftDeleteWorkflow(ctx context.Context, id string, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE workflows SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountPendingRequests counts pending requests of a workflow.
func (q *Queries) CountPendingRequests(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM approval_requests WHERE workflow_id = $1 AND status = 'pending'`, workflowID,
	).Scan(&n)
	return n, err
}

// InsertRequest inserts a new approval request.
func (q *Queries) InsertRequest(ctx context.Context, req *domain.ApprovalRequest) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO approval_requests (id, workflow_id, validation_run_id, pr_validation_id, requested_by,
			status, required_approvers, block_merge, auto_approved, context, expires_at, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		req.ID, req.WorkflowID, nullString(req.ValidationRunID), nullString(req.PRValidationID), req.RequestedBy,
		string(req.Status), req.RequiredApprovers, req.BlockMerge, req.AutoApproved, req.Context,
		req.ExpiresAt, req.CreatedAt, req.ResolvedAt,
	)
	return mapErr(err)
}

// GetRequest returns one request.
func (q *Queries) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests r WHERE r.id = $1`, id))
}

// LockRequest returns one request with FOR UPDATE. Only meaningful inside InTx.
func (q *Queries) LockRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return scanRequest(q.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM approval_requests r WHERE r.id = $1 FOR UPDATE`, id))
}

// FindRequestByRun returns the request keyed by (workflow, validation run).
func (q *Queries) FindRequestByRun(ctx context.Context, workflowID, validationRunID string) (*domain.ApprovalRequest, error) {
	return scanRequest(q.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM approval_requests r WHERE r.workflow_id = $1 AND r.validation_run_id = $2`,
		workflowID, validationRunID))
}

// ListRequests returns requests matching filter. Pending listings are
// oldest first; everything else is newest first.
func (q *Queries) ListRequests(ctx context.Context, filter repository.RequestFilter) ([]*domain.ApprovalRequest, error) {
	filter = filter.Normalized()
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	pendingOnly := len(filter.Statuses) == 1 && filter.Statuses[0] == domain.RequestPending
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "r.status = ANY("+arg(statuses)+")")
	}
	if filter.OwnerID != "" {
		where = append(where, "w.owner_id = "+arg(filter.OwnerID))
	}
	if filter.WorkflowID != "" {
		where = append(where, "r.workflow_id = "+arg(filter.WorkflowID))
	}
	if !filter.IncludeAutoApproved {
		where = append(where, "NOT r.auto_approved")
	}
	if filter.ApproverID != "" {
		p := arg(filter.ApproverID)
		if pendingOnly {
			where = append(where,
				"NOT EXISTS (SELECT 1 FROM approval_decisions d WHERE d.request_id = r.id AND d.approver_id = "+p+")",
				"(jsonb_array_length(w.approvers) = 0 OR w.approvers @> jsonb_build_array("+p+"::text))",
			)
		} else {
			where = append(where,
				"EXISTS (SELECT 1 FROM approval_decisions d WHERE d.request_id = r.id AND d.approver_id = "+p+")")
		}
	}

	sql := `SELECT ` + requestColumns + ` FROM approval_requests r JOIN workflows w ON w.id = r.workflow_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if pendingOnly {
		sql += " ORDER BY r.created_at, r.id"
	} else {
		sql += " ORDER BY r.created_at DESC, r.id DESC"
	}
	sql += " LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)

	return q.queryRequests(ctx, sql, args...)
}

// ListRequestsByRun returns every request opened for a validation run.
func (q *Queries) ListRequestsByRun(ctx context.Context, validationRunID string) ([]*domain.ApprovalRequest, error) {
	return q.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM approval_requests r WHERE r.validation_run_id = $1 ORDER BY r.created_at, r.id`,
		validationRunID)
}

// ListOverdueRequests returns pending requests whose deadline has passed.
func (q *Queries) ListOverdueRequests(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error) {
	return q.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM approval_requests r
		WHERE r.status = 'pending' AND r.expires_at IS NOT NULL AND r.expires_at <= $1
		ORDER BY r.expires_at, r.id
		LIMIT $2`, now, limit)
}

func (q *Queries) queryRequests(ctx context.Context, sql string, args ...interface{}) ([]*domain.ApprovalRequest, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ResolveRequest is a compare-and-swap from pending.
func (q *Queries) ResolveRequest(ctx context.Context, id string, to domain.RequestStatus, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE approval_requests SET status = $2, resolved_at = $3 WHERE id = $1 AND status = 'pending'`,
		id, string(to), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireRequest is a compare-and-swap from pending guarded by the deadline.
func (q *Queries) ExpireRequest(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE approval_requests SET status = 'expired', resolved_at = $2
		WHERE id = $1 AND status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $2`,
		id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertDecision appends a decision.
func (q *Queries) InsertDecision(ctx context.Context, d *domain.ApprovalDecision) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO approval_decisions (`+decisionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.RequestID, d.ApproverID, string(d.Decision), d.Comment, d.DecidedAt)
	return mapErr(err)
}

// ListDecisions returns the decisions of a request in order.
func (q *Queries) ListDecisions(ctx context.Context, requestID string) ([]*domain.ApprovalDecision, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+decisionColumns+` FROM approval_decisions WHERE request_id = $1 ORDER BY decided_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ApprovalDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountApprovals counts distinct approving approvers.
func (q *Queries) CountApprovals(ctx context.Context, requestID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT count(DISTINCT approver_id) FROM approval_decisions WHERE request_id = $1 AND decision = 'approved'`,
		requestID,
	).Scan(&n)
	return n, err
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

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

type scanner interface {
	Scan(dest ...interface{}) error
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
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

func scanWorkflow(row scanner) (*domain.Workflow, error) {
	var (
		wf                   domain.Workflow
		maxViol, ttl         sql.NullInt64
		approvers            string
		severity, status     string
		createdAt, updatedAt int64
		deletedAt            sql.NullInt64
	)
	err := row.Scan(
		&wf.ID, &wf.OwnerID, &wf.Name, &wf.Description, &wf.TriggerOnValidation, &severity,
		&maxViol, &wf.RequiredApprovers, &approvers, &wf.AutoApproveOnPass, &wf.BlockMerge,
		&wf.NotifyOnRequest, &wf.NotifyOnApproval, &ttl, &status, &wf.CreatedBy,
		&createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	wf.MinSeverity = domain.Severity(severity)
	wf.Status = domain.WorkflowStatus(status)
	if maxViol.Valid {
		v := int(maxViol.Int64)
		wf.MaxViolations = &v
	}
	if ttl.Valid {
		wf.RequestTTL = time.Duration(ttl.Int64) * time.Second
	}
	if err := json.Unmarshal([]byte(approvers), &wf.Approvers); err != nil {
		return nil, fmt.Errorf("decode approvers: %w", err)
	}
	if len(wf.Approvers) == 0 {
		wf.Approvers = nil
	}
	wf.CreatedAt = fromNanos(createdAt)
	wf.UpdatedAt = fromNanos(updatedAt)
	wf.DeletedAt = timePtr(deletedAt)
	return &wf, nil
}

func scanRequest(row scanner) (*domain.ApprovalRequest, error) {
	var (
		req                   domain.ApprovalRequest
		runID, prID           sql.NullString
		status                string
		expiresAt, resolvedAt sql.NullInt64
		createdAt             int64
	)
	err := row.Scan(
		&req.ID, &req.WorkflowID, &runID, &prID, &req.RequestedBy,
		&status, &req.RequiredApprovers, &req.BlockMerge, &req.AutoApproved, &req.Context,
		&expiresAt, &createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	req.Status = domain.RequestStatus(status)
	req.ValidationRunID = runID.String
	req.PRValidationID = prID.String
	req.ExpiresAt = timePtr(expiresAt)
	req.CreatedAt = fromNanos(createdAt)
	req.ResolvedAt = timePtr(resolvedAt)
	return &req, nil
}

func scanDecision(row scanner) (*domain.ApprovalDecision, error) {
	var (
		d         domain.ApprovalDecision
		kind      string
		decidedAt int64
	)
	if err := row.Scan(&d.ID, &d.RequestID, &d.ApproverID, &kind, &d.Comment, &decidedAt); err != nil {
		return nil, mapErr(err)
	}
	d.Decision = domain.DecisionKind(kind)
	d.DecidedAt = fromNanos(decidedAt)
	return &d, nil
}

// InsertWorkflow inserts a new workflow row.
func (q *Queries) InsertWorkflow(ctx context.Context, wf *domain.Workflow) error {
	approvers, err := approversJSON(wf.Approvers)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OwnerID, wf.Name, wf.Description, wf.TriggerOnValidation, string(wf.MinSeverity),
		nullInt(wf.MaxViolations), wf.RequiredApprovers, approvers, wf.AutoApproveOnPass, wf.BlockMerge,
		wf.NotifyOnRequest, wf.NotifyOnApproval, ttlSeconds(wf.RequestTTL), string(wf.Status), wf.CreatedBy,
		toNanos(wf.CreatedAt), toNanos(wf.UpdatedAt), nullTime(wf.DeletedAt),
	)
	return mapErr(err)
}

// UpdateWorkflow rewrites the mutable columns of a live workflow.
func (q *Queries) UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	approvers, err := approversJSON(wf.Approvers)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE workflows SET
			name = ?, description = ?, trigger_on_validation = ?, min_severity = ?,
			max_violations = ?, required_approvers = ?, approvers = ?,
			auto_approve_on_pass = ?, block_merge = ?, notify_on_request = ?,
			notify_on_approval = ?, request_ttl_seconds = ?, status = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		wf.Name, wf.Description, wf.TriggerOnValidation, string(wf.MinSeverity),
		nullInt(wf.MaxViolations), wf.RequiredApprovers, approvers,
		wf.AutoApproveOnPass, wf.BlockMerge, wf.NotifyOnRequest,
		wf.NotifyOnApproval, ttlSeconds(wf.RequestTTL), string(wf.Status), toNanos(wf.UpdatedAt),
		wf.ID,
	)
	if err != nil {
		return mapErr(err)
	}
	return requireOne(res)
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetWorkflow returns a workflow, deleted or not.
func (q *Queries) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	return scanWorkflow(q.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id))
}

// LockWorkflow reads a workflow; see LockRequest.
func (q *Queries) LockWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	return q.GetWorkflow(ctx, id)
}

// ListWorkflows returns workflows ordered by creation time.
func (q *Queries) ListWorkflows(ctx context.Context, filter repository.WorkflowFilter) ([]*domain.Workflow, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.ActiveOnly {
		where = append(where, "status = 'active'")
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := q.db.QueryContext(ctx, query, args...)
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
	res, err := q.db.ExecContext(ctx,
		`UPDATE workflows SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		toNanos(at), toNanos(at), id)
	if err != nil {
		return err
	}
	return requireOne(res)
}

// CountPendingRequests counts pending requests of a workflow.
func (q *Queries) CountPendingRequests(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM approval_requests WHERE workflow_id = ? AND status = 'pending'`, workflowID,
	).Scan(&n)
	return n, err
}

// InsertRequest inserts a new approval request.
func (q *Queries) InsertRequest(ctx context.Context, req *domain.ApprovalRequest) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, workflow_id, validation_run_id, pr_validation_id, requested_by,
			status, required_approvers, block_merge, auto_approved, context, expires_at, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.WorkflowID, nullString(req.ValidationRunID), nullString(req.PRValidationID), req.RequestedBy,
		string(req.Status), req.RequiredApprovers, req.BlockMerge, req.AutoApproved, req.Context,
		nullTime(req.ExpiresAt), toNanos(req.CreatedAt), nullTime(req.ResolvedAt),
	)
	return mapErr(err)
}

// GetRequest returns one request.
func (q *Queries) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return scanRequest(q.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests r WHERE r.id = ?`, id))
}

// LockRequest reads one request. The single connection already serializes
// transactions, so no row lock is needed.
func (q *Queries) LockRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return q.GetRequest(ctx, id)
}

// FindRequestByRun returns the request keyed by (workflow, validation run).
func (q *Queries) FindRequestByRun(ctx context.Context, workflowID, validationRunID string) (*domain.ApprovalRequest, error) {
	return scanRequest(q.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests r WHERE r.workflow_id = ? AND r.validation_run_id = ?`,
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

	pendingOnly := len(filter.Statuses) == 1 && filter.Statuses[0] == domain.RequestPending
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "r.status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.OwnerID != "" {
		where = append(where, "w.owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.WorkflowID != "" {
		where = append(where, "r.workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if !filter.IncludeAutoApproved {
		where = append(where, "r.auto_approved = 0")
	}
	if filter.ApproverID != "" {
		if pendingOnly {
			where = append(where,
				"NOT EXISTS (SELECT 1 FROM approval_decisions d WHERE d.request_id = r.id AND d.approver_id = ?)",
				"(json_array_length(w.approvers) = 0 OR EXISTS (SELECT 1 FROM json_each(w.approvers) j WHERE j.value = ?))",
			)
			args = append(args, filter.ApproverID, filter.ApproverID)
		} else {
			where = append(where,
				"EXISTS (SELECT 1 FROM approval_decisions d WHERE d.request_id = r.id AND d.approver_id = ?)")
			args = append(args, filter.ApproverID)
		}
	}

	query := `SELECT ` + requestColumns + ` FROM approval_requests r JOIN workflows w ON w.id = r.workflow_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if pendingOnly {
		query += " ORDER BY r.created_at, r.id"
	} else {
		query += " ORDER BY r.created_at DESC, r.id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return q.queryRequests(ctx, query, args...)
}

// ListRequestsByRun returns every request opened for a validation run.
func (q *Queries) ListRequestsByRun(ctx context.Context, validationRunID string) ([]*domain.ApprovalRequest, error) {
	return q.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM approval_requests r WHERE r.validation_run_id = ? ORDER BY r.created_at, r.id`,
		validationRunID)
}

// ListOverdueRequests returns pending requests whose deadline has passed.
func (q *Queries) ListOverdueRequests(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error) {
	return q.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM approval_requests r
		WHERE r.status = 'pending' AND r.expires_at IS NOT NULL AND r.expires_at <= ?
		ORDER BY r.expires_at, r.id
		LIMIT ?`, toNanos(now), limit)
}

func (q *Queries) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*domain.ApprovalRequest, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
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
	res, err := q.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = ?, resolved_at = ? WHERE id = ? AND status = 'pending'`,
		string(to), toNanos(at), id)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ExpireRequest is a compare-and-swap from pending guarded by the deadline.
func (q *Queries) ExpireRequest(ctx context.Context, id string, now time.Time) (bool, error) {
	n := toNanos(now)
	res, err := q.db.ExecContext(ctx, `
		UPDATE approval_requests SET status = 'expired', resolved_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at IS NOT NULL AND expires_at <= ?`,
		n, id, n)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// InsertDecision appends a decision.
func (q *Queries) InsertDecision(ctx context.Context, d *domain.ApprovalDecision) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO approval_decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.RequestID, d.ApproverID, string(d.Decision), d.Comment, toNanos(d.DecidedAt))
	return mapErr(err)
}

// ListDecisions returns the decisions of a request in order.
func (q *Queries) ListDecisions(ctx context.Context, requestID string) ([]*domain.ApprovalDecision, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM approval_decisions WHERE request_id = ? ORDER BY decided_at, id`, requestID)
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
	err := q.db.QueryRowContext(ctx,
		`SELECT count(DISTINCT approver_id) FROM approval_decisions WHERE request_id = ? AND decision = 'approved'`,
		requestID,
	).Scan(&n)
	return n, err
}

// Package repotest holds the behavioural suite every repository.Store
// implementation must pass.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/repository"
)

// NewStoreFunc returns a migrated, empty store. It registers its own cleanup.
type NewStoreFunc func(t *testing.T) repository.Store

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Workflow builds a persisted-ready workflow.
func Workflow(owner, name string) *domain.Workflow {
	id, _ := uuid.NewV7()
	return &domain.Workflow{
		ID:                  id.String(),
		OwnerID:             owner,
		Name:                name,
		TriggerOnValidation: true,
		MinSeverity:         domain.SeverityWarning,
		RequiredApprovers:   2,
		Status:              domain.WorkflowActive,
		CreatedAt:           epoch,
		UpdatedAt:           epoch,
	}
}

// Request builds a pending request for wf.
func Request(wf *domain.Workflow, runID string, createdAt time.Time) *domain.ApprovalRequest {
	id, _ := uuid.NewV7()
	return &domain.ApprovalRequest{
		ID:                id.String(),
		WorkflowID:        wf.ID,
		ValidationRunID:   runID,
		Status:            domain.RequestPending,
		RequiredApprovers: wf.RequiredApprovers,
		BlockMerge:        wf.BlockMerge,
		CreatedAt:         createdAt,
	}
}

func decision(requestID, approver string, kind domain.DecisionKind, at time.Time) *domain.ApprovalDecision {
	id, _ := uuid.NewV7()
	return &domain.ApprovalDecision{
		ID:         id.String(),
		RequestID:  requestID,
		ApproverID: approver,
		Decision:   kind,
		DecidedAt:  at,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore NewStoreFunc) {
	t.Run("WorkflowRoundTrip", func(t *testing.T) { testWorkflowRoundTrip(t, newStore(t)) })
	t.Run("WorkflowUniqueNamePerOwner", func(t *testing.T) { testWorkflowUniqueName(t, newStore(t)) })
	t.Run("SoftDelete", func(t *testing.T) { testSoftDelete(t, newStore(t)) })
	t.Run("RequestUniquePerRun", func(t *testing.T) { testRequestUniquePerRun(t, newStore(t)) })
	t.Run("DecisionUniquePerApprover", func(t *testing.T) { testDecisionUnique(t, newStore(t)) })
	t.Run("ResolveIsCompareAndSwap", func(t *testing.T) { testResolveCAS(t, newStore(t)) })
	t.Run("ExpireGuardedByDeadline", func(t *testing.T) { testExpire(t, newStore(t)) })
	t.Run("ListRequestFilters", func(t *testing.T) { testListFilters(t, newStore(t)) })
	t.Run("InTxRollsBack", func(t *testing.T) { testInTxRollback(t, newStore(t)) })
	t.Run("ConcurrentTransactions", func(t *testing.T) { testConcurrentTx(t, newStore(t)) })
}

func testWorkflowRoundTrip(t *testing.T, s repository.Store) {
	ctx := context.Background()
	wf := Workflow("owner-a", "gate")
	max := 3
	wf.MaxViolations = &max
	wf.Approvers = []string{"alice", "bob"}
	wf.RequestTTL = 2 * time.Hour
	wf.BlockMerge = true
	require.NoError(t, s.InsertWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, got.Name)
	assert.Equal(t, domain.SeverityWarning, got.MinSeverity)
	require.NotNil(t, got.MaxViolations)
	assert.Equal(t, 3, *got.MaxViolations)
	assert.Equal(t, []string{"alice", "bob"}, got.Approvers)
	assert.Equal(t, 2*time.Hour, got.RequestTTL)
	assert.True(t, got.BlockMerge)
	assert.True(t, got.CreatedAt.Equal(epoch))
	assert.Nil(t, got.DeletedAt)

	got.MaxViolations = nil
	got.Approvers = nil
	got.RequestTTL = 0
	got.Status = domain.WorkflowInactive
	got.UpdatedAt = epoch.Add(time.Minute)
	require.NoError(t, s.UpdateWorkflow(ctx, got))

	again, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Nil(t, again.MaxViolations)
	assert.Empty(t, again.Approvers)
	assert.Zero(t, again.RequestTTL)
	assert.Equal(t, domain.WorkflowInactive, again.Status)

	_, err = s.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testWorkflowUniqueName(t *testing.T, s repository.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("owner-a", "gate")))
	err := s.InsertWorkflow(ctx, Workflow("owner-a", "gate"))
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("owner-b", "gate")))
}

func testSoftDelete(t *testing.T, s repository.Store) {
	ctx := context.Background()
	wf := Workflow("owner-a", "gate")
	require.NoError(t, s.InsertWorkflow(ctx, wf))
	require.NoError(t, s.SoftDeleteWorkflow(ctx, wf.ID, epoch.Add(time.Hour)))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)

	list, err := s.ListWorkflows(ctx, repository.WorkflowFilter{OwnerID: "owner-a"})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.ListWorkflows(ctx, repository.WorkflowFilter{OwnerID: "owner-a", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, s.UpdateWorkflow(ctx, got), repository.ErrNotFound)
	assert.ErrorIs(t, s.SoftDeleteWorkflow(ctx, wf.ID, epoch), repository.ErrNotFound)

	// The name is free again once the holder is deleted.
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("owner-a", "gate")))
}

func testRequestUniquePerRun(t *testing.T, s repository.Store) {
	ctx := context.Background()
	wf := Workflow("owner-a", "gate")
	require.NoError(t, s.InsertWorkflow(ctx, wf))

	req := Request(wf, "run-1", epoch)
	require.NoError(t, s.InsertRequest(ctx, req))
	assert.ErrorIs(t, s.InsertRequest(ctx, Request(wf, "run-1", epoch)), repository.ErrDuplicate)

	found, err := s.FindRequestByRun(ctx, wf.ID, "run-1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, found.ID)

	// PR-only requests carry no run id and are not subject to the index.
	pr1 := Request(wf, "", epoch)
	pr1.PRValidationID = "pr-1"
	pr2 := Request(wf, "", epoch)
	pr2.PRValidationID = "pr-1"
	require.NoError(t, s.InsertRequest(ctx, pr1))
	require.NoError(t, s.InsertRequest(ctx, pr2))

	n, err := s.CountPendingRequests(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testDecisionUnique(t *testing.T, s repository.Store) {
	ctx := context.Background()
	wf := Workflow("owner-a", "gate")
	require.NoError(t, s.InsertWorkflow(ctx, wf))
	req := Request(wf, "run-1", epoch)
	require.NoError(t, s.InsertRequest(ctx, req))

	require.NoError(t, s.InsertDecision(ctx, decision(req.ID, "alice", domain.DecisionApproved, epoch)))
	err := s.InsertDecision(ctx, decision(req.ID, "alice", domain.DecisionRejected, epoch))
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	require.NoError(t, s.InsertDecision(ctx, decision(req.ID, "bob", domain.DecisionRejected, epoch.Add(time.Second))))
	require.NoError(t, s.InsertDecision(ctx, decision(req.ID, "carol", domain.DecisionApproved, epoch.Add(2*time.Second))))

	n, err := s.CountApprovals(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.ListDecisions(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alice", list[0].ApproverID)
	assert.Equal(t, "carol", list[2].ApproverID)
}

func testResolveCAS(t *testing.T, s repository.Store) {
	ctx := context.Background()
	wf := Workflow("owner-a", "gate")
	require.NoError(t, s.InsertWorkflow(ctx, wf))
	req := Request(wf, "run-1", epoch)
	require.NoError(t, s.InsertRequest(ctx, req))

	ok, err := s.ResolveRequest(ctx, req.ID, domain.RequestApproved, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ResolveRequest(ctx, req.ID, domain.RequestRejected, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "terminal requests must not transition again")

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(epoch.Add(time.Minute)))
}

func testExpire(t *testing.T, s repository.Store) {
	ctx := context.Background()
	wf := Workflow("owner-a", "gate")
	require.NoError(t, s.InsertWorkflow(ctx, wf))

	deadline := epoch.Add(time.Hour)
	due := Request(wf, "run-due", epoch)
	due.ExpiresAt = &deadline
	later := Request(wf, "run-later", epoch)
	laterDeadline := epoch.Add(48 * time.Hour)
	later.ExpiresAt = &laterDeadline
	never := Request(wf, "run-never", epoch)
	for _, r := range []*domain.ApprovalRequest{due, later, never} {
		require.NoError(t, s.InsertRequest(ctx, r))
	}

	now := epoch.Add(2 * time.Hour)
	overdue, err := s.ListOverdueRequests(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, due.ID, overdue[0].ID)

	ok, err := s.ExpireRequest(ctx, later.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "deadline not reached")

	ok, err = s.ExpireRequest(ctx, due.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ExpireRequest(ctx, due.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRequest(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestExpired, got.Status)
}

func testListFilters(t *testing.T, s repository.Store) {
	ctx := context.Background()
	open := Workflow("owner-a", "open")
	restricted := Workflow("owner-a", "restricted")
	restricted.Approvers = []string{"alice"}
	other := Workflow("owner-b", "other")
	for _, wf := range []*domain.Workflow{open, restricted, other} {
		require.NoError(t, s.InsertWorkflow(ctx, wf))
	}

	r1 := Request(open, "run-1", epoch)
	r2 := Request(restricted, "run-1", epoch.Add(time.Second))
	r3 := Request(other, "run-1", epoch.Add(2*time.Second))
	auto := Request(open, "run-2", epoch.Add(3*time.Second))
	auto.Status = domain.RequestApproved
	auto.AutoApproved = true
	for _, r := range []*domain.ApprovalRequest{r1, r2, r3, auto} {
		require.NoError(t, s.InsertRequest(ctx, r))
	}
	require.NoError(t, s.InsertDecision(ctx, decision(r1.ID, "bob", domain.DecisionApproved, epoch)))

	pending := []domain.RequestStatus{domain.RequestPending}

	list, err := s.ListRequests(ctx, repository.RequestFilter{Statuses: pending})
	require.NoError(t, err)
	assert.Equal(t, []string{r1.ID, r2.ID, r3.ID}, ids(list))

	list, err = s.ListRequests(ctx, repository.RequestFilter{Statuses: pending, OwnerID: "owner-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{r1.ID, r2.ID}, ids(list))

	// bob already decided r1 and is not designated on r2.
	list, err = s.ListRequests(ctx, repository.RequestFilter{Statuses: pending, ApproverID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{r3.ID}, ids(list))

	list, err = s.ListRequests(ctx, repository.RequestFilter{Statuses: pending, ApproverID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{r1.ID, r2.ID, r3.ID}, ids(list))

	list, err = s.ListRequests(ctx, repository.RequestFilter{ApproverID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{r1.ID}, ids(list))

	list, err = s.ListRequests(ctx, repository.RequestFilter{
		Statuses:            []domain.RequestStatus{domain.RequestApproved},
		IncludeAutoApproved: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{auto.ID}, ids(list))

	list, err = s.ListRequests(ctx, repository.RequestFilter{Statuses: pending, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{r2.ID}, ids(list))

	byRun, err := s.ListRequestsByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, byRun, 3)
}

func testInTxRollback(t *testing.T, s repository.Store) {
	ctx := context.Background()
	wf := Workflow("owner-a", "gate")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(q repository.Querier) error {
		require.NoError(t, q.InsertWorkflow(ctx, wf))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetWorkflow(ctx, wf.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testConcurrentTx(t *testing.T, s repository.Store) {
	ctx := context.Background()
	wf := Workflow("owner-a", "gate")
	require.NoError(t, s.InsertWorkflow(ctx, wf))
	req := Request(wf, "run-1", epoch)
	require.NoError(t, s.InsertRequest(ctx, req))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(q repository.Querier) error {
				locked, err := q.LockRequest(ctx, req.ID)
				if err != nil {
					return err
				}
				if !locked.IsPending() {
					return nil
				}
				ok, err := q.ResolveRequest(ctx, req.ID, domain.RequestApproved, epoch)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func ids(list []*domain.ApprovalRequest) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.ID
	}
	return out
}

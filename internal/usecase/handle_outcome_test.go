package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/governance/approval"
	"tollgate.io/tollgate/internal/governance/policy"
	"tollgate.io/tollgate/internal/governance/trigger"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/testutil"
)

var testNow = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	uc       *HandleOutcomeUseCase
	policies *policy.Store
	ledger   *approval.Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := testutil.OpenSQLiteStore(t)
	clock := func() time.Time { return testNow }
	h := &harness{
		policies: policy.NewStore(repo, nil, policy.WithClock(clock)),
		ledger:   approval.NewLedger(repo, approval.WithClock(clock)),
	}
	h.uc = NewHandleOutcomeUseCase(h.policies, h.ledger)
	return h
}

func (h *harness) create(t *testing.T, wf domain.Workflow) *domain.Workflow {
	t.Helper()
	if wf.OwnerID == "" {
		wf.OwnerID = "team-a"
	}
	created, err := h.policies.Create(context.Background(), "admin", wf)
	require.NoError(t, err)
	return created
}

func outcome(runID string, info, warning, errs int) domain.ValidationOutcome {
	return domain.ValidationOutcome{
		ValidationRunID: runID,
		Violations:      domain.SeverityCounts{Info: info, Warning: warning, Error: errs},
	}
}

func TestHandleOutcome_OpensPendingRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.create(t, domain.Workflow{
		Name: "errors-need-two", TriggerOnValidation: true,
		MinSeverity: domain.SeverityError, RequiredApprovers: 2, BlockMerge: true,
	})

	out, err := h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-1", 0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	res := out.Results[0]
	assert.Equal(t, trigger.ActionOpenRequest, res.Action)
	assert.Equal(t, 1, res.QualifyingCount)
	require.NotNil(t, res.Request)
	assert.Equal(t, domain.RequestPending, res.Request.Status)
	assert.Equal(t, "ci-bot", res.Request.RequestedBy)
	assert.True(t, out.BlockMerge)

	// The rest of the flow: two distinct approvals resolve it.
	r, err := h.ledger.Approve(ctx, res.Request.ID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, r.Request.Status)
	r, err = h.ledger.Approve(ctx, res.Request.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, r.Request.Status)
	assert.Equal(t, wf.ID, r.Request.WorkflowID)

	replay, err := h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-1", 0, 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, res.Request.ID, replay.Results[0].Request.ID)
	assert.False(t, replay.BlockMerge, "approved request no longer blocks")
}

func TestHandleOutcome_ReplayAfterRejectionStillBlocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, domain.Workflow{
		Name: "veto", TriggerOnValidation: true,
		MinSeverity: domain.SeverityError, RequiredApprovers: 1, BlockMerge: true,
	})

	out, err := h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-x", 0, 0, 1)})
	require.NoError(t, err)
	require.NotNil(t, out.Results[0].Request)
	assert.True(t, out.BlockMerge)

	_, err = h.ledger.Reject(ctx, out.Results[0].Request.ID, "alice", "not shipping this")
	require.NoError(t, err)

	replay, err := h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-x", 0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, replay.Results, 1)
	require.NotNil(t, replay.Results[0].Request)
	assert.Equal(t, domain.RequestRejected, replay.Results[0].Request.Status)
	assert.True(t, replay.BlockMerge, "rejected request keeps the run blocked")

	gate, err := h.ledger.Gate(ctx, "run-x")
	require.NoError(t, err)
	assert.Equal(t, gate.Blocked, replay.BlockMerge)
}

func TestHandleOutcome_AutoApprovesCleanRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, domain.Workflow{
		Name: "auto", TriggerOnValidation: true, MinSeverity: domain.SeverityError,
		RequiredApprovers: 1, AutoApproveOnPass: true, BlockMerge: true,
	})

	out, err := h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-2", 3, 2, 0)})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, trigger.ActionAutoApprove, out.Results[0].Action)
	require.NotNil(t, out.Results[0].Request)
	assert.Equal(t, domain.RequestApproved, out.Results[0].Request.Status)
	assert.True(t, out.Results[0].Request.AutoApproved)
	assert.False(t, out.BlockMerge)

	pending, err := h.ledger.ListPending(ctx, approval.ListFilter{OwnerID: "team-a"})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestHandleOutcome_WorkflowsFireIndependently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	strict := h.create(t, domain.Workflow{
		Name: "strict", TriggerOnValidation: true, MinSeverity: domain.SeverityInfo, RequiredApprovers: 1,
	})
	lenient := h.create(t, domain.Workflow{
		Name: "lenient", TriggerOnValidation: true, MinSeverity: domain.SeverityError, RequiredApprovers: 1,
	})
	disabled := h.create(t, domain.Workflow{
		Name: "disabled", MinSeverity: domain.SeverityInfo, RequiredApprovers: 1,
	})
	h.create(t, domain.Workflow{
		OwnerID: "team-b", Name: "other-owner", TriggerOnValidation: true,
		MinSeverity: domain.SeverityInfo, RequiredApprovers: 1,
	})

	out, err := h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-3", 0, 4, 0)})
	require.NoError(t, err)
	require.Len(t, out.Results, 3)

	byID := map[string]OutcomeResult{}
	for _, r := range out.Results {
		byID[r.WorkflowID] = r
	}
	assert.Equal(t, trigger.ActionOpenRequest, byID[strict.ID].Action)
	assert.NotNil(t, byID[strict.ID].Request)
	assert.Equal(t, trigger.ActionSkip, byID[lenient.ID].Action)
	assert.Equal(t, trigger.ReasonPassed, byID[lenient.ID].Reason)
	assert.Nil(t, byID[lenient.ID].Request)
	assert.Equal(t, trigger.ReasonTriggerDisabled, byID[disabled.ID].Reason)
	assert.False(t, out.BlockMerge)
}

func TestHandleOutcome_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("", 0, 0, 1)})
	assert.True(t, apperrors.IsValidation(err))

	_, err = h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-4", -1, 0, 0)})
	assert.True(t, apperrors.IsValidation(err))

	_, err = h.uc.Execute(ctx, "ci-bot", OutcomeInput{Outcome: outcome("run-4", 0, 0, 0)})
	assert.True(t, apperrors.IsValidation(err))

	h.create(t, domain.Workflow{Name: "w", TriggerOnValidation: true, MinSeverity: domain.SeverityInfo, RequiredApprovers: 1})
	past := testNow.Add(-time.Hour)
	_, err = h.uc.Execute(ctx, "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-4", 1, 0, 0), ExpiresAt: &past})
	assert.True(t, apperrors.IsValidation(err))
}

type staleLister struct{ list []*domain.Workflow }

func (s staleLister) List(context.Context, string) ([]*domain.Workflow, error) { return s.list, nil }

func TestHandleOutcome_WorkflowGoneAfterListing(t *testing.T) {
	h := newHarness(t)
	ghost := &domain.Workflow{
		ID: "ghost", OwnerID: "team-a", Name: "ghost", TriggerOnValidation: true,
		MinSeverity: domain.SeverityInfo, RequiredApprovers: 1, Status: domain.WorkflowActive,
	}
	uc := NewHandleOutcomeUseCase(staleLister{list: []*domain.Workflow{ghost}}, h.ledger)

	out, err := uc.Execute(context.Background(), "ci-bot", OutcomeInput{OwnerID: "team-a", Outcome: outcome("run-5", 1, 0, 0)})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, trigger.ActionSkip, out.Results[0].Action)
	assert.Equal(t, trigger.ReasonInactive, out.Results[0].Reason)
}

package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/pkg/worker"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Params
	err  error
}

func (s *recordingSender) Send(_ context.Context, p Params) error {
	if err := validateParams(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, p)
	return nil
}

func (s *recordingSender) SendToMany(ctx context.Context, ids []string, p Params) error {
	return sendEach(ctx, s, ids, p)
}

func (s *recordingSender) all() []Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Params(nil), s.sent...)
}

func fixture() (*domain.ApprovalRequest, *domain.Workflow) {
	wf := &domain.Workflow{ID: "wf-1", OwnerID: "team-a", Name: "release gate"}
	req := &domain.ApprovalRequest{
		ID:              "req-1",
		WorkflowID:      wf.ID,
		ValidationRunID: "run-9",
		Status:          domain.RequestPending,
	}
	return req, wf
}

func TestTriggers_CreatedNotifiesApprovers(t *testing.T) {
	sender := &recordingSender{}
	tr := NewTriggers(sender, nil)
	req, wf := fixture()
	wf.Approvers = []string{"alice", "bob"}

	tr.Notify(context.Background(), domain.EventRequestCreated, req, wf, "ci-bot")

	sent := sender.all()
	require.Len(t, sent, 2)
	assert.Equal(t, "alice", sent[0].RecipientID)
	assert.Equal(t, "bob", sent[1].RecipientID)
	assert.Equal(t, TypeApprovalPending, sent[0].Type)
	assert.Contains(t, sent[0].Message, "run-9")
	assert.Equal(t, "req-1", sent[0].ResourceID)
}

func TestTriggers_CreatedFallsBackToOwner(t *testing.T) {
	sender := &recordingSender{}
	tr := NewTriggers(sender, nil)
	req, wf := fixture()

	tr.Notify(context.Background(), domain.EventRequestCreated, req, wf, "")

	sent := sender.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "team-a", sent[0].RecipientID)
}

func TestTriggers_ResolvedAndExpired(t *testing.T) {
	sender := &recordingSender{}
	tr := NewTriggers(sender, nil)
	req, wf := fixture()
	req.RequestedBy = "ci-bot"

	req.Status = domain.RequestRejected
	tr.Notify(context.Background(), domain.EventRequestResolved, req, wf, "alice")
	req.Status = domain.RequestExpired
	tr.Notify(context.Background(), domain.EventRequestExpired, req, wf, "")

	sent := sender.all()
	require.Len(t, sent, 2)
	assert.Equal(t, TypeApprovalRejected, sent[0].Type)
	assert.Equal(t, "ci-bot", sent[0].RecipientID)
	assert.Contains(t, sent[0].Message, "alice")
	assert.Equal(t, TypeApprovalExpired, sent[1].Type)
}

func TestTriggers_AutoApprovedMessage(t *testing.T) {
	sender := &recordingSender{}
	tr := NewTriggers(sender, nil)
	req, wf := fixture()
	req.Status = domain.RequestApproved
	req.AutoApproved = true

	tr.Notify(context.Background(), domain.EventRequestResolved, req, wf, "")

	sent := sender.all()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeApprovalCompleted, sent[0].Type)
	assert.Contains(t, sent[0].Message, "automatically")
}

func TestTriggers_SenderFailureIsSwallowed(t *testing.T) {
	sender := &recordingSender{err: errors.New("broker down")}
	tr := NewTriggers(sender, nil)
	req, wf := fixture()

	assert.NotPanics(t, func() {
		tr.Notify(context.Background(), domain.EventRequestCreated, req, wf, "")
	})
	assert.Empty(t, sender.all())
}

func TestTriggers_DeliversThroughNotifyPool(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	sender := &recordingSender{}
	tr := NewTriggers(sender, pools)
	req, wf := fixture()

	tr.Notify(context.Background(), domain.EventRequestCreated, req, wf, "")

	require.Eventually(t, func() bool { return len(sender.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLogSender_RejectsInvalidParams(t *testing.T) {
	s := NewLogSender()
	err := s.Send(context.Background(), Params{Type: TypeApprovalPending, Title: "t", Message: "m"})
	require.Error(t, err)

	err = s.Send(context.Background(), Params{RecipientID: "r", Type: "BOGUS", Title: "t", Message: "m"})
	require.Error(t, err)

	require.NoError(t, s.SendToMany(context.Background(), []string{"a", "b"},
		Params{Type: TypeApprovalPending, Title: "t", Message: "m"}))
}

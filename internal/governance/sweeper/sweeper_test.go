package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/governance/approval"
	"tollgate.io/tollgate/internal/repository/repotest"
	"tollgate.io/tollgate/internal/testutil"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func TestSweep_ExpiresOverdueRequests(t *testing.T) {
	ctx := context.Background()
	repo := testutil.OpenSQLiteStore(t)
	ledger := approval.NewLedger(repo, approval.WithClock(clock))

	wf := repotest.Workflow("owner-1", "expiring")
	require.NoError(t, repo.InsertWorkflow(ctx, wf))

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	overdue := repotest.Request(wf, "run-1", now.Add(-2*time.Hour))
	overdue.ExpiresAt = &past
	fresh := repotest.Request(wf, "run-2", now.Add(-2*time.Hour))
	fresh.ExpiresAt = &future
	forever := repotest.Request(wf, "run-3", now.Add(-48*time.Hour))
	for _, r := range []*domain.ApprovalRequest{overdue, fresh, forever} {
		require.NoError(t, repo.InsertRequest(ctx, r))
	}

	s := New(ledger, repo, WithClock(clock))
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Expired: 1}, res)

	got, err := repo.GetRequest(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestExpired, got.Status)
	require.NotNil(t, got.ResolvedAt)

	for _, id := range []string{fresh.ID, forever.ID} {
		got, err := repo.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RequestPending, got.Status)
	}

	res, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res, "second pass finds nothing")
}

func TestSweep_DrainsInBatches(t *testing.T) {
	ctx := context.Background()
	repo := testutil.OpenSQLiteStore(t)
	ledger := approval.NewLedger(repo, approval.WithClock(clock))

	wf := repotest.Workflow("owner-1", "batched")
	require.NoError(t, repo.InsertWorkflow(ctx, wf))
	past := now.Add(-time.Second)
	for i := 0; i < 7; i++ {
		r := repotest.Request(wf, fmt.Sprintf("run-%d", i), now.Add(-time.Hour))
		r.ExpiresAt = &past
		require.NoError(t, repo.InsertRequest(ctx, r))
	}

	res, err := New(ledger, repo, WithClock(clock), WithBatchSize(3)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Scanned)
	assert.Equal(t, 7, res.Expired)

	left, err := repo.ListOverdueRequests(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

type fakeLister struct {
	mu      sync.Mutex
	pending []*domain.ApprovalRequest
	err     error
	calls   int
}

func (f *fakeLister) ListOverdueRequests(_ context.Context, _ time.Time, limit int) ([]*domain.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := len(f.pending)
	if n > limit {
		n = limit
	}
	return append([]*domain.ApprovalRequest(nil), f.pending[:n]...), nil
}

func (f *fakeLister) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.pending {
		if r.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return
		}
	}
}

// fakeExpirer expires everything except ids in resolved (lost the race) or
// failing (storage error).
type fakeExpirer struct {
	lister   *fakeLister
	resolved map[string]bool
	failing  map[string]bool
}

func (f *fakeExpirer) Expire(_ context.Context, id string, _ time.Time) (bool, error) {
	if f.failing[id] {
		return false, errors.New("disk on fire")
	}
	f.lister.remove(id)
	return !f.resolved[id], nil
}

func requests(ids ...string) []*domain.ApprovalRequest {
	out := make([]*domain.ApprovalRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, &domain.ApprovalRequest{ID: id, Status: domain.RequestPending})
	}
	return out
}

func TestSweep_ResolvedFirstIsSkipped(t *testing.T) {
	lister := &fakeLister{pending: requests("a", "b", "c")}
	expirer := &fakeExpirer{lister: lister, resolved: map[string]bool{"b": true}}

	res, err := New(expirer, lister, WithClock(clock)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 3, Expired: 2, Skipped: 1}, res)
}

func TestSweep_FailuresDoNotStopThePass(t *testing.T) {
	lister := &fakeLister{pending: requests("a", "b", "c", "d")}
	expirer := &fakeExpirer{lister: lister, failing: map[string]bool{"a": true, "b": true}}

	res, err := New(expirer, lister, WithClock(clock), WithBatchSize(2)).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expire request a")
	assert.Contains(t, err.Error(), "expire request b")
	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 2, res.Expired)
	assert.Less(t, lister.calls, 5, "failing requests must not loop forever")
}

func TestSweep_ListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	expirer := &fakeExpirer{lister: lister}

	res, err := New(expirer, lister).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list overdue requests")
	assert.Equal(t, Result{}, res)
}

func TestRun_StopsOnCancel(t *testing.T) {
	lister := &fakeLister{pending: requests("a")}
	expirer := &fakeExpirer{lister: lister}
	s := New(expirer, lister, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		lister.mu.Lock()
		defer lister.mu.Unlock()
		return len(lister.pending) == 0 && lister.calls >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

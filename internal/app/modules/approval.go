package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/api/handlers"
	"tollgate.io/tollgate/internal/governance/approval"
	"tollgate.io/tollgate/internal/governance/sweeper"
	"tollgate.io/tollgate/internal/jobs"
	"tollgate.io/tollgate/internal/notification"
	"tollgate.io/tollgate/internal/pkg/logger"
	"tollgate.io/tollgate/internal/pkg/worker"
)

// ApprovalModule wires the request ledger, its notifications and the
// expiration sweeper.
type ApprovalModule struct {
	infra    *Infrastructure
	ledger   *approval.Ledger
	notifier *notification.Triggers
	sweeper  *sweeper.Sweeper
}

// NewApprovalModule creates the approval module.
func NewApprovalModule(infra *Infrastructure) (*ApprovalModule, error) {
	if infra == nil || infra.Store == nil || infra.Sender == nil || infra.Config == nil {
		return nil, fmt.Errorf("approval module requires a store, a notification sender and config")
	}

	notifier := notification.NewTriggers(infra.Sender, infra.Pools)
	ledger := approval.NewLedger(infra.Store,
		approval.WithNotifier(notifier),
		approval.WithAudit(infra.AuditLogger),
	)
	sw := sweeper.New(ledger, infra.Store, sweeper.WithBatchSize(infra.Config.Sweeper.BatchSize))

	return &ApprovalModule{infra: infra, ledger: ledger, notifier: notifier, sweeper: sw}, nil
}

// Ledger returns the request ledger.
func (m *ApprovalModule) Ledger() *approval.Ledger { return m.ledger }

func (m *ApprovalModule) Name() string { return "approval" }

func (m *ApprovalModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Ledger = m.ledger
}

// RegisterWorkers registers the expiry worker. The sweep may run for a whole
// interval before River cancels it.
func (m *ApprovalModule) RegisterWorkers(workers *river.Workers) {
	if !m.queueSweeps() {
		return
	}
	jobs.RegisterWorkers(workers, m.sweeper, m.infra.Config.Sweeper.Interval)
}

func (m *ApprovalModule) PeriodicJobs() []*river.PeriodicJob {
	if !m.queueSweeps() {
		return nil
	}
	return []*river.PeriodicJob{jobs.RequestExpiryPeriodicJob(m.infra.Config.Sweeper.Interval)}
}

// Start runs the sweeper in-process when there is no job queue.
func (m *ApprovalModule) Start(context.Context) error {
	cfg := m.infra.Config.Sweeper
	if !cfg.Enabled || m.infra.DB.HasJobQueue() {
		return nil
	}
	if err := m.infra.Pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		m.sweeper.Run(ctx, cfg.Interval)
	}); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	logger.Info("In-process sweeper scheduled", zap.Duration("interval", cfg.Interval))
	return nil
}

func (m *ApprovalModule) Shutdown(context.Context) error { return nil }

func (m *ApprovalModule) queueSweeps() bool {
	return m.infra.Config.Sweeper.Enabled && m.infra.DB != nil && m.infra.DB.HasJobQueue()
}

package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"tollgate.io/tollgate/internal/api/handlers"
	"tollgate.io/tollgate/internal/governance/approval"
	"tollgate.io/tollgate/internal/governance/policy"
	"tollgate.io/tollgate/internal/usecase"
)

// GovernanceModule owns the policy store and the outcome use case.
type GovernanceModule struct {
	policies *policy.Store
	outcomes *usecase.HandleOutcomeUseCase
}

// NewGovernanceModule builds the policy store; outcomes open requests through ledger.
func NewGovernanceModule(infra *Infrastructure, ledger *approval.Ledger) (*GovernanceModule, error) {
	if infra == nil || infra.Store == nil || ledger == nil {
		return nil, fmt.Errorf("governance module requires a store and a ledger")
	}
	policies := policy.NewStore(infra.Store, infra.AuditLogger)
	return &GovernanceModule{
		policies: policies,
		outcomes: usecase.NewHandleOutcomeUseCase(policies, ledger),
	}, nil
}

// Policies returns the policy store.
func (m *GovernanceModule) Policies() *policy.Store { return m.policies }

func (m *GovernanceModule) Name() string { return "governance" }

func (m *GovernanceModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Policies = m.policies
	deps.Outcomes = m.outcomes
}

func (m *GovernanceModule) RegisterWorkers(_ *river.Workers) {}

func (m *GovernanceModule) Shutdown(context.Context) error { return nil }

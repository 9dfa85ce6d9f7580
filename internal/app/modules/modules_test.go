package modules

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate.io/tollgate/internal/api/handlers"
	"tollgate.io/tollgate/internal/config"
)

func TestNewApprovalModule_RequiresInfraDependencies(t *testing.T) {
	tests := []struct {
		name  string
		infra *Infrastructure
	}{
		{name: "nil infra", infra: nil},
		{name: "missing all core deps", infra: &Infrastructure{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewApprovalModule(tc.infra)
			assert.Error(t, err)
		})
	}

	_, err := NewGovernanceModule(&Infrastructure{}, nil)
	assert.Error(t, err)
}

func TestModulesWiring_SQLite(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:      config.DriverSQLite,
			SQLitePath:  filepath.Join(t.TempDir(), "modules.db"),
			AutoMigrate: true,
		},
		Worker:       config.WorkerConfig{GeneralPoolSize: 2, NotifyPoolSize: 2},
		Sweeper:      config.SweeperConfig{Enabled: true, Interval: time.Hour, BatchSize: 5},
		Notification: config.NotificationConfig{Driver: config.NotifyDriverLog},
	}
	infra, err := NewInfrastructure(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(infra.Close)

	approvalModule, err := NewApprovalModule(infra)
	require.NoError(t, err)
	governanceModule, err := NewGovernanceModule(infra, approvalModule.Ledger())
	require.NoError(t, err)

	deps := NewServerDeps(infra, []Module{approvalModule, governanceModule, nil})
	assert.NotNil(t, deps.Ledger)
	assert.NotNil(t, deps.Policies)
	assert.NotNil(t, deps.Outcomes)
	assert.NotNil(t, deps.DB)
	assert.NotNil(t, handlers.NewServer(deps))

	// Without a job queue the sweeper runs in-process and nothing is queued.
	workers := river.NewWorkers()
	approvalModule.RegisterWorkers(workers)
	assert.Empty(t, approvalModule.PeriodicJobs())
	require.NoError(t, approvalModule.Start(context.Background()))
}

func TestNewInfrastructure_RedisUnreachable(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:      config.DriverSQLite,
			SQLitePath:  filepath.Join(t.TempDir(), "modules.db"),
			AutoMigrate: true,
		},
		Worker: config.WorkerConfig{GeneralPoolSize: 2, NotifyPoolSize: 2},
		Notification: config.NotificationConfig{
			Driver:       config.NotifyDriverRedis,
			RedisAddr:    "127.0.0.1:1",
			RedisChannel: "tollgate:test",
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewInfrastructure(ctx, cfg)
	assert.Error(t, err)
}

package infrastructure

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate.io/tollgate/internal/config"
	"tollgate.io/tollgate/internal/governance/sweeper"
	"tollgate.io/tollgate/internal/jobs"
	"tollgate.io/tollgate/internal/testutil"
)

func TestNewDatabaseClients_SQLite(t *testing.T) {
	ctx := context.Background()
	clients, err := NewDatabaseClients(ctx, config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "tollgate.db"),
	})
	require.NoError(t, err)
	t.Cleanup(clients.Close)

	assert.False(t, clients.HasJobQueue())
	require.NoError(t, clients.Migrate(ctx))
	require.NoError(t, clients.Migrate(ctx), "migration is idempotent")
	require.NoError(t, clients.Ping(ctx))

	require.NoError(t, clients.InitRiverClient(river.NewWorkers(), nil, config.RiverConfig{}))
	assert.Nil(t, clients.RiverClient)
}

func TestNewDatabaseClients_UnknownDriver(t *testing.T) {
	_, err := NewDatabaseClients(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestNewDatabaseClients_Postgres(t *testing.T) {
	testutil.RequirePostgres(t)
	ctx := context.Background()

	clients, err := NewDatabaseClients(ctx, config.DatabaseConfig{
		Driver: config.DriverPostgres,
		URL:    testutil.PostgresDSN(),
	})
	require.NoError(t, err)
	t.Cleanup(clients.Close)

	assert.True(t, clients.HasJobQueue())
	require.NoError(t, clients.Migrate(ctx))

	workers := river.NewWorkers()
	jobs.RegisterWorkers(workers, noopSweeper{}, time.Minute)
	periodic := []*river.PeriodicJob{jobs.RequestExpiryPeriodicJob(time.Minute)}
	require.NoError(t, clients.InitRiverClient(workers, periodic, config.RiverConfig{MaxWorkers: 2}))
	assert.NotNil(t, clients.RiverClient)
}

type noopSweeper struct{}

func (noopSweeper) Sweep(context.Context) (sweeper.Result, error) { return sweeper.Result{}, nil }

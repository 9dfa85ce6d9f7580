package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tollgate.io/tollgate/internal/repository"
	"tollgate.io/tollgate/internal/repository/repotest"
	"tollgate.io/tollgate/internal/testutil"
)

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	pool := testutil.OpenPGXPool(t, "repo")
	s := NewStore(pool)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestStore_Contract(t *testing.T) {
	testutil.RequirePostgres(t)
	repotest.Run(t, newTestStore)
}

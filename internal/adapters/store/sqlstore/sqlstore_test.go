package sqlstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/dkeye/Tasting/internal/adapters/store/sqlstore"
	"github.com/dkeye/Tasting/internal/adapters/store/storetest"
	"github.com/dkeye/Tasting/internal/app"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) app.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SQLite(t *testing.T) {
	storetest.Run(t, openSQLite)
}

// TASTING_TEST_POSTGRES_DSN points at a scratch database; the suite
// expects empty tables.
func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("TASTING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TASTING_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) app.Store {
		s, err := sqlstore.Open(context.Background(), sqlstore.DriverPostgres, dsn)
		require.NoError(t, err)
		for _, table := range []string{"ratings", "messages", "participants", "auto_moderators", "users", "tasting_sessions"} {
			_, err := s.DB().Exec("DELETE FROM " + table)
			require.NoError(t, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_Errors(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), "mysql", "x")
	require.Error(t, err)

	s := openSQLite(t).(*sqlstore.Store)
	// schema is idempotent
	require.NoError(t, s.Migrate(context.Background()))
}

package sql_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sqlstore "github.com/aretw0/strata/pkg/adapters/sql"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Contract(t *testing.T) {
	ports.RunClusterStorageContract(t, func(t *testing.T, support ports.Support) ports.ClusterStorage {
		dsn := sqlstore.SQLiteDSN(filepath.Join(t.TempDir(), "strata.db"))
		return sqlstore.New(sqlstore.SQLite, dsn, sqlstore.WithSupport(support))
	})
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("STRATA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STRATA_TEST_POSTGRES_DSN not set")
	}
	ports.RunClusterStorageContract(t, func(t *testing.T, support ports.Support) ports.ClusterStorage {
		return sqlstore.New(sqlstore.Postgres, dsn, sqlstore.WithSupport(support))
	})
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "strata.db")
	var none domain.TransactionKey

	s := sqlstore.New(sqlstore.SQLite, sqlstore.SQLiteDSN(path), sqlstore.WithTable("objects"))
	require.NoError(t, s.Open(ctx))
	tk := domain.NewTransactionKey()
	require.NoError(t, s.Begin(ctx, tk))
	require.NoError(t, s.Put(ctx, "item-1", domain.ClusterHistory, "0", []byte(`{"id":0}`), tk))
	require.NoError(t, s.Put(ctx, "item-1", domain.ClusterHistory, "1", []byte(`{"id":1}`), tk))
	require.NoError(t, s.Commit(ctx, tk))
	require.NoError(t, s.Close(ctx))

	reopened := sqlstore.New(sqlstore.SQLite, sqlstore.SQLiteDSN(path), sqlstore.WithTable("objects"))
	require.NoError(t, reopened.Open(ctx))
	defer reopened.Close(ctx)

	paths, err := reopened.List(ctx, "item-1", domain.ClusterHistory, "", none)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, paths)
}

func TestSQLiteStore_NotOpen(t *testing.T) {
	s := sqlstore.New(sqlstore.SQLite, sqlstore.SQLiteDSN(filepath.Join(t.TempDir(), "x.db")))
	_, err := s.Get(context.Background(), "i", domain.ClusterProperty, "p", domain.TransactionKey{})
	assert.ErrorIs(t, err, domain.ErrPersistency)
}

func TestParseDialect(t *testing.T) {
	d, err := sqlstore.ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, sqlstore.Postgres, d)

	d, err = sqlstore.ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, sqlstore.SQLite, d)

	_, err = sqlstore.ParseDialect("oracle")
	assert.ErrorIs(t, err, domain.ErrInvalidData)
}

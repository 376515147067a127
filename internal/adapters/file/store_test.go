package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/strata/internal/adapters/file"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure Store implements ClusterStorage
var _ ports.ClusterStorage = (*file.Store)(nil)

func TestFileStore_Contract(t *testing.T) {
	ports.RunClusterStorageContract(t, func(t *testing.T, support ports.Support) ports.ClusterStorage {
		return file.New(t.TempDir(), file.WithSupport(support))
	})
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := file.New(dir)
	require.NoError(t, store.Open(ctx))
	var none domain.TransactionKey

	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterOutcome, "Review/2/14", []byte(`{"ok":true}`), none))

	data, err := os.ReadFile(filepath.Join(dir, "item-1", "Outcome", "Review", "2", "14.obj"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	// A prefix object and a nested object coexist.
	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterOutcome, "Review", []byte(`{}`), none))
	paths, err := store.List(ctx, "item-1", domain.ClusterOutcome, "Review", none)
	require.NoError(t, err)
	assert.Equal(t, []string{"Review", "Review/2/14"}, paths)
}

func TestFileStore_EscapesSegments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := file.New(filepath.Join(dir, "data"))
	require.NoError(t, store.Open(ctx))
	var none domain.TransactionKey

	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterProperty, "../../escape", []byte("x"), none))
	_, err := os.Stat(filepath.Join(dir, "escape.obj"))
	assert.True(t, os.IsNotExist(err), "path segments must not leave the data directory")

	paths, err := store.List(ctx, "item-1", domain.ClusterProperty, "", none)
	require.NoError(t, err)
	assert.Equal(t, []string{"../../escape"}, paths)

	got, err := store.Get(ctx, "item-1", domain.ClusterProperty, "../../escape", none)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestFileStore_EmptyPath(t *testing.T) {
	store := file.New(t.TempDir())
	err := store.Put(context.Background(), "item-1", domain.ClusterProperty, "/", []byte("x"), domain.TransactionKey{})
	assert.ErrorIs(t, err, domain.ErrInvalidData)
}

func TestFileStore_DefaultPath(t *testing.T) {
	store := file.New("")
	assert.Equal(t, filepath.Join(".strata", "data"), store.BasePath)
}

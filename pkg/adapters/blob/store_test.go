package blob_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/aretw0/strata/pkg/adapters/blob"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
)

func TestBlobStore_Contract(t *testing.T) {
	ports.RunClusterStorageContract(t, func(t *testing.T, support ports.Support) ports.ClusterStorage {
		return blob.New("mem://", blob.WithSupport(support))
	})
}

func TestBlobStore_FileBucket(t *testing.T) {
	ports.RunClusterStorageContract(t, func(t *testing.T, support ports.Support) ports.ClusterStorage {
		dir := filepath.ToSlash(t.TempDir())
		return blob.New("file://"+dir+"?create_dir=true", blob.WithSupport(support))
	})
}

func TestBlobStore_Keys(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	var none domain.TransactionKey

	store := blob.NewFromBucket(bucket, blob.WithPrefix("strata/"))
	require.NoError(t, store.Open(ctx))

	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterOutcome, "Review/2/14", []byte(`{}`), none))

	exists, err := bucket.Exists(ctx, "strata/item-1/Outcome/Review/2/14")
	require.NoError(t, err)
	assert.True(t, exists)

	// Close leaves a borrowed bucket open.
	require.NoError(t, store.Close(ctx))
	_, err = bucket.ReadAll(ctx, "strata/item-1/Outcome/Review/2/14")
	assert.NoError(t, err)
}

func TestBlobStore_ListPrefixIsSegmentWise(t *testing.T) {
	ctx := context.Background()
	var none domain.TransactionKey
	store := blob.NewFromBucket(memblob.OpenBucket(nil))
	require.NoError(t, store.Open(ctx))

	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterHistory, "1", []byte("a"), none))
	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterHistory, "10", []byte("b"), none))
	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterHistory, "1/x", []byte("c"), none))

	paths, err := store.List(ctx, "item-1", domain.ClusterHistory, "1", none)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1/x"}, paths)
}

func TestBlobStore_NotOpen(t *testing.T) {
	store := blob.New("mem://")
	_, err := store.Get(context.Background(), "item-1", domain.ClusterProperty, "Name", domain.TransactionKey{})
	assert.ErrorIs(t, err, domain.ErrPersistency)
}


package ports

import (
	"context"
	"testing"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BackendFactory builds a fresh, unopened backend declaring the given support.
type BackendFactory func(t *testing.T, support Support) ClusterStorage

// RunClusterStorageContract runs a suite of tests to verify that a ClusterStorage
// implementation adheres to the defined interface contract.
func RunClusterStorageContract(t *testing.T, factory BackendFactory) {
	ctx := context.Background()
	const cluster = domain.ClusterProperty

	open := func(t *testing.T, support Support) ClusterStorage {
		t.Helper()
		b := factory(t, support)
		require.NoError(t, b.Open(ctx), "Open should not return error")
		t.Cleanup(func() { _ = b.Close(ctx) })
		return b
	}
	var none domain.TransactionKey

	t.Run("Put and Get", func(t *testing.T) {
		b := open(t, FullSupport())
		item := domain.NewItemID()

		require.NoError(t, b.Put(ctx, item, cluster, "Name", []byte("alpha"), none))
		got, err := b.Get(ctx, item, cluster, "Name", none)
		require.NoError(t, err)
		assert.Equal(t, "alpha", string(got))

		require.NoError(t, b.Put(ctx, item, cluster, "Name", []byte("beta"), none), "Put should overwrite")
		got, err = b.Get(ctx, item, cluster, "Name", none)
		require.NoError(t, err)
		assert.Equal(t, "beta", string(got))
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		b := open(t, FullSupport())
		_, err := b.Get(ctx, domain.NewItemID(), cluster, "missing", none)
		assert.ErrorIs(t, err, domain.ErrObjectNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		b := open(t, FullSupport())
		item := domain.NewItemID()

		require.NoError(t, b.Put(ctx, item, cluster, "Name", []byte("x"), none))
		require.NoError(t, b.Delete(ctx, item, cluster, "Name", none))
		_, err := b.Get(ctx, item, cluster, "Name", none)
		assert.ErrorIs(t, err, domain.ErrObjectNotFound, "Get after Delete should return ErrObjectNotFound")

		assert.NoError(t, b.Delete(ctx, item, cluster, "Name", none), "Deleting an absent object is not an error")
	})

	t.Run("List", func(t *testing.T) {
		b := open(t, FullSupport())
		item := domain.NewItemID()

		for _, p := range []string{"b/2", "a/1", "b/1", "c"} {
			require.NoError(t, b.Put(ctx, item, domain.ClusterOutcome, p, []byte(p), none))
		}
		require.NoError(t, b.Put(ctx, domain.NewItemID(), domain.ClusterOutcome, "b/3", []byte("other item"), none))
		require.NoError(t, b.Put(ctx, item, domain.ClusterViewPoint, "b/4", []byte("other cluster"), none))

		all, err := b.List(ctx, item, domain.ClusterOutcome, "", none)
		require.NoError(t, err)
		assert.Equal(t, []string{"a/1", "b/1", "b/2", "c"}, all)

		under, err := b.List(ctx, item, domain.ClusterOutcome, "b", none)
		require.NoError(t, err)
		assert.Equal(t, []string{"b/1", "b/2"}, under)

		empty, err := b.List(ctx, domain.NewItemID(), domain.ClusterOutcome, "", none)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Transaction Isolation", func(t *testing.T) {
		b := open(t, FullSupport())
		item := domain.NewItemID()
		k1, k2 := domain.NewTransactionKey(), domain.NewTransactionKey()
		require.NoError(t, b.Begin(ctx, k1))
		require.NoError(t, b.Begin(ctx, k2))

		require.NoError(t, b.Put(ctx, item, cluster, "Staged", []byte("v1"), k1))

		got, err := b.Get(ctx, item, cluster, "Staged", k1)
		require.NoError(t, err, "writes are visible under their own key")
		assert.Equal(t, "v1", string(got))

		_, err = b.Get(ctx, item, cluster, "Staged", none)
		assert.ErrorIs(t, err, domain.ErrObjectNotFound, "writes are invisible without a key")
		_, err = b.Get(ctx, item, cluster, "Staged", k2)
		assert.ErrorIs(t, err, domain.ErrObjectNotFound, "writes are invisible under another key")

		paths, err := b.List(ctx, item, cluster, "", k1)
		require.NoError(t, err)
		assert.Equal(t, []string{"Staged"}, paths)
		paths, err = b.List(ctx, item, cluster, "", none)
		require.NoError(t, err)
		assert.Empty(t, paths)

		require.NoError(t, b.Commit(ctx, k1))
		got, err = b.Get(ctx, item, cluster, "Staged", none)
		require.NoError(t, err, "commit makes writes visible to all")
		assert.Equal(t, "v1", string(got))
		got, err = b.Get(ctx, item, cluster, "Staged", k2)
		require.NoError(t, err)
		assert.Equal(t, "v1", string(got))

		require.NoError(t, b.Abort(ctx, k2))
	})

	t.Run("Transaction Abort", func(t *testing.T) {
		b := open(t, FullSupport())
		item := domain.NewItemID()
		require.NoError(t, b.Put(ctx, item, cluster, "Keep", []byte("base"), none))

		k := domain.NewTransactionKey()
		require.NoError(t, b.Begin(ctx, k))
		require.NoError(t, b.Put(ctx, item, cluster, "Drop", []byte("x"), k))
		require.NoError(t, b.Delete(ctx, item, cluster, "Keep", k))

		_, err := b.Get(ctx, item, cluster, "Keep", k)
		assert.ErrorIs(t, err, domain.ErrObjectNotFound, "staged delete hides the object under its key")
		got, err := b.Get(ctx, item, cluster, "Keep", none)
		require.NoError(t, err, "staged delete is invisible without the key")
		assert.Equal(t, "base", string(got))

		require.NoError(t, b.Abort(ctx, k))

		_, err = b.Get(ctx, item, cluster, "Drop", none)
		assert.ErrorIs(t, err, domain.ErrObjectNotFound)
		got, err = b.Get(ctx, item, cluster, "Keep", none)
		require.NoError(t, err)
		assert.Equal(t, "base", string(got))
	})

	t.Run("Transaction Delete Commit", func(t *testing.T) {
		b := open(t, FullSupport())
		item := domain.NewItemID()
		require.NoError(t, b.Put(ctx, item, cluster, "a", []byte("1"), none))
		require.NoError(t, b.Put(ctx, item, cluster, "b", []byte("2"), none))

		k := domain.NewTransactionKey()
		require.NoError(t, b.Begin(ctx, k))
		require.NoError(t, b.Delete(ctx, item, cluster, "a", k))
		require.NoError(t, b.Put(ctx, item, cluster, "c", []byte("3"), k))

		paths, err := b.List(ctx, item, cluster, "", k)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, paths)

		require.NoError(t, b.Commit(ctx, k))
		paths, err = b.List(ctx, item, cluster, "", none)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, paths)
	})

	t.Run("Capabilities", func(t *testing.T) {
		b := open(t, Support{
			domain.ClusterHistory: domain.CapWrite,
			domain.ClusterOutcome: domain.CapRead,
		})
		item := domain.NewItemID()

		assert.Equal(t, domain.CapWrite, b.Support(domain.ClusterHistory))
		assert.Equal(t, domain.CapNone, b.Support(domain.ClusterCollection))

		assert.NoError(t, b.Put(ctx, item, domain.ClusterHistory, "0", []byte("{}"), none))
		_, err := b.Get(ctx, item, domain.ClusterHistory, "0", none)
		assert.ErrorIs(t, err, domain.ErrPersistency, "write-only clusters reject reads")
		_, err = b.List(ctx, item, domain.ClusterHistory, "", none)
		assert.ErrorIs(t, err, domain.ErrPersistency, "write-only clusters reject lists")

		err = b.Put(ctx, item, domain.ClusterOutcome, "x", []byte("{}"), none)
		assert.ErrorIs(t, err, domain.ErrPersistency, "read-only clusters reject writes")
		err = b.Delete(ctx, item, domain.ClusterOutcome, "x", none)
		assert.ErrorIs(t, err, domain.ErrPersistency, "read-only clusters reject deletes")

		_, err = b.Get(ctx, item, domain.ClusterCollection, "x", none)
		assert.ErrorIs(t, err, domain.ErrPersistency, "unsupported clusters reject everything")
	})

	t.Run("Commit Unknown Key", func(t *testing.T) {
		b := open(t, FullSupport())
		assert.NoError(t, b.Commit(ctx, domain.NewTransactionKey()))
		assert.NoError(t, b.Abort(ctx, domain.NewTransactionKey()))
	})
}

// CheckRead returns a PersistencyError unless the backend may read the cluster.
// Backends call it at the top of Get and List.
func CheckRead(backend string, s Support, op string, cluster domain.ClusterType, path string) error {
	if s.Of(cluster).CanRead() {
		return nil
	}
	return domain.NewPersistencyError(op, cluster, backend, path, errUnsupported(s.Of(cluster)))
}

// CheckWrite returns a PersistencyError unless the backend may write the cluster.
// Backends call it at the top of Put and Delete.
func CheckWrite(backend string, s Support, op string, cluster domain.ClusterType, path string) error {
	if s.Of(cluster).CanWrite() {
		return nil
	}
	return domain.NewPersistencyError(op, cluster, backend, path, errUnsupported(s.Of(cluster)))
}

func errUnsupported(c domain.Capability) error {
	return &capabilityError{capability: c}
}

type capabilityError struct {
	capability domain.Capability
}

func (e *capabilityError) Error() string {
	return "cluster capability is " + e.capability.String()
}

func (e *capabilityError) Unwrap() error {
	return domain.ErrUnsupportedOperation
}

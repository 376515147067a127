// Package staging buffers writes made under a transaction key until commit.
//
// Backends without native multi-statement transactions (files, object
// stores) or with snapshot-isolated ones keep pending writes here, overlay
// them on reads under the same key, and apply them on commit.
package staging

import (
	"sort"
	"sync"

	"github.com/aretw0/strata/pkg/domain"
)

// Key addresses one object.
type Key struct {
	Item    domain.ItemID
	Cluster domain.ClusterType
	Path    string
}

// Op is a pending write. A nil Data with Deleted set is a tombstone.
type Op struct {
	Key     Key
	Data    []byte
	Deleted bool
}

// Buffer holds pending writes per transaction key. Safe for concurrent use.
type Buffer struct {
	mu  sync.Mutex
	txs map[domain.TransactionKey]map[Key]Op
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{txs: make(map[domain.TransactionKey]map[Key]Op)}
}

// Begin registers a key. Registering twice is harmless.
func (b *Buffer) Begin(tk domain.TransactionKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scope(tk)
}

func (b *Buffer) scope(tk domain.TransactionKey) map[Key]Op {
	ops, ok := b.txs[tk]
	if !ok {
		ops = make(map[Key]Op)
		b.txs[tk] = ops
	}
	return ops
}

// Put stages a write.
func (b *Buffer) Put(tk domain.TransactionKey, k Key, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scope(tk)[k] = Op{Key: k, Data: append([]byte(nil), data...)}
}

// Delete stages a tombstone.
func (b *Buffer) Delete(tk domain.TransactionKey, k Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scope(tk)[k] = Op{Key: k, Deleted: true}
}

// Lookup returns the pending write for an object, if any.
func (b *Buffer) Lookup(tk domain.TransactionKey, k Key) (Op, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op, ok := b.txs[tk][k]
	if ok && op.Data != nil {
		op.Data = append([]byte(nil), op.Data...)
	}
	return op, ok
}

// Overlay merges committed paths with the key's pending writes under prefix.
// The result is sorted and free of duplicates.
func (b *Buffer) Overlay(tk domain.TransactionKey, item domain.ItemID, cluster domain.ClusterType, prefix string, committed []string) []string {
	set := make(map[string]struct{}, len(committed))
	for _, p := range committed {
		if domain.HasPathPrefix(p, prefix) {
			set[p] = struct{}{}
		}
	}

	b.mu.Lock()
	for k, op := range b.txs[tk] {
		if k.Item != item || k.Cluster != cluster || !domain.HasPathPrefix(k.Path, prefix) {
			continue
		}
		if op.Deleted {
			delete(set, k.Path)
		} else {
			set[k.Path] = struct{}{}
		}
	}
	b.mu.Unlock()

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Take removes the key and returns its pending writes in a stable order.
func (b *Buffer) Take(tk domain.TransactionKey) []Op {
	b.mu.Lock()
	ops := b.txs[tk]
	delete(b.txs, tk)
	b.mu.Unlock()

	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i].Key, out[j].Key
		if a.Item != c.Item {
			return a.Item < c.Item
		}
		if a.Cluster != c.Cluster {
			return a.Cluster < c.Cluster
		}
		return a.Path < c.Path
	})
	return out
}

// Drop discards the key's pending writes.
func (b *Buffer) Drop(tk domain.TransactionKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.txs, tk)
}

// Len reports how many keys are open.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.txs)
}

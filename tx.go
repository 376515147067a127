package strata

import (
	"context"
	"fmt"

	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/pkg/domain"
)

// Begin opens a transaction key. Writes made with it stay invisible to
// other readers until Commit.
func (k *Kernel) Begin() domain.TransactionKey {
	return k.storage.Begin()
}

// Commit makes the key's writes visible and then publishes the events
// recorded under it.
func (k *Kernel) Commit(ctx context.Context, tk domain.TransactionKey) error {
	if err := k.storage.Commit(ctx, tk); err != nil {
		k.settle(tk)
		k.logger.Error("Commit failed", logging.Tx(tk), logging.Error(err))
		if k.hooks.OnAbort != nil {
			k.hooks.OnAbort(ctx, tk)
		}
		return err
	}
	if k.hooks.OnCommit != nil {
		k.hooks.OnCommit(ctx, tk)
	}
	for _, ev := range k.settle(tk) {
		k.publish(ctx, ev)
	}
	return nil
}

// Abort discards the key's writes and the events recorded under it.
func (k *Kernel) Abort(ctx context.Context, tk domain.TransactionKey) error {
	dropped := k.settle(tk)
	err := k.storage.Abort(ctx, tk)
	if k.hooks.OnAbort != nil {
		k.hooks.OnAbort(ctx, tk)
	}
	if len(dropped) > 0 {
		k.logger.Debug("Transaction aborted with pending events", logging.Tx(tk), "events", len(dropped))
	}
	return err
}

// within runs fn under tk. A zero key makes the kernel own a fresh key:
// it is committed when fn succeeds and aborted otherwise.
func (k *Kernel) within(ctx context.Context, tk domain.TransactionKey, fn func(tk domain.TransactionKey) error) error {
	if !tk.IsZero() {
		return fn(tk)
	}
	owned := k.Begin()
	if err := fn(owned); err != nil {
		if aerr := k.Abort(ctx, owned); aerr != nil {
			k.logger.Warn("Abort failed", logging.Tx(owned), logging.Error(aerr))
		}
		return err
	}
	return k.Commit(ctx, owned)
}

func (k *Kernel) addPending(tk domain.TransactionKey, ev domain.Event) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pending[tk] = append(k.pending[tk], ev)
}

func (k *Kernel) takePending(tk domain.TransactionKey) []domain.Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	evs := k.pending[tk]
	delete(k.pending, tk)
	return evs
}

// claim reserves item for tk until the key is committed or aborted.
// Another key writing the item meanwhile would reuse its event ids, so it
// fails with ErrItemBusy instead of waiting on a key that may never close.
func (k *Kernel) claim(item domain.ItemID, tk domain.TransactionKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	holder, ok := k.claims[item]
	if ok {
		if holder != tk {
			return fmt.Errorf("%w: %s has uncommitted writes under transaction %s", domain.ErrItemBusy, item, holder)
		}
		return nil
	}
	k.claims[item] = tk
	k.claimed[tk] = append(k.claimed[tk], item)
	return nil
}

// settle closes tk on the kernel side: it releases the key's items and
// returns its pending events.
func (k *Kernel) settle(tk domain.TransactionKey) []domain.Event {
	k.mu.Lock()
	for _, item := range k.claimed[tk] {
		delete(k.claims, item)
	}
	delete(k.claimed, tk)
	k.mu.Unlock()
	return k.takePending(tk)
}

// publish hands a committed event to the notifier and the hooks.
// A failed notification is logged; the transition stays committed.
func (k *Kernel) publish(ctx context.Context, ev domain.Event) {
	if k.notifier != nil {
		if err := k.notifier.Notify(ctx, ev); err != nil {
			k.logger.Warn("Event notification failed", logging.Item(ev.ItemID), logging.EventID(ev.ID), logging.Error(err))
		}
	}
	if k.hooks.OnTransition != nil {
		k.hooks.OnTransition(ctx, ev)
	}
}

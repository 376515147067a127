package strata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/observability"
	"github.com/aretw0/strata/pkg/resolve"
	"github.com/aretw0/strata/pkg/workflow"
)

// SnapshotPath is where an item's workflow snapshot lives in the Workflow cluster.
const SnapshotPath = "snapshot"

// ItemTypeKey returns the configuration key naming the workflow of an item type.
func ItemTypeKey(itemType string) string {
	return "item." + itemType + ".workflow"
}

// CreateItem creates an item of the given type. The type is bound to a
// workflow description through the "item.<type>.workflow" configuration key;
// the description comes from the loader. Properties are stored as JSON.
func (k *Kernel) CreateItem(ctx context.Context, itemType string, props map[string]any, tk domain.TransactionKey) (id domain.ItemID, err error) {
	ctx, span := observability.StartSpan(ctx, k.tracer, "strata.CreateItem", attribute.String("item.type", itemType))
	defer func() { observability.EndSpan(span, err) }()

	name, ok := k.lookup.Lookup(ItemTypeKey(itemType))
	if !ok || name == "" {
		return "", domain.NotFound("item type", itemType)
	}
	if k.loader == nil {
		return "", fmt.Errorf("%w: item type %s needs a description loader", domain.ErrUnsupportedOperation, itemType)
	}
	desc, err := k.loader.Workflow(ctx, name)
	if err != nil {
		return "", fmt.Errorf("item type %s: %w", itemType, err)
	}

	id = domain.NewItemID()
	err = k.within(ctx, tk, func(tk domain.TransactionKey) error {
		if _, err := k.instantiate(ctx, id, desc, tk); err != nil {
			return err
		}
		keys := make([]string, 0, len(props))
		for key := range props {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := k.SetProperty(ctx, id, key, props[key], tk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	k.logger.Info("Item created", logging.Item(id), "type", itemType, "workflow", desc.Name)
	return id, nil
}

// Instantiate binds a workflow description to an item and stores its
// initial snapshot. An item carries at most one workflow.
func (k *Kernel) Instantiate(ctx context.Context, item domain.ItemID, desc workflow.Description, tk domain.TransactionKey) (*workflow.Workflow, error) {
	var wf *workflow.Workflow
	err := k.locks.WithLock(ctx, itemLockKey(item), func(ctx context.Context) error {
		return k.within(ctx, tk, func(tk domain.TransactionKey) error {
			var err error
			wf, err = k.instantiate(ctx, item, desc, tk)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (k *Kernel) instantiate(ctx context.Context, item domain.ItemID, desc workflow.Description, tk domain.TransactionKey) (*workflow.Workflow, error) {
	if err := k.claim(item, tk); err != nil {
		return nil, err
	}
	_, err := k.storage.Get(ctx, item, domain.ClusterWorkflow, SnapshotPath, tk)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: item %s already has a workflow", domain.ErrInvalidData, item)
	case !errors.Is(err, domain.ErrObjectNotFound):
		return nil, err
	}

	wf, err := workflow.Instantiate(item, desc, k.machines)
	if err != nil {
		return nil, err
	}
	if err := k.saveSnapshot(ctx, wf, tk); err != nil {
		return nil, err
	}
	k.logger.Debug("Workflow instantiated", logging.Item(item), "workflow", desc.Name, logging.Tx(tk))
	return wf, nil
}

// Workflow restores the item's workflow from its snapshot.
func (k *Kernel) Workflow(ctx context.Context, item domain.ItemID, tk domain.TransactionKey) (*workflow.Workflow, error) {
	data, err := k.storage.Get(ctx, item, domain.ClusterWorkflow, SnapshotPath, tk)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return nil, domain.NotFound("workflow of item", string(item))
		}
		return nil, err
	}
	var snap workflow.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: snapshot of %s: %v", domain.ErrInvalidData, item, err)
	}
	return workflow.Restore(snap, k.machines)
}

func (k *Kernel) saveSnapshot(ctx context.Context, wf *workflow.Workflow, tk domain.TransactionKey) error {
	data, err := json.Marshal(wf.Snapshot())
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", domain.ErrInvalidData, err)
	}
	return k.storage.Put(ctx, wf.Item(), domain.ClusterWorkflow, SnapshotPath, data, tk)
}

// Search resolves an activity path in the item's workflow.
func (k *Kernel) Search(ctx context.Context, item domain.ItemID, path string, tk domain.TransactionKey) (*workflow.Activity, error) {
	wf, err := k.Workflow(ctx, item, tk)
	if err != nil {
		return nil, err
	}
	return wf.Search(path)
}

// Property returns the raw JSON value of an item property.
func (k *Kernel) Property(ctx context.Context, item domain.ItemID, name string, tk domain.TransactionKey) (json.RawMessage, error) {
	data, err := k.storage.Get(ctx, item, domain.ClusterProperty, name, tk)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// SetProperty stores value as JSON under the item's Property cluster.
func (k *Kernel) SetProperty(ctx context.Context, item domain.ItemID, name string, value any, tk domain.TransactionKey) error {
	if name == "" {
		return fmt.Errorf("%w: property name is empty", domain.ErrInvalidData)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: property %s: %v", domain.ErrInvalidData, name, err)
	}
	return k.within(ctx, tk, func(tk domain.TransactionKey) error {
		if err := k.claim(item, tk); err != nil {
			return err
		}
		return k.storage.Put(ctx, item, domain.ClusterProperty, name, data, tk)
	})
}

// Properties lists the item's property names.
func (k *Kernel) Properties(ctx context.Context, item domain.ItemID, tk domain.TransactionKey) ([]string, error) {
	return k.storage.List(ctx, item, domain.ClusterProperty, "", tk)
}

// Event returns one event of the item's history.
func (k *Kernel) Event(ctx context.Context, item domain.ItemID, id int, tk domain.TransactionKey) (domain.Event, error) {
	return k.history(item).Get(ctx, id, tk)
}

// Events returns the item's history in id order.
func (k *Kernel) Events(ctx context.Context, item domain.ItemID, tk domain.TransactionKey) ([]domain.Event, error) {
	return k.history(item).All(ctx, tk)
}

// LastEventID returns the id of the item's latest event, or -1 when it has none.
func (k *Kernel) LastEventID(ctx context.Context, item domain.ItemID, tk domain.TransactionKey) (int, error) {
	return k.history(item).LastID(ctx, tk)
}

// Resolve reads a value by reference, e.g. "ViewPoint/Review/final#score".
func (k *Kernel) Resolve(ctx context.Context, item domain.ItemID, ref string, tk domain.TransactionKey) (gjson.Result, error) {
	return resolve.ResolveString(ctx, k.storage, item, ref, tk)
}

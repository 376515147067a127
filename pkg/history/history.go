package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/itemlock"
)

// Store is the slice of the storage manager History needs.
type Store interface {
	Get(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) ([]byte, error)
	Put(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, data []byte, tk domain.TransactionKey) error
	List(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, prefix string, tk domain.TransactionKey) ([]string, error)
}

// Entry carries the fields of an event before it has an id.
type Entry struct {
	Agent domain.Agent

	StepName string
	// StepPath is rooted at the workflow root, as returned by Activity.Path.
	StepPath string
	StepType string

	StateMachineName    string
	StateMachineVersion int
	TransitionID        int
	OriginState         int
	TargetState         int

	SchemaName    string
	SchemaVersion int
	ViewName      string
	HasAttachment bool

	// Timestamp overrides the clock when non-zero.
	Timestamp time.Time
}

// History is a live view over one item's event log.
// It holds no events itself; every call reads through the store.
type History struct {
	item   domain.ItemID
	store  Store
	locks  *itemlock.Manager
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a History.
type Option func(*History)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *History) {
		h.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *History) {
		h.logger = l
	}
}

// New returns the history of item. locks serializes appends per item and may
// be shared across histories; nil allocates a private manager.
func New(item domain.ItemID, store Store, locks *itemlock.Manager, opts ...Option) *History {
	if locks == nil {
		locks = itemlock.NewManager()
	}
	h := &History{
		item:   item,
		store:  store,
		locks:  locks,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Item returns the item this history belongs to.
func (h *History) Item() domain.ItemID {
	return h.item
}

// LockKey is the itemlock key guarding appends for an item.
func LockKey(item domain.ItemID) string {
	return "history/" + string(item)
}

// AddEvent appends an event with id LastID+1 and returns it.
func (h *History) AddEvent(ctx context.Context, e Entry, tk domain.TransactionKey) (domain.Event, error) {
	var ev domain.Event
	err := h.locks.WithLock(ctx, LockKey(h.item), func(ctx context.Context) error {
		last, err := h.LastID(ctx, tk)
		if err != nil {
			return err
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = h.now()
		}
		ev = domain.Event{
			ID:                  last + 1,
			ItemID:              h.item,
			AgentID:             e.Agent.ID,
			DelegateID:          e.Agent.Delegate,
			AgentRole:           e.Agent.Role,
			StepName:            e.StepName,
			StepPath:            e.StepPath,
			StepType:            e.StepType,
			StateMachineName:    e.StateMachineName,
			StateMachineVersion: e.StateMachineVersion,
			TransitionID:        e.TransitionID,
			OriginState:         e.OriginState,
			TargetState:         e.TargetState,
			SchemaName:          e.SchemaName,
			SchemaVersion:       e.SchemaVersion,
			ViewName:            e.ViewName,
			HasAttachment:       e.HasAttachment,
			Timestamp:           ts.UTC(),
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("%w: encode event: %v", domain.ErrInvalidData, err)
		}
		return h.store.Put(ctx, h.item, domain.ClusterHistory, strconv.Itoa(ev.ID), data, tk)
	})
	if err != nil {
		return domain.Event{}, err
	}
	h.logger.Debug("Event appended", logging.Item(h.item), logging.EventID(ev.ID), logging.Transition(ev.TransitionID), logging.Tx(tk))
	return ev, nil
}

// Get returns the event with the given id.
func (h *History) Get(ctx context.Context, id int, tk domain.TransactionKey) (domain.Event, error) {
	if id < 0 {
		return domain.Event{}, domain.NotFound("event", strconv.Itoa(id))
	}
	data, err := h.store.Get(ctx, h.item, domain.ClusterHistory, strconv.Itoa(id), tk)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Event{}, domain.NotFound("event", strconv.Itoa(id))
		}
		return domain.Event{}, err
	}
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("%w: decode event %d: %v", domain.ErrInvalidData, id, err)
	}
	return ev, nil
}

// Range returns the events with ids in [from, to], clamped to [0, LastID].
func (h *History) Range(ctx context.Context, from, to int, tk domain.TransactionKey) ([]domain.Event, error) {
	last, err := h.LastID(ctx, tk)
	if err != nil {
		return nil, err
	}
	from = max(from, 0)
	to = min(to, last)
	out := []domain.Event{}
	for id := from; id <= to; id++ {
		ev, err := h.Get(ctx, id, tk)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// All returns every event in id order.
func (h *History) All(ctx context.Context, tk domain.TransactionKey) ([]domain.Event, error) {
	last, err := h.LastID(ctx, tk)
	if err != nil {
		return nil, err
	}
	return h.Range(ctx, 0, last, tk)
}

// LastID returns the highest event id visible under tk, or -1 when empty.
func (h *History) LastID(ctx context.Context, tk domain.TransactionKey) (int, error) {
	paths, err := h.store.List(ctx, h.item, domain.ClusterHistory, "", tk)
	if err != nil {
		return -1, err
	}
	last := -1
	for _, p := range paths {
		if id, ok := domain.ParseSequenceID(p); ok && id > last {
			last = id
		}
	}
	return last, nil
}

// Len returns the number of events, LastID+1.
func (h *History) Len(ctx context.Context, tk domain.TransactionKey) (int, error) {
	last, err := h.LastID(ctx, tk)
	return last + 1, err
}

// ContainsKey reports whether key is an event id in [0, LastID].
// Only integers and decimal strings qualify; anything else is absent.
func (h *History) ContainsKey(ctx context.Context, key any, tk domain.TransactionKey) (bool, error) {
	id, ok := domain.ParseSequenceID(key)
	if !ok {
		return false, nil
	}
	last, err := h.LastID(ctx, tk)
	if err != nil {
		return false, err
	}
	return id <= last, nil
}

// Remove always fails: history is append-only.
func (h *History) Remove(ctx context.Context, id int, tk domain.TransactionKey) error {
	return fmt.Errorf("%w: history of item %s is append-only", domain.ErrUnsupportedOperation, h.item)
}

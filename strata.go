package strata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/config"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/history"
	"github.com/aretw0/strata/pkg/itemlock"
	"github.com/aretw0/strata/pkg/observability"
	"github.com/aretw0/strata/pkg/outcome"
	"github.com/aretw0/strata/pkg/ports"
	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/storage"
)

// Kernel is the high-level entry point for the strata library.
// It binds items to workflows, fires transitions and keeps every write of
// one request under a single transaction key.
type Kernel struct {
	storage  *storage.Manager
	machines *statemachine.Registry
	schemas  *outcome.Registry
	loader   ports.DescriptionLoader
	locks    *itemlock.Manager
	notifier ports.EventNotifier
	hooks    domain.LifecycleHooks
	lookup   config.Lookup

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	pending map[domain.TransactionKey][]domain.Event
	claims  map[domain.ItemID]domain.TransactionKey
	claimed map[domain.TransactionKey][]domain.ItemID
}

// Option defines a functional option for configuring the Kernel.
type Option func(*Kernel)

// WithStorage sets the storage manager. Without it the kernel keeps everything in memory.
func WithStorage(m *storage.Manager) Option {
	return func(k *Kernel) {
		k.storage = m
	}
}

// WithMachines sets the state machine registry.
func WithMachines(r *statemachine.Registry) Option {
	return func(k *Kernel) {
		k.machines = r
	}
}

// WithSchemas sets the outcome schema registry.
func WithSchemas(r *outcome.Registry) Option {
	return func(k *Kernel) {
		k.schemas = r
	}
}

// WithLoader injects a description loader. Its state machines are
// registered when the kernel is created.
func WithLoader(l ports.DescriptionLoader) Option {
	return func(k *Kernel) {
		k.loader = l
	}
}

// WithLockManager shares an item lock manager, e.g. one backed by a distributed locker.
func WithLockManager(m *itemlock.Manager) Option {
	return func(k *Kernel) {
		k.locks = m
	}
}

// WithNotifier publishes committed events.
func WithNotifier(n ports.EventNotifier) Option {
	return func(k *Kernel) {
		k.notifier = n
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(k *Kernel) {
		k.hooks = hooks
	}
}

// WithConfig sets the lookup consulted for "item.<type>.workflow" bindings.
func WithConfig(l config.Lookup) Option {
	return func(k *Kernel) {
		k.lookup = l
	}
}

// WithLogger sets a custom structured logger for the kernel.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		k.logger = logger
	}
}

// WithTracer opens a span per kernel operation.
func WithTracer(t trace.Tracer) Option {
	return func(k *Kernel) {
		k.tracer = t
	}
}

// WithMetrics records transition outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(k *Kernel) {
		k.metrics = m
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(k *Kernel) {
		k.now = now
	}
}

// New initializes a kernel. When a loader is configured its state machines
// are compiled into the registry before New returns.
func New(ctx context.Context, opts ...Option) (*Kernel, error) {
	k := &Kernel{
		lookup:  config.Empty,
		logger:  logging.NewNop(),
		tracer:  observability.NopTracer(),
		now:     time.Now,
		pending: make(map[domain.TransactionKey][]domain.Event),
		claims:  make(map[domain.ItemID]domain.TransactionKey),
		claimed: make(map[domain.TransactionKey][]domain.ItemID),
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.machines == nil {
		k.machines = statemachine.NewRegistry()
	}
	if k.schemas == nil {
		k.schemas = outcome.NewRegistry()
	}
	if k.locks == nil {
		k.locks = itemlock.NewManager(itemlock.WithLogger(k.logger))
	}
	if k.storage == nil {
		m, err := storage.NewManager(
			storage.WithBackend("memory", memory.NewStore()),
			storage.WithLogger(k.logger),
			storage.WithMetrics(k.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build in-memory storage: %w", err)
		}
		k.storage = m
	}

	if k.loader != nil {
		defs, err := k.loader.StateMachines(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load state machines: %w", err)
		}
		for _, def := range defs {
			if _, err := k.machines.Define(def); err != nil {
				return nil, fmt.Errorf("state machine %s/%d: %w", def.Name, def.Version, err)
			}
		}
		k.logger.Debug("State machines loaded", slog.Int("count", len(defs)))
	}
	return k, nil
}

// Storage returns the storage manager.
func (k *Kernel) Storage() *storage.Manager { return k.storage }

// Machines returns the state machine registry.
func (k *Kernel) Machines() *statemachine.Registry { return k.machines }

// Schemas returns the outcome schema registry.
func (k *Kernel) Schemas() *outcome.Registry { return k.schemas }

// Open opens every storage backend.
func (k *Kernel) Open(ctx context.Context) error {
	return k.storage.Open(ctx)
}

// Close closes every storage backend.
func (k *Kernel) Close(ctx context.Context) error {
	return k.storage.Close(ctx)
}

func (k *Kernel) history(item domain.ItemID) *history.History {
	return history.New(item, k.storage, k.locks,
		history.WithClock(k.now),
		history.WithLogger(k.logger),
	)
}

func itemLockKey(item domain.ItemID) string {
	return "item/" + string(item)
}

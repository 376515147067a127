package strata

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/history"
	"github.com/aretw0/strata/pkg/observability"
	"github.com/aretw0/strata/pkg/outcome"
	"github.com/aretw0/strata/pkg/workflow"
)

// Request asks the kernel to fire a transition on one activity of an item.
type Request struct {
	Item         domain.ItemID
	Path         string // activity path, e.g. "Approval/Legal"
	TransitionID int
	Agent        domain.Agent

	// Outcome is the JSON document required by transitions that declare an outcome schema.
	Outcome []byte
	// ViewName, when set, points ViewPoint/<schema>/<view> at the new event.
	ViewName string
	// Attachment is stored opaque in the Collection cluster.
	Attachment []byte
}

// AttachmentPath returns the Collection cluster path of an event's attachment.
func AttachmentPath(eventID int) string {
	return domain.JoinPath("attachments", strconv.Itoa(eventID))
}

// ViewPointPath returns the ViewPoint cluster path of a named view on a schema.
func ViewPointPath(schema, view string) string {
	return domain.JoinPath(schema, view)
}

// RequestTransition validates and fires a transition, then records the
// event, its outcome, the viewpoint and the new workflow snapshot under one
// transaction key. With a zero key the kernel owns the key: it commits it on
// success and aborts it on any failure. Events are published after commit.
func (k *Kernel) RequestTransition(ctx context.Context, req Request, tk domain.TransactionKey) (ev domain.Event, err error) {
	ctx, span := observability.StartSpan(ctx, k.tracer, "strata.RequestTransition",
		attribute.String("item", string(req.Item)),
		attribute.String("path", req.Path),
		attribute.Int("transition", req.TransitionID),
	)
	machine := ""
	defer func() {
		k.metrics.ObserveTransition(machine, req.TransitionID, err)
		if err != nil {
			k.logger.Debug("Transition rejected", logging.Item(req.Item), logging.Path(req.Path), logging.Transition(req.TransitionID), logging.Error(err))
			if k.hooks.OnRejected != nil {
				k.hooks.OnRejected(ctx, req.Item, req.Path, err)
			}
		}
		observability.EndSpan(span, err)
	}()

	owned := tk.IsZero()
	err = k.locks.WithLock(ctx, itemLockKey(req.Item), func(ctx context.Context) error {
		return k.within(ctx, tk, func(tk domain.TransactionKey) error {
			if err := k.claim(req.Item, tk); err != nil {
				return err
			}
			wf, err := k.Workflow(ctx, req.Item, tk)
			if err != nil {
				return err
			}
			act, err := wf.Search(req.Path)
			if err != nil {
				return err
			}
			if sm := act.StateMachine(); sm != nil {
				machine = sm.Name()
			}

			rec, err := k.recorder(act, req, tk)
			if err != nil {
				return err
			}
			ev, err = act.RequestTransition(ctx, req.TransitionID, req.Agent, rec)
			if err != nil {
				return err
			}
			// The snapshot is taken once the activity has settled, outside the recorder.
			if err := k.saveSnapshot(ctx, wf, tk); err != nil {
				return err
			}
			k.addPending(tk, ev)
			return nil
		})
	})
	if err != nil {
		// The manager aborts a key on a failed write; nothing recorded under it may be published.
		if !owned && errors.Is(err, domain.ErrPersistency) {
			k.takePending(tk)
		}
		return domain.Event{}, err
	}

	k.logger.Info("Transition recorded",
		logging.Item(ev.ItemID),
		logging.Path(ev.StepPath),
		logging.Transition(ev.TransitionID),
		logging.EventID(ev.ID),
		"committed", owned,
	)
	return ev, nil
}

// noRecord backs requests the activity rejects before recording.
var noRecord = workflow.RecorderFunc(func(context.Context, workflow.Change) (domain.Event, error) {
	return domain.Event{}, domain.ErrInvalidTransition
})

// recorder validates the request payload against the transition and returns
// the recorder persisting it. Nothing is written before validation passes.
func (k *Kernel) recorder(act *workflow.Activity, req Request, tk domain.TransactionKey) (workflow.Recorder, error) {
	sm := act.StateMachine()
	if sm == nil {
		return noRecord, nil
	}
	// Illegal transitions are left to the activity, which reports them with its path.
	t, err := sm.Fire(act.CurrentState(), req.TransitionID)
	if err != nil {
		return noRecord, nil
	}

	var schema *outcome.Schema
	switch {
	case t.OutcomeSchema != nil:
		if len(req.Outcome) == 0 {
			return nil, fmt.Errorf("%w: transition %q requires a %s outcome", domain.ErrInvalidData, t.Name, t.OutcomeSchema)
		}
		s, err := k.schemas.Validate(t.OutcomeSchema.Name, t.OutcomeSchema.Version, req.Outcome)
		if err != nil {
			return nil, err
		}
		schema = s
	case len(req.Outcome) > 0:
		return nil, fmt.Errorf("%w: transition %q takes no outcome", domain.ErrInvalidData, t.Name)
	}
	if req.ViewName != "" && schema == nil {
		return nil, fmt.Errorf("%w: view %q needs an outcome", domain.ErrInvalidData, req.ViewName)
	}

	h := k.history(req.Item)
	return workflow.RecorderFunc(func(ctx context.Context, c workflow.Change) (domain.Event, error) {
		entry := history.Entry{
			Agent:               c.Agent,
			StepName:            c.Activity.Name(),
			StepPath:            c.Activity.Path(),
			StepType:            c.Activity.Kind().String(),
			StateMachineName:    sm.Name(),
			StateMachineVersion: sm.Version(),
			TransitionID:        c.Transition.ID,
			OriginState:         c.Origin,
			TargetState:         c.Transition.To,
			ViewName:            req.ViewName,
			HasAttachment:       len(req.Attachment) > 0,
		}
		if schema != nil {
			entry.SchemaName, entry.SchemaVersion = schema.Name, schema.Version
		}

		ev, err := h.AddEvent(ctx, entry, tk)
		if err != nil {
			return domain.Event{}, err
		}
		if schema != nil {
			if err := k.storage.Put(ctx, req.Item, domain.ClusterOutcome, outcome.Path(schema.Name, schema.Version, ev.ID), req.Outcome, tk); err != nil {
				return domain.Event{}, err
			}
			if req.ViewName != "" {
				if err := k.storage.Put(ctx, req.Item, domain.ClusterViewPoint, ViewPointPath(schema.Name, req.ViewName), []byte(strconv.Itoa(ev.ID)), tk); err != nil {
					return domain.Event{}, err
				}
			}
		}
		if len(req.Attachment) > 0 {
			if err := k.storage.Put(ctx, req.Item, domain.ClusterCollection, AttachmentPath(ev.ID), req.Attachment, tk); err != nil {
				return domain.Event{}, err
			}
		}
		return ev, nil
	}), nil
}

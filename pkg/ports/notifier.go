package ports

import (
	"context"

	"github.com/aretw0/strata/pkg/domain"
)

// EventNotifier publishes committed events to interested parties.
// Notification happens after commit; a failure never undoes the transition.
type EventNotifier interface {
	Notify(ctx context.Context, event domain.Event) error
}

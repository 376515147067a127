// Package watermill publishes committed transition events over a watermill Publisher.
package watermill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/pkg/domain"
)

// DefaultTopic receives every event unless the notifier is configured otherwise.
const DefaultTopic = "strata.events"

// Metadata keys set on each message.
const (
	MetadataItemID     = "item_id"
	MetadataEventID    = "event_id"
	MetadataTransition = "transition"
)

// Notifier implements ports.EventNotifier.
type Notifier struct {
	publisher message.Publisher
	topic     string
}

// Option configures the Notifier.
type Option func(*Notifier)

// WithTopic overrides the topic events are published to.
func WithTopic(topic string) Option {
	return func(n *Notifier) {
		if topic != "" {
			n.topic = topic
		}
	}
}

// NewNotifier creates a notifier over any watermill publisher.
func NewNotifier(pub message.Publisher, opts ...Option) *Notifier {
	n := &Notifier{
		publisher: pub,
		topic:     DefaultTopic,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Topic returns the topic events are published to.
func (n *Notifier) Topic() string {
	return n.topic
}

// Notify publishes the event as a JSON message.
func (n *Notifier) Notify(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage("evt-"+watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataItemID, string(event.ItemID))
	msg.Metadata.Set(MetadataEventID, strconv.Itoa(event.ID))
	msg.Metadata.Set(MetadataTransition, fmt.Sprintf("%s/%d", event.StateMachineName, event.TransitionID))

	if err := n.publisher.Publish(n.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event %d of %s: %w", event.ID, event.ItemID, err)
	}
	return nil
}

// Decode reads an event back from a message published by Notify.
func Decode(msg *message.Message) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return domain.Event{}, fmt.Errorf("%w: event message %s: %v", domain.ErrInvalidData, msg.UUID, err)
	}
	return event, nil
}

// NewGoChannel creates an in-process pub/sub suitable for a single binary or tests.
// It implements both message.Publisher and message.Subscriber.
func NewGoChannel(logger *slog.Logger) *gochannel.GoChannel {
	if logger == nil {
		logger = logging.NewNop()
	}
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
}

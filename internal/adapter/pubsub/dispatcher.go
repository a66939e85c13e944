package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/service"
)

// MetadataRoutingKey carries the event kind next to the payload.
const MetadataRoutingKey = "routing_key"

var ErrNilEvent = errors.New("event dispatcher: cannot publish nil event")

// EventDispatcher defines the high-level contract for outgoing events.
// This allows the services to stay agnostic of the transport implementation.
type EventDispatcher interface {
	service.SessionPublisher
	Publisher() message.Publisher
}

var _ EventDispatcher = (*eventDispatcher)(nil)

type eventDispatcher struct {
	publisher message.Publisher
	topic     string
}

// NewEventDispatcher publishes every event to one topic; consumers filter by
// the routing key in the message metadata.
func NewEventDispatcher(pub message.Publisher, topic string) EventDispatcher {
	return &eventDispatcher{
		publisher: pub,
		topic:     topic,
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev model.OutboundEventer) error {
	if ev == nil {
		return ErrNilEvent
	}

	payload, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataRoutingKey, ev.GetRoutingKey())
	msg.SetContext(ctx)

	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", d.topic, err)
	}

	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}

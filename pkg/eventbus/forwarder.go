package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/procflow/pkg/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Forwarder relays bus events as JSON messages to a watermill publisher.
type Forwarder struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

// NewForwarder creates a forwarder. An empty topic defaults to events.Topic.
func NewForwarder(publisher message.Publisher, topic string, logger *slog.Logger) *Forwarder {
	if topic == "" {
		topic = events.Topic
	}

	return &Forwarder{
		publisher: publisher,
		topic:     topic,
		logger:    logger.With("module", "event_forwarder", "topic", topic),
	}
}

// Attach subscribes the forwarder to bus.
func (f *Forwarder) Attach(bus *Bus) Unsubscribe {
	return bus.Subscribe(f.Handle)
}

// Handle publishes one event. The trace context of ctx travels in the message metadata.
func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, event.Key())
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		msg.Metadata.Set(k, v)
	}

	if err := f.publisher.Publish(f.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}

	f.logger.DebugContext(ctx, "Event relayed", "event_type", event.Type, "instance_id", event.InstanceID)

	return nil
}

func (f *Forwarder) Close() error {
	return f.publisher.Close()
}

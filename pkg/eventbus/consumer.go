package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Consumer decodes relayed events from a watermill subscriber and dispatches
// them by type. Handler failures nack the message; undecodable messages are
// acked and dropped.
type Consumer struct {
	subscriber message.Subscriber
	topic      string
	logger     *slog.Logger
	tracer     trace.Tracer

	mu       sync.RWMutex
	handlers map[events.EventType]Handler
	fallback Handler
}

// NewConsumer creates a consumer. A nil tracer records nothing.
func NewConsumer(subscriber message.Subscriber, topic string, logger *slog.Logger, tracer trace.Tracer) *Consumer {
	if topic == "" {
		topic = events.Topic
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Consumer{
		subscriber: subscriber,
		topic:      topic,
		logger:     logger.With("module", "event_consumer", "topic", topic),
		tracer:     tracer,
		handlers:   make(map[events.EventType]Handler),
	}
}

// Handle routes events of eventType to handler.
func (c *Consumer) Handle(eventType events.EventType, handler Handler) error {
	if !eventType.Valid() {
		return fmt.Errorf("unknown event type '%s'", eventType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[eventType] = handler

	return nil
}

// HandleAll receives every event without a type specific handler.
func (c *Consumer) HandleAll(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fallback = handler
}

// Subscribe starts consuming in the background until ctx is done or the subscriber closes.
func (c *Consumer) Subscribe(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}

	go func() {
		for msg := range messages {
			c.consume(ctx, msg)
		}

		c.logger.InfoContext(ctx, "Event consumer stopped")
	}()

	return nil
}

func (c *Consumer) consume(ctx context.Context, msg *message.Message) {
	carrier := propagation.MapCarrier{}
	for k, v := range msg.Metadata {
		carrier[k] = v
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	traceCtx, span := otelhelper.StartSpan(msgCtx, c.tracer, "procflow.consumer consume",
		attribute.String(otelhelper.EventTypeKey, string(eventType)),
		attribute.String(otelhelper.InstanceIDKey, msg.Metadata.Get(events.EventMetadataKey)),
	)
	defer span.End()

	handler := c.handlerFor(eventType)
	if handler == nil {
		msg.Ack()

		return
	}

	var event events.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.ErrorContext(traceCtx, "Dropping undecodable event", "message_uuid", msg.UUID, "error", err)
		otelhelper.SetError(span, err)
		msg.Ack()

		return
	}

	if err := deliver(traceCtx, handler, event); err != nil {
		c.logger.ErrorContext(traceCtx, "Event handler failed", "event_type", event.Type, "event_id", event.ID, "error", err)
		otelhelper.SetError(span, err, attribute.String(otelhelper.EventIDKey, event.ID))
		msg.Nack()

		return
	}

	msg.Ack()
}

func (c *Consumer) handlerFor(eventType events.EventType) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if handler, ok := c.handlers[eventType]; ok {
		return handler
	}

	return c.fallback
}

func (c *Consumer) Close() error {
	err := c.subscriber.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// Package eventbus fans workflow lifecycle events out to subscribers and relays
// them to a watermill topic.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/procflow/pkg/events"
)

// Handler receives lifecycle events.
type Handler func(ctx context.Context, event events.Event) error

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// HandlerError reports a failed or panicking subscriber.
type HandlerError struct {
	SubscriptionID uint64
	EventType      events.EventType
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("subscriber %d failed on %s: %v", e.SubscriptionID, e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously to every subscriber in subscription order.
type Bus struct {
	mu          sync.RWMutex
	logger      *slog.Logger
	next        uint64
	subscribers []subscription
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger.With("module", "event_bus")}
}

// Subscribe registers handler for every event type.
func (b *Bus) Subscribe(handler Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subscribers = append(b.subscribers, subscription{id: id, handler: handler})

	var once sync.Once

	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.id == id {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)

			return
		}
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}

// Publish delivers event to every subscriber. A failing subscriber never stops
// delivery to the others; each failure is logged and returned.
func (b *Bus) Publish(ctx context.Context, event events.Event) []error {
	b.mu.RLock()
	subscribers := make([]subscription, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	var failures []error

	for _, sub := range subscribers {
		if err := deliver(ctx, sub.handler, event); err != nil {
			failure := &HandlerError{SubscriptionID: sub.id, EventType: event.Type, Err: err}
			failures = append(failures, failure)

			b.logger.WarnContext(ctx, "Event subscriber failed",
				"subscription_id", sub.id,
				"event_type", event.Type,
				"instance_id", event.InstanceID,
				"error", err,
			)
		}
	}

	return failures
}

func deliver(ctx context.Context, handler Handler, event events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return handler(ctx, event)
}
